package vm

// ---------------------------------------------------------------------------
// Threads and the round-robin ready queue
// ---------------------------------------------------------------------------

// Thread is the register bundle of one goroutine.
type Thread struct {
	ID  int
	OS  []Address // operand stack
	PC  int
	E   Address   // environment register
	RTS []Address // return-address stack (Callframes and Blockframes)

	// pending is set while the thread is blocked in a send.
	pending *pendingSend
	// sleep is the tri-state sleep counter: 0 idle, 1 wake, >1 sleeping.
	sleep int
	main  bool
}

type pendingSend struct {
	channel int
	value   Address
}

func (m *Machine) newThread(pc int, env Address) *Thread {
	t := &Thread{ID: m.nextTID, PC: pc, E: env}
	m.nextTID++
	m.stats.Goroutines++
	n := len(m.ready) + 1
	if m.cur != nil {
		n++
	}
	if n > m.stats.PeakThreads {
		m.stats.PeakThreads = n
	}
	return t
}

// step executes one instruction and applies quantum preemption.
func (m *Machine) step() error {
	t := m.cur
	if t.PC < 0 || t.PC >= len(m.prog.Instrs) {
		return m.fail(ErrRuntime, "pc %d outside program", t.PC)
	}

	stalled := m.stalled
	m.switched = false
	if err := m.exec(m.prog.Instrs[t.PC]); err != nil {
		return err
	}
	m.steps++
	if m.stalled == stalled {
		m.stalled = 0
	}
	if m.switched || m.done {
		return nil
	}
	m.slice++
	if m.slice >= m.cfg.Quantum {
		m.requeue()
	}
	return nil
}

// requeue moves the running thread to the back of the ready queue and
// resumes the front one.
func (m *Machine) requeue() {
	m.ready = append(m.ready, m.cur)
	m.resumeNext()
}

// resumeNext makes the front of the ready queue the running thread.
func (m *Machine) resumeNext() {
	m.cur = m.ready[0]
	m.ready[0] = nil
	m.ready = m.ready[1:]
	m.slice = 0
	m.switched = true
	m.stats.Switches++
}

// block suspends the running thread at its current instruction, which is
// retried when the thread next runs. Consecutive blocks without progress
// feed deadlock detection.
func (m *Machine) block() {
	m.stalled++
	m.requeue()
}

// yield suspends the running thread without counting as a stall.
func (m *Machine) yield() {
	m.requeue()
}

// spawn enqueues a new goroutine starting at pc in env.
func (m *Machine) spawn(pc int, env Address) *Thread {
	t := m.newThread(pc, env)
	m.ready = append(m.ready, t)
	log.Debugf("goroutine %d spawned by %d at pc %d", t.ID, m.cur.ID, pc)
	return t
}

// exit drops the running goroutine and resumes the next one.
func (m *Machine) exit() {
	log.Debugf("goroutine %d exited", m.cur.ID)
	if len(m.ready) == 0 {
		m.done = true
		return
	}
	m.resumeNext()
}

// ---------------------------------------------------------------------------
// Channels: unbuffered rendezvous between a pending sender and a receiver
// ---------------------------------------------------------------------------

// send records the pending value and blocks. The value and channel stay on
// the sender's operand stack, so they remain rooted until a receiver takes
// them.
func (m *Machine) send(channel int, value Address) {
	m.cur.pending = &pendingSend{channel: channel, value: value}
	m.block()
}

// receive scans the ready queue front to back and takes the first pending
// send on channel. The matched sender's saved context is completed as if
// its SEND had run: channel and value popped, undefined pushed, pc advanced.
func (m *Machine) receive(channel int) (Address, bool) {
	for _, t := range m.ready {
		if t.pending == nil || t.pending.channel != channel {
			continue
		}
		v := t.pending.value
		t.pending = nil
		t.OS = append(t.OS[:len(t.OS)-2], m.undefinedAddr)
		t.PC++
		return v, true
	}
	return NilAddress, false
}
