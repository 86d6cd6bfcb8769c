package vm

import (
	"math"
)

// ---------------------------------------------------------------------------
// Interpreter: one handler per opcode
// ---------------------------------------------------------------------------

func (m *Machine) push(a Address) {
	m.cur.OS = append(m.cur.OS, a)
}

func (m *Machine) pop() Address {
	os := m.cur.OS
	a := os[len(os)-1]
	m.cur.OS = os[:len(os)-1]
	return a
}

func (m *Machine) peek(depth int) Address {
	os := m.cur.OS
	return os[len(os)-1-depth]
}

// exec dispatches one instruction. Handlers that do not block or jump
// advance the pc themselves.
func (m *Machine) exec(in Instruction) error {
	t := m.cur
	if info, _ := in.Op.Info(); len(t.OS) < info.StackPop {
		return m.fail(ErrRuntime, "%s needs %d operands, stack holds %d", in.Op, info.StackPop, len(t.OS))
	}
	switch in.Op {
	case OpLoadConst:
		v, err := m.literal(in.Lit)
		if err != nil {
			return err
		}
		m.push(v)
		t.PC++

	case OpUnary:
		if err := m.unary(in.Sym); err != nil {
			return err
		}
		t.PC++

	case OpBinary:
		if err := m.binary(in.Sym); err != nil {
			return err
		}
		t.PC++

	case OpPop:
		m.pop()
		t.PC++

	case OpJumpFalse:
		v := m.pop()
		if !m.isBool(v) {
			return m.fail(ErrRuntime, "non-boolean condition %s", m.display(v))
		}
		if v == m.falseAddr {
			t.PC = in.Addr
		} else {
			t.PC++
		}

	case OpGoto:
		t.PC = in.Addr

	case OpEnterScope:
		return m.enterScope(in.Num)

	case OpExitScope:
		if len(t.RTS) == 0 {
			return m.fail(ErrRuntime, "exit scope with empty return stack")
		}
		bf := t.RTS[len(t.RTS)-1]
		if m.heap.Tag(bf) != TagBlockframe {
			return m.fail(ErrRuntime, "exit scope found %s", m.heap.Tag(bf))
		}
		t.RTS = t.RTS[:len(t.RTS)-1]
		t.E = m.heap.Child(bf, 0)
		t.PC++

	case OpLoad:
		frame, err := m.frameFor(t.E, in.Pos)
		if err != nil {
			return err
		}
		v := m.heap.Child(frame, in.Pos.Slot)
		if v == m.unassignedAddr {
			return m.fail(ErrUnassigned, "%s", in.Sym)
		}
		m.push(v)
		t.PC++

	case OpAssign:
		frame, err := m.frameFor(t.E, in.Pos)
		if err != nil {
			return err
		}
		m.heap.SetChild(frame, in.Pos.Slot, m.peek(0))
		t.PC++

	case OpLoadFunc:
		c, err := m.allocate(TagClosure, 2)
		if err != nil {
			return err
		}
		m.heap.SetByte(c, arityByte, byte(in.Arity))
		m.heap.SetUint16(c, pcField, uint16(in.Addr))
		m.heap.SetChild(c, 0, t.E)
		m.push(c)
		t.PC++

	case OpCall:
		return m.call(in.Arity)

	case OpReset:
		return m.ret()

	case OpSpawn:
		return m.goCall(in.Arity)

	case OpEndGo:
		t.PC++
		m.yield()

	case OpChannel:
		id := m.channels
		m.channels++
		return m.bindID(id, in.Pos)

	case OpMutex:
		id := len(m.mutexes)
		m.mutexes[id] = false
		return m.bindID(id, in.Pos)

	case OpSend:
		ch, err := m.channelID(m.peek(1))
		if err != nil {
			return err
		}
		m.send(ch, m.peek(0))

	case OpRecv:
		ch, err := m.channelID(m.peek(0))
		if err != nil {
			return err
		}
		v, ok := m.receive(ch)
		if !ok {
			m.block()
			return nil
		}
		t.OS[len(t.OS)-1] = v
		t.PC++

	case OpDone:
		if !t.main {
			return m.fail(ErrRuntime, "DONE outside main goroutine")
		}
		if len(t.OS) > 0 {
			m.result = m.peek(0)
		}
		m.done = true

	default:
		return m.fail(ErrRuntime, "unknown opcode %s", in.Op)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Environments
// ---------------------------------------------------------------------------

// frameFor returns the frame pos names in env, checking pos against the
// shape of the environment.
func (m *Machine) frameFor(env Address, pos Pos) (Address, error) {
	if n := m.heap.NumChildren(env); pos.Frame < 0 || pos.Frame >= n {
		return NilAddress, m.fail(ErrRuntime, "frame %d outside an environment of %d", pos.Frame, n)
	}
	frame := m.heap.Child(env, pos.Frame)
	if n := m.heap.NumChildren(frame); pos.Slot < 0 || pos.Slot >= n {
		return NilAddress, m.fail(ErrRuntime, "slot %d outside a frame of %d", pos.Slot, n)
	}
	return frame, nil
}

// extend returns a new environment holding env's frames plus frame.
// Environments are never mutated after construction, so closures can share
// them.
func (m *Machine) extend(frame, env Address) (Address, error) {
	mark := m.pin(frame, env)
	n := m.heap.NumChildren(env)
	ext, err := m.allocate(TagEnvironment, n+2)
	m.unpin(mark)
	if err != nil {
		return NilAddress, err
	}
	for i := 0; i < n; i++ {
		m.heap.SetChild(ext, i, m.heap.Child(env, i))
	}
	m.heap.SetChild(ext, n, frame)
	return ext, nil
}

func (m *Machine) enterScope(slots int) error {
	t := m.cur
	bf, err := m.allocate(TagBlockframe, 2)
	if err != nil {
		return err
	}
	m.heap.SetChild(bf, 0, t.E)
	t.RTS = append(t.RTS, bf)

	frame, err := m.allocate(TagFrame, slots+1)
	if err != nil {
		return err
	}
	for i := 0; i < slots; i++ {
		m.heap.SetChild(frame, i, m.unassignedAddr)
	}
	env, err := m.extend(frame, t.E)
	if err != nil {
		return err
	}
	t.E = env
	t.PC++
	return nil
}

// newFrame allocates a frame holding the top argc operands. The operands
// stay on the stack (and rooted) until the caller pops them.
func (m *Machine) newFrame(argc int) (Address, error) {
	frame, err := m.allocate(TagFrame, argc+1)
	if err != nil {
		return NilAddress, err
	}
	os := m.cur.OS
	for i := 0; i < argc; i++ {
		m.heap.SetChild(frame, i, os[len(os)-argc+i])
	}
	return frame, nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (m *Machine) call(argc int) error {
	t := m.cur
	if len(t.OS) < argc+1 {
		return m.fail(ErrRuntime, "call with %d arguments on a stack of %d", argc, len(t.OS))
	}
	fun := m.peek(argc)

	switch m.heap.Tag(fun) {
	case TagBuiltin:
		args := append([]Address(nil), t.OS[len(t.OS)-argc:]...)
		result, blocked, err := m.callBuiltin(int(m.heap.Byte(fun, idByte)), args)
		if err != nil {
			return err
		}
		if blocked {
			return nil
		}
		// A builtin may have triggered a switch only when blocked.
		t.OS = append(t.OS[:len(t.OS)-argc-1], result)
		t.PC++
		return nil

	case TagClosure:
		if arity := int(m.heap.Byte(fun, arityByte)); arity != argc {
			return m.fail(ErrRuntime, "function takes %d arguments, called with %d", arity, argc)
		}
		frame, err := m.newFrame(argc)
		if err != nil {
			return err
		}
		mark := m.pin(frame)
		defer m.unpin(mark)
		t.OS = t.OS[:len(t.OS)-argc]

		cf, err := m.allocate(TagCallframe, 2)
		if err != nil {
			return err
		}
		m.heap.SetUint16(cf, pcField, uint16(t.PC+1))
		m.heap.SetChild(cf, 0, t.E)
		t.RTS = append(t.RTS, cf)

		env, err := m.extend(frame, m.heap.Child(fun, 0))
		if err != nil {
			return err
		}
		m.pop()
		t.E = env
		t.PC = int(m.heap.Uint16(fun, pcField))
		return nil
	}
	return m.fail(ErrRuntime, "call of non-function %s", m.display(fun))
}

// ret unwinds the return stack to the nearest Callframe, leaving the
// return value on the operand stack. A goroutine with no Callframe left
// has returned from its function and exits.
func (m *Machine) ret() error {
	t := m.cur
	for len(t.RTS) > 0 {
		top := t.RTS[len(t.RTS)-1]
		t.RTS = t.RTS[:len(t.RTS)-1]
		if m.heap.Tag(top) == TagCallframe {
			t.PC = int(m.heap.Uint16(top, pcField))
			t.E = m.heap.Child(top, 0)
			return nil
		}
	}
	if t.main {
		if len(t.OS) > 0 {
			m.result = m.peek(0)
		}
		m.done = true
		return nil
	}
	m.exit()
	return nil
}

// goCall starts fun(args) on a new goroutine and leaves undefined as the
// statement's value. The following ENDGO hands control over.
func (m *Machine) goCall(argc int) error {
	t := m.cur
	if len(t.OS) < argc+1 {
		return m.fail(ErrRuntime, "go with %d arguments on a stack of %d", argc, len(t.OS))
	}
	fun := m.peek(argc)
	if m.heap.Tag(fun) != TagClosure {
		return m.fail(ErrRuntime, "go statement needs a function, got %s", m.display(fun))
	}
	if arity := int(m.heap.Byte(fun, arityByte)); arity != argc {
		return m.fail(ErrRuntime, "function takes %d arguments, called with %d", arity, argc)
	}
	frame, err := m.newFrame(argc)
	if err != nil {
		return err
	}
	mark := m.pin(frame)
	env, err := m.extend(frame, m.heap.Child(fun, 0))
	m.unpin(mark)
	if err != nil {
		return err
	}
	m.spawn(int(m.heap.Uint16(fun, pcField)), env)

	t.OS = append(t.OS[:len(t.OS)-argc-1], m.undefinedAddr)
	t.PC++
	return nil
}

// bindID boxes a channel or mutex id, stores it when pos is bound, and
// pushes it.
func (m *Machine) bindID(id int, pos Pos) error {
	var frame Address
	if pos.IsBound() {
		var err error
		if frame, err = m.frameFor(m.cur.E, pos); err != nil {
			return err
		}
	}
	v, err := m.newNumber(float64(id))
	if err != nil {
		return err
	}
	if pos.IsBound() {
		m.heap.SetChild(frame, pos.Slot, v)
	}
	m.push(v)
	m.cur.PC++
	return nil
}

func (m *Machine) channelID(v Address) (int, error) {
	if !m.isNumber(v) {
		return 0, m.fail(ErrRuntime, "%s is not a channel", m.display(v))
	}
	id := m.number(v)
	if !isIntegral(id) || id < 0 || int(id) >= m.channels {
		return 0, m.fail(ErrRuntime, "unknown channel %s", formatNumber(id))
	}
	return int(id), nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (m *Machine) unary(op string) error {
	x := m.pop()
	switch op {
	case "-", "+":
		if !m.isNumber(x) {
			return m.fail(ErrRuntime, "operator %s on %s", op, m.display(x))
		}
		f := m.number(x)
		if op == "-" {
			f = -f
		}
		v, err := m.newNumber(f)
		if err != nil {
			return err
		}
		m.push(v)
	case "!":
		if !m.isBool(x) {
			return m.fail(ErrRuntime, "operator ! on %s", m.display(x))
		}
		m.push(m.boolean(x == m.falseAddr))
	default:
		return m.fail(ErrRuntime, "unknown unary operator %s", op)
	}
	return nil
}

func (m *Machine) binary(op string) error {
	y := m.pop()
	x := m.pop()

	switch op {
	case "==":
		m.push(m.boolean(m.equal(x, y)))
		return nil
	case "!=":
		m.push(m.boolean(!m.equal(x, y)))
		return nil
	}

	if m.isString(x) && m.isString(y) {
		a, b := m.str(x), m.str(y)
		switch op {
		case "+":
			v, err := m.newString(a + b)
			if err != nil {
				return err
			}
			m.push(v)
		case "<":
			m.push(m.boolean(a < b))
		case "<=":
			m.push(m.boolean(a <= b))
		case ">":
			m.push(m.boolean(a > b))
		case ">=":
			m.push(m.boolean(a >= b))
		default:
			return m.fail(ErrRuntime, "operator %s on strings", op)
		}
		return nil
	}

	if !m.isNumber(x) || !m.isNumber(y) {
		return m.fail(ErrRuntime, "operator %s on %s and %s", op, m.display(x), m.display(y))
	}
	a, b := m.number(x), m.number(y)
	var f float64
	switch op {
	case "+":
		f = a + b
	case "-":
		f = a - b
	case "*":
		f = a * b
	case "/":
		if isIntegral(a) && isIntegral(b) {
			if b == 0 {
				return m.fail(ErrRuntime, "integer divide by zero")
			}
			f = math.Trunc(a / b)
		} else {
			f = a / b
		}
	case "%":
		if b == 0 {
			return m.fail(ErrRuntime, "integer divide by zero")
		}
		f = math.Mod(a, b)
	case "<":
		m.push(m.boolean(a < b))
		return nil
	case "<=":
		m.push(m.boolean(a <= b))
		return nil
	case ">":
		m.push(m.boolean(a > b))
		return nil
	case ">=":
		m.push(m.boolean(a >= b))
		return nil
	default:
		return m.fail(ErrRuntime, "unknown binary operator %s", op)
	}
	v, err := m.newNumber(f)
	if err != nil {
		return err
	}
	m.push(v)
	return nil
}
