package vm

// ---------------------------------------------------------------------------
// Mutexes: a global id -> locked table with no ownership or wait queue
// ---------------------------------------------------------------------------

func (m *Machine) mutexID(v Address) (int, error) {
	if !m.isNumber(v) {
		return 0, m.fail(ErrMutexMisuse, "%s is not a mutex", m.display(v))
	}
	f := m.number(v)
	if _, ok := m.mutexes[int(f)]; !ok || !isIntegral(f) {
		return 0, m.fail(ErrMutexMisuse, "unknown mutex %s", formatNumber(f))
	}
	return int(f), nil
}

// lock takes the mutex or blocks; a blocked locker retries on its next
// turn and competes with everyone else.
func (m *Machine) lock(v Address) (Address, bool, error) {
	id, err := m.mutexID(v)
	if err != nil {
		return NilAddress, false, err
	}
	if m.mutexes[id] {
		m.block()
		return NilAddress, true, nil
	}
	m.mutexes[id] = true
	return m.undefinedAddr, false, nil
}

func (m *Machine) unlock(v Address) (Address, bool, error) {
	id, err := m.mutexID(v)
	if err != nil {
		return NilAddress, false, err
	}
	if !m.mutexes[id] {
		return NilAddress, false, m.fail(ErrMutexMisuse, "unlock of unlocked mutex %d", id)
	}
	m.mutexes[id] = false
	return m.undefinedAddr, false, nil
}
