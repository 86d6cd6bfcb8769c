package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Sentinel errors. Every failure is fatal to the run; callers classify with
// errors.Is.
var (
	// ErrOversizedNode is returned when a node needs more words than the
	// configured node size.
	ErrOversizedNode = errors.New("node exceeds node size")

	// ErrOutOfMemory is returned when the free list is still empty after a
	// collection.
	ErrOutOfMemory = errors.New("heap exhausted")

	// ErrUnassigned is returned when a hoisted binding is read before its
	// declaration has executed.
	ErrUnassigned = errors.New("access of unassigned variable")

	// ErrMutexMisuse is returned when unlocking a mutex that is not locked,
	// or locking something that is not a mutex.
	ErrMutexMisuse = errors.New("mutex misuse")

	ErrRuntime    = errors.New("runtime error")
	ErrGuestError = errors.New("program error")
	ErrDeadlock   = errors.New("all goroutines are asleep - deadlock")
	ErrStepLimit  = errors.New("step limit exceeded")
)

// RuntimeError describes a fatal failure during execution.
type RuntimeError struct {
	Err    error
	Thread int
	PC     int
	Op     Opcode
	Detail string
}

func (e *RuntimeError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("%s (goroutine %d, pc %d %s)", msg, e.Thread, e.PC, e.Op)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// fail builds a RuntimeError positioned at the current instruction.
func (m *Machine) fail(err error, format string, args ...interface{}) error {
	re := &RuntimeError{Err: err}
	if format != "" {
		re.Detail = fmt.Sprintf(format, args...)
	}
	if t := m.cur; t != nil {
		re.Thread = t.ID
		re.PC = t.PC
		if m.prog != nil && t.PC >= 0 && t.PC < len(m.prog.Instrs) {
			re.Op = m.prog.Instrs[t.PC].Op
		}
	}
	return re
}

// wrapAlloc positions a heap error (oversized node, out of memory) at the
// current instruction.
func (m *Machine) wrapAlloc(err error) error {
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return m.fail(err, "")
}
