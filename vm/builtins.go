package vm

import (
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Builtins (frame 0) and constants (frame 1)
// ---------------------------------------------------------------------------

// Builtin ids, in frame order.
const (
	builtinPrintln = iota
	builtinSleep
	builtinError
	builtinIsNull
	builtinLock
	builtinUnlock
	builtinPair
	builtinHead
	builtinTail
	builtinIsPair
)

var builtinNames = []string{
	builtinPrintln: "println",
	builtinSleep:   "sleep",
	builtinError:   "error",
	builtinIsNull:  "is_null",
	builtinLock:    "Lock",
	builtinUnlock:  "Unlock",
	builtinPair:    "pair",
	builtinHead:    "head",
	builtinTail:    "tail",
	builtinIsPair:  "is_pair",
}

// builtinArity is -1 for variadic builtins.
var builtinArity = []int{
	builtinPrintln: -1,
	builtinSleep:   1,
	builtinError:   -1,
	builtinIsNull:  1,
	builtinLock:    1,
	builtinUnlock:  1,
	builtinPair:    2,
	builtinHead:    1,
	builtinTail:    1,
	builtinIsPair:  1,
}

var constants = []struct {
	name  string
	value Literal
}{
	{"undefined", Literal{Kind: LitUndefined}},
	{"math_E", Literal{Kind: LitNumber, Num: math.E}},
	{"math_LN10", Literal{Kind: LitNumber, Num: math.Ln10}},
	{"math_LN2", Literal{Kind: LitNumber, Num: math.Ln2}},
	{"math_LOG10E", Literal{Kind: LitNumber, Num: math.Log10E}},
	{"math_LOG2E", Literal{Kind: LitNumber, Num: math.Log2E}},
	{"math_PI", Literal{Kind: LitNumber, Num: math.Pi}},
	{"math_SQRT1_2", Literal{Kind: LitNumber, Num: 1 / math.Sqrt2}},
	{"math_SQRT2", Literal{Kind: LitNumber, Num: math.Sqrt2}},
	{"time.Millisecond", Literal{Kind: LitNumber, Num: 1}},
	{"time.Second", Literal{Kind: LitNumber, Num: 1000}},
}

// BuiltinNames returns the names bound in the builtin frame, in slot order.
func BuiltinNames() []string {
	return append([]string(nil), builtinNames...)
}

// ConstantNames returns the names bound in the constant frame, in slot order.
func ConstantNames() []string {
	names := make([]string, len(constants))
	for i, c := range constants {
		names[i] = c.name
	}
	return names
}

// callBuiltin runs builtin id on args (which are still on the operand
// stack). A blocked builtin has already switched threads; the caller leaves
// the stack and pc untouched so the CALL is retried.
func (m *Machine) callBuiltin(id int, args []Address) (result Address, blocked bool, err error) {
	if id < 0 || id >= len(builtinNames) {
		return NilAddress, false, m.fail(ErrRuntime, "unknown builtin %d", id)
	}
	if want := builtinArity[id]; want >= 0 && want != len(args) {
		return NilAddress, false, m.fail(ErrRuntime, "%s takes %d arguments, called with %d",
			builtinNames[id], want, len(args))
	}

	switch id {
	case builtinPrintln:
		m.print(m.joinDisplay(args))
		return m.undefinedAddr, false, nil

	case builtinSleep:
		return m.sleep(args[0])

	case builtinError:
		return NilAddress, false, m.fail(ErrGuestError, "%s", m.joinDisplay(args))

	case builtinIsNull:
		return m.boolean(args[0] == m.nullAddr), false, nil

	case builtinLock:
		return m.lock(args[0])

	case builtinUnlock:
		return m.unlock(args[0])

	case builtinPair:
		p, err := m.allocate(TagPair, 3)
		if err != nil {
			return NilAddress, false, err
		}
		m.heap.SetChild(p, 0, args[0])
		m.heap.SetChild(p, 1, args[1])
		return p, false, nil

	case builtinHead, builtinTail:
		if m.heap.Tag(args[0]) != TagPair {
			return NilAddress, false, m.fail(ErrRuntime, "%s of non-pair %s", builtinNames[id], m.display(args[0]))
		}
		return m.heap.Child(args[0], id-builtinHead), false, nil

	case builtinIsPair:
		return m.boolean(m.heap.Tag(args[0]) == TagPair), false, nil
	}
	return NilAddress, false, m.fail(ErrRuntime, "unknown builtin %d", id)
}

func (m *Machine) joinDisplay(args []Address) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = m.display(a)
	}
	return strings.Join(parts, " ")
}

func (m *Machine) print(line string) {
	m.output = append(m.output, line)
	if m.cfg.OnOutput != nil {
		m.cfg.OnOutput(line)
	}
}

// sleep counts scheduler turns. The first call arms the counter and
// blocks; each retry decrements it; the retry that finds 1 returns.
func (m *Machine) sleep(arg Address) (Address, bool, error) {
	if !m.isNumber(arg) {
		return NilAddress, false, m.fail(ErrRuntime, "sleep of %s", m.display(arg))
	}
	t := m.cur
	n := int(m.number(arg))
	switch {
	case n <= 0:
		return m.undefinedAddr, false, nil
	case t.sleep == 0:
		t.sleep = n
	case t.sleep == 1:
		t.sleep = 0
		return m.undefinedAddr, false, nil
	default:
		t.sleep--
	}
	m.yield()
	return NilAddress, true, nil
}
