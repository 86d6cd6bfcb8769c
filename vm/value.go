package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Tags
// ---------------------------------------------------------------------------

// Tag identifies the kind of a heap node (header byte 0).
type Tag byte

const (
	TagFalse       Tag = 0
	TagTrue        Tag = 1
	TagNumber      Tag = 2
	TagNull        Tag = 3
	TagUnassigned  Tag = 4
	TagUndefined   Tag = 5
	TagBlockframe  Tag = 6
	TagCallframe   Tag = 7
	TagClosure     Tag = 8
	TagFrame       Tag = 9
	TagEnvironment Tag = 10
	TagPair        Tag = 11
	TagBuiltin     Tag = 12
	TagString      Tag = 13

	// tagFree marks nodes on the free list.
	tagFree Tag = 0xFF
)

var tagNames = map[Tag]string{
	TagFalse:       "False",
	TagTrue:        "True",
	TagNumber:      "Number",
	TagNull:        "Null",
	TagUnassigned:  "Unassigned",
	TagUndefined:   "Undefined",
	TagBlockframe:  "Blockframe",
	TagCallframe:   "Callframe",
	TagClosure:     "Closure",
	TagFrame:       "Frame",
	TagEnvironment: "Environment",
	TagPair:        "Pair",
	TagBuiltin:     "Builtin",
	TagString:      "String",
	tagFree:        "Free",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", byte(t))
}

// Closure and callframe header fields.
const (
	arityByte = 1 // closure arity (byte)
	pcField   = 2 // u16 at bytes 2..3
	idByte    = 1 // builtin id (byte)
)

// Undefined is the native form of the undefined value.
type Undefined struct{}

func (Undefined) String() string { return "undefined" }

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// allocate wraps Heap.Allocate with the machine's error positioning.
func (m *Machine) allocate(tag Tag, size int) (Address, error) {
	a, err := m.heap.Allocate(tag, size)
	if err != nil {
		return NilAddress, m.wrapAlloc(err)
	}
	return a, nil
}

func (m *Machine) newNumber(f float64) (Address, error) {
	a, err := m.allocate(TagNumber, 2)
	if err != nil {
		return NilAddress, err
	}
	m.heap.SetFloat(a, 1, f)
	return a, nil
}

// newString allocates first and interns after, so a collection triggered by
// the allocation never sees a pool index without a node.
func (m *Machine) newString(s string) (Address, error) {
	a, err := m.allocate(TagString, 1)
	if err != nil {
		return NilAddress, err
	}
	m.heap.SetPayload(a, m.intern(s))
	return a, nil
}

func (m *Machine) intern(s string) uint32 {
	idx, ok := m.stringIndex[s]
	if !ok {
		idx = uint32(len(m.strings))
		m.strings = append(m.strings, s)
		m.stringIndex[s] = idx
	}
	return idx
}

func (m *Machine) boolean(b bool) Address {
	if b {
		return m.trueAddr
	}
	return m.falseAddr
}

// literal materializes an instruction literal on the heap.
func (m *Machine) literal(lit *Literal) (Address, error) {
	if lit == nil {
		return m.undefinedAddr, nil
	}
	switch lit.Kind {
	case LitNull:
		return m.nullAddr, nil
	case LitBool:
		return m.boolean(lit.Bool), nil
	case LitNumber:
		return m.newNumber(lit.Num)
	case LitString:
		return m.newString(lit.Str)
	}
	return m.undefinedAddr, nil
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

func (m *Machine) isNumber(a Address) bool { return m.heap.Tag(a) == TagNumber }
func (m *Machine) isString(a Address) bool { return m.heap.Tag(a) == TagString }
func (m *Machine) isBool(a Address) bool {
	t := m.heap.Tag(a)
	return t == TagTrue || t == TagFalse
}

func (m *Machine) number(a Address) float64 { return m.heap.Float(a, 1) }
func (m *Machine) str(a Address) string { return m.strings[m.heap.Payload(a)] }

// ToNative converts a heap value to a Go value: float64, bool, string, nil
// (null), Undefined, [2]interface{} for pairs, or a descriptive string for
// closures and builtins.
func (m *Machine) ToNative(a Address) interface{} {
	switch m.heap.Tag(a) {
	case TagFalse:
		return false
	case TagTrue:
		return true
	case TagNumber:
		return m.number(a)
	case TagString:
		return m.str(a)
	case TagNull:
		return nil
	case TagUndefined:
		return Undefined{}
	case TagPair:
		return [2]interface{}{m.ToNative(m.heap.Child(a, 0)), m.ToNative(m.heap.Child(a, 1))}
	}
	return m.display(a)
}

// display renders a value the way println prints it.
func (m *Machine) display(a Address) string {
	switch m.heap.Tag(a) {
	case TagFalse:
		return "false"
	case TagTrue:
		return "true"
	case TagNumber:
		return formatNumber(m.number(a))
	case TagString:
		return m.str(a)
	case TagNull:
		return "nil"
	case TagUndefined:
		return "undefined"
	case TagUnassigned:
		return "<unassigned>"
	case TagPair:
		var sb strings.Builder
		sb.WriteString("[")
		sb.WriteString(m.display(m.heap.Child(a, 0)))
		sb.WriteString(", ")
		sb.WriteString(m.display(m.heap.Child(a, 1)))
		sb.WriteString("]")
		return sb.String()
	case TagClosure:
		return "<closure>"
	case TagBuiltin:
		return "<builtin>"
	}
	return "<" + m.heap.Tag(a).String() + ">"
}

func formatNumber(f float64) string {
	if math.IsInf(f, 1) {
		return "+Inf"
	}
	if math.IsInf(f, -1) {
		return "-Inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// equal compares by value for scalars and by identity otherwise.
func (m *Machine) equal(x, y Address) bool {
	tx, ty := m.heap.Tag(x), m.heap.Tag(y)
	if tx != ty {
		return false
	}
	switch tx {
	case TagNumber:
		return m.number(x) == m.number(y)
	case TagString:
		return m.str(x) == m.str(y)
	case TagFalse, TagTrue, TagNull, TagUndefined, TagUnassigned:
		return true
	case TagBuiltin:
		return m.heap.Byte(x, idByte) == m.heap.Byte(y, idByte)
	}
	return x == y
}

func isIntegral(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0)
}
