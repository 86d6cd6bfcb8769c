package vm

import "fmt"

// Opcode identifies a machine instruction.
type Opcode byte

const (
	// ========================================================================
	// Values
	// ========================================================================

	OpLoadConst Opcode = iota // Push literal: LDC <lit>
	OpUnary                   // Pop one, push op result: UNOP <sym>
	OpBinary                  // Pop two, push op result: BINOP <sym>
	OpPop                     // Discard top of stack

	// ========================================================================
	// Control flow
	// ========================================================================

	OpJumpFalse // Pop boolean, jump if false: JOF <addr>
	OpGoto      // Unconditional jump: GOTO <addr>

	// ========================================================================
	// Scopes and variables
	// ========================================================================

	OpEnterScope // Push Blockframe, extend E with a new frame: ENTER_SCOPE <num>
	OpExitScope  // Pop Blockframe, restore E
	OpLoad       // Push variable: LD <frame,slot>
	OpAssign     // Store top of stack (kept) into variable: ASSIGN <frame,slot>

	// ========================================================================
	// Functions
	// ========================================================================

	OpLoadFunc // Push closure over E: LDF <arity> <addr>
	OpCall     // Call fun below argc args: CALL <argc>
	OpReset    // Return: unwind RTS to the nearest Callframe
	OpSpawn    // Start a goroutine running fun(args): SPAWN <argc>
	OpEndGo    // Hand control to the front of the ready queue

	// ========================================================================
	// Concurrency
	// ========================================================================

	OpChannel // New channel id, optionally bound: CHANNEL <frame,slot>
	OpMutex   // New mutex id, optionally bound: MUTEX <frame,slot>
	OpSend    // Pop value and channel, rendezvous with a receiver
	OpRecv    // Pop channel, rendezvous with a sender, push value

	OpDone // Halt (main goroutine)
)

// OpcodeInfo provides metadata about each opcode for listings and validation.
type OpcodeInfo struct {
	Name      string // Mnemonic
	StackPop  int    // Values popped (-1 = variable)
	StackPush int    // Values pushed
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpLoadConst:  {"LDC", 0, 1},
	OpUnary:      {"UNOP", 1, 1},
	OpBinary:     {"BINOP", 2, 1},
	OpPop:        {"POP", 1, 0},
	OpJumpFalse:  {"JOF", 1, 0},
	OpGoto:       {"GOTO", 0, 0},
	OpEnterScope: {"ENTER_SCOPE", 0, 0},
	OpExitScope:  {"EXIT_SCOPE", 0, 0},
	OpLoad:       {"LD", 0, 1},
	OpAssign:     {"ASSIGN", 1, 1},
	OpLoadFunc:   {"LDF", 0, 1},
	OpCall:       {"CALL", -1, 1},
	OpReset:      {"RESET", 0, 0},
	OpSpawn:      {"SPAWN", -1, 1},
	OpEndGo:      {"ENDGO", 0, 0},
	OpChannel:    {"CHANNEL", 0, 1},
	OpMutex:      {"MUTEX", 0, 1},
	OpSend:       {"SEND", 2, 1},
	OpRecv:       {"RECV", 1, 1},
	OpDone:       {"DONE", 0, 0},
}

// Info returns metadata for the opcode.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

func (op Opcode) String() string {
	if info, ok := opcodeInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Pos is a lexical address: frame index in the environment, slot in the
// frame. A negative Frame means "no binding".
type Pos struct {
	Frame int `cbor:"1,keyasint"`
	Slot  int `cbor:"2,keyasint"`
}

// Unbound is the Pos of a CHANNEL or MUTEX whose id is only pushed.
var Unbound = Pos{Frame: -1, Slot: -1}

// IsBound reports whether the position names a slot.
func (p Pos) IsBound() bool { return p.Frame >= 0 }

func (p Pos) String() string { return fmt.Sprintf("(%d,%d)", p.Frame, p.Slot) }

// LiteralKind discriminates Literal.
type LiteralKind byte

const (
	LitUndefined LiteralKind = iota
	LitNull
	LitBool
	LitNumber
	LitString
)

// Literal is a constant operand of LDC.
type Literal struct {
	Kind LiteralKind `cbor:"1,keyasint"`
	Bool bool        `cbor:"2,keyasint,omitempty"`
	Num  float64     `cbor:"3,keyasint,omitempty"`
	Str  string      `cbor:"4,keyasint,omitempty"`
}

func (l *Literal) String() string {
	if l == nil {
		return "undefined"
	}
	switch l.Kind {
	case LitNull:
		return "nil"
	case LitBool:
		return fmt.Sprintf("%t", l.Bool)
	case LitNumber:
		return formatNumber(l.Num)
	case LitString:
		return fmt.Sprintf("%q", l.Str)
	}
	return "undefined"
}

// Literal constructors used by the compiler.
func UndefinedLit() *Literal { return &Literal{Kind: LitUndefined} }
func NullLit() *Literal { return &Literal{Kind: LitNull} }
func BoolLit(b bool) *Literal { return &Literal{Kind: LitBool, Bool: b} }
func NumberLit(f float64) *Literal { return &Literal{Kind: LitNumber, Num: f} }
func StringLit(s string) *Literal { return &Literal{Kind: LitString, Str: s} }

// Instruction is one machine instruction. Which operands are meaningful
// depends on Op.
type Instruction struct {
	Op    Opcode   `cbor:"1,keyasint"`
	Lit   *Literal `cbor:"2,keyasint,omitempty"` // LDC
	Sym   string   `cbor:"3,keyasint,omitempty"` // UNOP/BINOP operator; LD/ASSIGN name
	Addr  int      `cbor:"4,keyasint,omitempty"` // JOF/GOTO target, LDF entry
	Arity int      `cbor:"5,keyasint,omitempty"` // LDF params, CALL/SPAWN args
	Num   int      `cbor:"6,keyasint,omitempty"` // ENTER_SCOPE slots
	Pos   Pos      `cbor:"7,keyasint"`           // LD/ASSIGN/CHANNEL/MUTEX
}

// Program is a compiled instruction sequence. Execution starts at 0.
type Program struct {
	Instrs []Instruction `cbor:"1,keyasint"`
	Entry  string        `cbor:"2,keyasint,omitempty"`
}

// MaxProgramSize bounds program length: closure and callframe pcs are
// stored in 16 bits.
const MaxProgramSize = 1 << 16
