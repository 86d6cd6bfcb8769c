package vm

import (
	"fmt"
	"strings"
)

// String renders one instruction with its operands.
func (in Instruction) String() string {
	switch in.Op {
	case OpLoadConst:
		return fmt.Sprintf("%s %s", in.Op, in.Lit)
	case OpUnary, OpBinary:
		return fmt.Sprintf("%s %s", in.Op, in.Sym)
	case OpJumpFalse, OpGoto:
		return fmt.Sprintf("%s %d", in.Op, in.Addr)
	case OpEnterScope:
		return fmt.Sprintf("%s %d", in.Op, in.Num)
	case OpLoad, OpAssign:
		return fmt.Sprintf("%s %s %s", in.Op, in.Pos, in.Sym)
	case OpLoadFunc:
		return fmt.Sprintf("%s arity=%d addr=%d", in.Op, in.Arity, in.Addr)
	case OpCall, OpSpawn:
		return fmt.Sprintf("%s %d", in.Op, in.Arity)
	case OpChannel, OpMutex:
		if in.Pos.IsBound() {
			return fmt.Sprintf("%s %s %s", in.Op, in.Pos, in.Sym)
		}
	}
	return in.Op.String()
}

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	if p.Entry != "" {
		sb.WriteString(fmt.Sprintf("; entry: %s\n", p.Entry))
	}
	sb.WriteString(fmt.Sprintf("; %d instructions\n", len(p.Instrs)))

	targets := make(map[int]bool)
	for _, in := range p.Instrs {
		switch in.Op {
		case OpJumpFalse, OpGoto, OpLoadFunc:
			targets[in.Addr] = true
		}
	}

	for i, in := range p.Instrs {
		marker := "  "
		if targets[i] {
			marker = "> "
		}
		sb.WriteString(fmt.Sprintf("%s%04d  %s\n", marker, i, in))
	}
	return sb.String()
}
