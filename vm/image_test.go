package vm

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func sampleProgram() *Program {
	return &Program{
		Entry: "main",
		Instrs: []Instruction{
			{Op: OpEnterScope, Num: 2},
			{Op: OpLoadConst, Lit: StringLit("hi")},
			{Op: OpLoadConst, Lit: BoolLit(true)},
			{Op: OpLoadConst, Lit: NullLit()},
			{Op: OpLoadConst, Lit: UndefinedLit()},
			{Op: OpLoadConst, Lit: NumberLit(2.5)},
			{Op: OpJumpFalse, Addr: 8},
			{Op: OpAssign, Pos: Pos{Frame: 2, Slot: 1}, Sym: "x"},
			{Op: OpMutex, Pos: Unbound},
			{Op: OpLoadFunc, Arity: 1, Addr: 0},
			{Op: OpDone},
		},
	}
}

func TestProgramImageRoundTrip(t *testing.T) {
	p := sampleProgram()
	data, err := MarshalProgram(p)
	if err != nil {
		t.Fatalf("MarshalProgram error: %v", err)
	}
	got, err := UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram error: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, p)
	}
}

func TestProgramImageDeterministic(t *testing.T) {
	a, _ := MarshalProgram(sampleProgram())
	b, _ := MarshalProgram(sampleProgram())
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
}

func TestUnmarshalProgramRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalProgram([]byte("not cbor")); err == nil {
		t.Error("expected error for garbage input")
	}

	data, _ := cborEncMode.Marshal(&programImage{Magic: "NOPE", Version: imageVersion, Program: sampleProgram()})
	if _, err := UnmarshalProgram(data); err == nil || !strings.Contains(err.Error(), "magic") {
		t.Errorf("error = %v, want magic error", err)
	}

	data, _ = cborEncMode.Marshal(&programImage{Magic: imageMagic, Version: 99, Program: sampleProgram()})
	if _, err := UnmarshalProgram(data); err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("error = %v, want version error", err)
	}
}

func TestProgramFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog"+ImageExt)
	if err := WriteProgramFile(path, sampleProgram()); err != nil {
		t.Fatalf("WriteProgramFile error: %v", err)
	}
	p, err := ReadProgramFile(path)
	if err != nil {
		t.Fatalf("ReadProgramFile error: %v", err)
	}
	if len(p.Instrs) != len(sampleProgram().Instrs) {
		t.Errorf("len(Instrs) = %d, want %d", len(p.Instrs), len(sampleProgram().Instrs))
	}
}

func TestDisassemble(t *testing.T) {
	listing := sampleProgram().Disassemble()
	for _, want := range []string{
		"; entry: main",
		"0000  ENTER_SCOPE 2",
		`LDC "hi"`,
		"JOF 8",
		"ASSIGN (2,1) x",
		"> 0008  MUTEX",
		"LDF arity=1 addr=0",
		"DONE",
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	if OpCall.String() != "CALL" {
		t.Errorf("OpCall = %s, want CALL", OpCall)
	}
	if got := Opcode(200).String(); got != "UNKNOWN(0xC8)" {
		t.Errorf("Opcode(200) = %s, want UNKNOWN(0xC8)", got)
	}
}

func TestValidateRejectsBadOperands(t *testing.T) {
	tests := []struct {
		name string
		in   Instruction
		want string
	}{
		{"jump target", Instruction{Op: OpGoto, Addr: 5}, "out of range"},
		{"negative load", Instruction{Op: OpLoad, Pos: Pos{Frame: -1, Slot: 0}}, "negative position"},
		{"negative assign slot", Instruction{Op: OpAssign, Pos: Pos{Frame: 2, Slot: -3}}, "negative position"},
		{"bound channel slot", Instruction{Op: OpChannel, Pos: Pos{Frame: 2, Slot: -1}}, "negative slot"},
		{"negative arity", Instruction{Op: OpCall, Arity: -1}, "negative operand"},
		{"negative scope", Instruction{Op: OpEnterScope, Num: -2}, "negative operand"},
		{"wide closure", Instruction{Op: OpLoadFunc, Arity: 300}, "arity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Program{Instrs: []Instruction{tt.in, {Op: OpDone}}}
			err := p.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadedImageUnderflowFailsCleanly(t *testing.T) {
	data, err := MarshalProgram(&Program{Instrs: []Instruction{
		{Op: OpBinary, Sym: "+"},
		{Op: OpDone},
	}})
	if err != nil {
		t.Fatalf("MarshalProgram error: %v", err)
	}
	p, err := UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram error: %v", err)
	}

	m, err := NewMachine(Config{})
	if err != nil {
		t.Fatalf("NewMachine error: %v", err)
	}
	_, err = m.Run(context.Background(), p)
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("Run error = %v, want ErrRuntime", err)
	}
	if !strings.Contains(err.Error(), "needs 2 operands") {
		t.Errorf("error = %v, want operand count", err)
	}
}
