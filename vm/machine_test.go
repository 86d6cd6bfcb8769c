package vm

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Hand-assembled programs
// ---------------------------------------------------------------------------

func ldc(f float64) Instruction { return Instruction{Op: OpLoadConst, Lit: NumberLit(f)} }
func ld(frame, slot int) Instruction {
	return Instruction{Op: OpLoad, Pos: Pos{Frame: frame, Slot: slot}}
}
func assign(frame, slot int) Instruction {
	return Instruction{Op: OpAssign, Pos: Pos{Frame: frame, Slot: slot}}
}
func binop(sym string) Instruction { return Instruction{Op: OpBinary, Sym: sym} }
func call(n int) Instruction       { return Instruction{Op: OpCall, Arity: n} }
func op(o Opcode) Instruction      { return Instruction{Op: o} }

var (
	printlnFn = ld(0, builtinPrintln)
	unlockFn  = ld(0, builtinUnlock)
)

func runProgram(t *testing.T, cfg Config, instrs ...Instruction) ([]string, *Machine, error) {
	t.Helper()
	m, err := NewMachine(cfg)
	if err != nil {
		t.Fatalf("NewMachine error: %v", err)
	}
	out, err := m.Run(context.Background(), &Program{Instrs: instrs})
	return out, m, err
}

func TestRunPrintsSum(t *testing.T) {
	out, _, err := runProgram(t, Config{},
		printlnFn, ldc(2), ldc(3), binop("+"), call(1),
		op(OpDone),
	)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if want := []string{"5"}; !reflect.DeepEqual(out, want) {
		t.Errorf("output = %v, want %v", out, want)
	}
}

func TestRunBlockScopeAndAssign(t *testing.T) {
	out, m, err := runProgram(t, Config{},
		Instruction{Op: OpEnterScope, Num: 1},
		ldc(41), assign(2, 0), op(OpPop),
		ld(2, 0), ldc(1), binop("+"), assign(2, 0), op(OpPop),
		printlnFn, ld(2, 0), call(1), op(OpPop),
		ld(2, 0),
		op(OpExitScope),
		op(OpDone),
	)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if want := []string{"42"}; !reflect.DeepEqual(out, want) {
		t.Errorf("output = %v, want %v", out, want)
	}
	if got := m.Result(); got != 42.0 {
		t.Errorf("Result = %v, want 42", got)
	}
	if m.cur.E != m.globalEnv {
		t.Error("EXIT_SCOPE did not restore the environment")
	}
}

func TestRunClosureCall(t *testing.T) {
	// f := func(a, b) { return a * b }; f(6, 7)
	out, m, err := runProgram(t, Config{},
		Instruction{Op: OpLoadFunc, Arity: 2, Addr: 2}, // 0
		Instruction{Op: OpGoto, Addr: 7},               // 1
		ld(2, 0), ld(2, 1), binop("*"),                 // 2-4
		op(OpReset),                                    // 5
		op(OpReset),                                    // 6
		ldc(6), ldc(7), call(2),                        // 7-9
		op(OpDone),
	)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("output = %v, want none", out)
	}
	if got := m.Result(); got != 42.0 {
		t.Errorf("Result = %v, want 42", got)
	}
	if len(m.cur.RTS) != 0 {
		t.Errorf("RTS = %v, want empty after return", m.cur.RTS)
	}
}

func TestRunIntegerDivision(t *testing.T) {
	tests := []struct {
		x, y float64
		op   string
		want string
	}{
		{7, 2, "/", "3"},
		{-7, 2, "/", "-3"},
		{7.5, 2, "/", "3.75"},
		{7, 3, "%", "1"},
		{2, 3, "<", "true"},
	}
	for _, tt := range tests {
		out, _, err := runProgram(t, Config{},
			printlnFn, ldc(tt.x), ldc(tt.y), binop(tt.op), call(1), op(OpDone))
		if err != nil {
			t.Fatalf("%v %s %v: %v", tt.x, tt.op, tt.y, err)
		}
		if out[0] != tt.want {
			t.Errorf("%v %s %v = %s, want %s", tt.x, tt.op, tt.y, out[0], tt.want)
		}
	}
}

func TestRunStringConcat(t *testing.T) {
	out, _, err := runProgram(t, Config{},
		printlnFn,
		Instruction{Op: OpLoadConst, Lit: StringLit("go")},
		Instruction{Op: OpLoadConst, Lit: StringLit("vm")},
		binop("+"), ldc(1), call(2),
		op(OpDone),
	)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out[0] != "govm 1" {
		t.Errorf("output = %q, want %q", out[0], "govm 1")
	}
}

// ---------------------------------------------------------------------------
// Fatal errors
// ---------------------------------------------------------------------------

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		instrs []Instruction
		want   error
	}{
		{
			name: "unassigned read",
			instrs: []Instruction{
				{Op: OpEnterScope, Num: 1}, ld(2, 0), op(OpDone),
			},
			want: ErrUnassigned,
		},
		{
			name: "unlock never locked",
			instrs: []Instruction{
				unlockFn, {Op: OpMutex, Pos: Unbound}, call(1), op(OpDone),
			},
			want: ErrMutexMisuse,
		},
		{
			name: "receive with no sender",
			instrs: []Instruction{
				{Op: OpChannel, Pos: Unbound}, op(OpRecv), op(OpDone),
			},
			want: ErrDeadlock,
		},
		{
			name: "oversized frame",
			instrs: []Instruction{
				{Op: OpEnterScope, Num: 40}, op(OpDone),
			},
			want: ErrOversizedNode,
		},
		{
			name:   "step limit",
			cfg:    Config{MaxSteps: 100},
			instrs: []Instruction{{Op: OpGoto, Addr: 0}, op(OpDone)},
			want:   ErrStepLimit,
		},
		{
			name:   "divide by zero",
			instrs: []Instruction{ldc(1), ldc(0), binop("/"), op(OpDone)},
			want:   ErrRuntime,
		},
		{
			name:   "call of number",
			instrs: []Instruction{ldc(1), call(0), op(OpDone)},
			want:   ErrRuntime,
		},
		{
			name:   "binary on empty stack",
			instrs: []Instruction{binop("+"), op(OpDone)},
			want:   ErrRuntime,
		},
		{
			name:   "unary on empty stack",
			instrs: []Instruction{{Op: OpUnary, Sym: "-"}, op(OpDone)},
			want:   ErrRuntime,
		},
		{
			name:   "send with one operand",
			instrs: []Instruction{ldc(0), op(OpSend), op(OpDone)},
			want:   ErrRuntime,
		},
		{
			name:   "load outside environment",
			instrs: []Instruction{ld(7, 0), op(OpDone)},
			want:   ErrRuntime,
		},
		{
			name:   "assign outside frame",
			instrs: []Instruction{ldc(1), assign(1, 40), op(OpDone)},
			want:   ErrRuntime,
		},
		{
			name: "guest error",
			instrs: []Instruction{
				ld(0, builtinError), {Op: OpLoadConst, Lit: StringLit("boom")}, call(1), op(OpDone),
			},
			want: ErrGuestError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := runProgram(t, tt.cfg, tt.instrs...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if out != nil {
				t.Errorf("output = %v, want nil on failure", out)
			}
			var re *RuntimeError
			if !errors.As(err, &re) {
				t.Errorf("error %T is not a *RuntimeError", err)
			}
		})
	}
}

func TestRunHonorsContext(t *testing.T) {
	m, _ := NewMachine(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Run(ctx, &Program{Instrs: []Instruction{{Op: OpGoto, Addr: 0}}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRunRejectsInvalidProgram(t *testing.T) {
	m, _ := NewMachine(Config{})
	_, err := m.Run(context.Background(), &Program{Instrs: []Instruction{{Op: OpGoto, Addr: 9}}})
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("error = %v, want jump target error", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	bad := []Config{
		{NodeWords: MinNodeWords - 1},
		{NodeWords: 300},
		{HeapWords: 100},
		{Quantum: -1},
		{MaxSteps: -5},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", c)
		}
	}
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

func TestSpawnAndSendReceive(t *testing.T) {
	// ch := channel; go func(c) { c <- 7 }(ch); println(<-ch)
	out, m, err := runProgram(t, Config{},
		Instruction{Op: OpEnterScope, Num: 1},                // 0
		Instruction{Op: OpChannel, Pos: Pos{2, 0}},           // 1
		op(OpPop),                                            // 2
		Instruction{Op: OpLoadFunc, Arity: 1, Addr: 5},       // 3
		Instruction{Op: OpGoto, Addr: 9},                     // 4
		ld(3, 0), ldc(7), op(OpSend),                         // 5-7
		op(OpReset),                                          // 8
		ld(2, 0), Instruction{Op: OpSpawn, Arity: 1},         // 9-10
		op(OpEndGo), op(OpPop),                               // 11-12
		printlnFn, ld(2, 0), op(OpRecv), call(1), op(OpPop),  // 13-17
		op(OpExitScope),                                      // 18
		op(OpDone),                                           // 19
	)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if want := []string{"7"}; !reflect.DeepEqual(out, want) {
		t.Errorf("output = %v, want %v", out, want)
	}
	if s := m.Stats(); s.Goroutines != 2 || s.Switches == 0 {
		t.Errorf("Stats = %+v, want 2 goroutines and some switches", s)
	}
}

func TestQuantumPreemption(t *testing.T) {
	// A lone goroutine is rotated back onto itself at every quantum boundary.
	_, m, err := runProgram(t, Config{Quantum: 3},
		ldc(1), op(OpPop), ldc(2), op(OpPop), ldc(3), op(OpPop), ldc(4), op(OpDone),
	)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := m.Stats().Switches; got != 2 {
		t.Errorf("Switches = %d, want 2", got)
	}
}
