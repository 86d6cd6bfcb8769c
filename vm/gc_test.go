package vm

import (
	"errors"
	"strings"
	"testing"
)

func newTestMachine(t *testing.T, cfg Config) *Machine {
	t.Helper()
	m, err := NewMachine(cfg)
	if err != nil {
		t.Fatalf("NewMachine error: %v", err)
	}
	// Collector tests run outside Run; give them a main thread to root into.
	m.reset(&Program{Instrs: []Instruction{{Op: OpDone}}})
	return m
}

func TestCollectReclaimsUnreachable(t *testing.T) {
	m := newTestMachine(t, Config{})
	before := m.heap.FreeCount()

	for i := 0; i < 10; i++ {
		if _, err := m.newNumber(float64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.heap.FreeCount(); got != before-10 {
		t.Fatalf("FreeCount = %d, want %d", got, before-10)
	}

	if err := m.Collect(); err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if got := m.heap.FreeCount(); got != before {
		t.Errorf("FreeCount after collect = %d, want %d", got, before)
	}
	if m.gc.LastFreed != 10 {
		t.Errorf("LastFreed = %d, want 10", m.gc.LastFreed)
	}
}

func TestCollectKeepsReachable(t *testing.T) {
	m := newTestMachine(t, Config{})

	// Build the list 0 -> 1 -> 2 -> nil, rooted from the operand stack.
	list := m.nullAddr
	for i := 2; i >= 0; i-- {
		n, err := m.newNumber(float64(i))
		if err != nil {
			t.Fatal(err)
		}
		mark := m.pin(n, list)
		p, err := m.allocate(TagPair, 3)
		m.unpin(mark)
		if err != nil {
			t.Fatal(err)
		}
		m.heap.SetChild(p, 0, n)
		m.heap.SetChild(p, 1, list)
		list = p
	}
	m.push(list)

	// Garbage.
	for i := 0; i < 5; i++ {
		m.newString("garbage")
	}

	if err := m.Collect(); err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if got := m.display(list); got != "[0, [1, [2, nil]]]" {
		t.Errorf("list = %s, want [0, [1, [2, nil]]]", got)
	}
	if m.gc.LastFreed != 5 {
		t.Errorf("LastFreed = %d, want 5", m.gc.LastFreed)
	}

	// Marks are clear everywhere outside a collection.
	for a := Address(0); int(a) < m.heap.Words(); a += Address(m.heap.NodeWords()) {
		if m.heap.IsMarked(a) {
			t.Fatalf("node %d still marked after collection", a)
		}
	}
}

func TestCollectRootsQueuedThreadsAndPins(t *testing.T) {
	m := newTestMachine(t, Config{})

	queued := m.spawn(0, m.globalEnv)
	qv, _ := m.newNumber(7)
	queued.OS = append(queued.OS, qv)

	pv, _ := m.newNumber(8)
	m.pin(pv)

	rv, _ := m.newNumber(9)
	bf, _ := m.allocate(TagBlockframe, 2)
	m.heap.SetChild(bf, 0, m.globalEnv)
	queued.RTS = append(queued.RTS, bf)

	m.Collect()

	if m.heap.Tag(qv) != TagNumber || m.number(qv) != 7 {
		t.Error("queued thread's operand was reclaimed")
	}
	if m.heap.Tag(pv) != TagNumber || m.number(pv) != 8 {
		t.Error("pinned node was reclaimed")
	}
	if m.heap.Tag(bf) != TagBlockframe {
		t.Error("queued thread's blockframe was reclaimed")
	}
	if m.heap.Tag(rv) == TagNumber {
		t.Error("unrooted number survived")
	}
}

func TestPinsNest(t *testing.T) {
	m := newTestMachine(t, Config{})
	a, _ := m.newNumber(1)
	outer := m.pin(a)
	b, _ := m.newNumber(2)
	inner := m.pin(b)
	m.unpin(inner)
	if len(m.pinned) != 1 || m.pinned[0] != a {
		t.Fatalf("pinned = %v, want [%d]", m.pinned, a)
	}
	m.unpin(outer)
	if len(m.pinned) != 0 {
		t.Errorf("pinned = %v, want empty", m.pinned)
	}
}

func TestExtendLeavesOriginalUntouched(t *testing.T) {
	m := newTestMachine(t, Config{})
	env := m.globalEnv
	frame, err := m.allocate(TagFrame, 2)
	if err != nil {
		t.Fatal(err)
	}
	ext, err := m.extend(frame, env)
	if err != nil {
		t.Fatalf("extend error: %v", err)
	}
	if ext == env {
		t.Fatal("extend returned the same environment")
	}
	if got := m.heap.NumChildren(env); got != 2 {
		t.Errorf("original has %d frames, want 2", got)
	}
	if got := m.heap.NumChildren(ext); got != 3 {
		t.Errorf("extension has %d frames, want 3", got)
	}
	for i := 0; i < 2; i++ {
		if m.heap.Child(ext, i) != m.heap.Child(env, i) {
			t.Errorf("frame %d not shared", i)
		}
	}
	if m.heap.Child(ext, 2) != frame {
		t.Error("new frame not last")
	}
}

func TestOutOfMemoryWhenEverythingIsRooted(t *testing.T) {
	m := newTestMachine(t, Config{HeapWords: 64 * 16, NodeWords: 16})
	var err error
	for i := 0; i < 100; i++ {
		var a Address
		a, err = m.newNumber(float64(i))
		if err != nil {
			break
		}
		m.pin(a)
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("error = %v, want ErrOutOfMemory", err)
	}
	if m.gc.Collections != 1 {
		t.Errorf("Collections = %d, want 1", m.gc.Collections)
	}
}

func TestCollectCompactsStringPool(t *testing.T) {
	// s := ""; for i := 0; i < 500; i++ { s = s + "ab" }; s
	str := func(s string) Instruction { return Instruction{Op: OpLoadConst, Lit: StringLit(s)} }
	out, m, err := runProgram(t, Config{HeapWords: 256 * DefaultNodeWords},
		Instruction{Op: OpEnterScope, Num: 2},                    // 0
		str(""), assign(2, 0), op(OpPop),                         // 1-3
		ldc(0), assign(2, 1), op(OpPop),                          // 4-6
		ld(2, 1), ldc(500), binop("<"),                           // 7-9
		Instruction{Op: OpJumpFalse, Addr: 22},                   // 10
		ld(2, 0), str("ab"), binop("+"), assign(2, 0), op(OpPop), // 11-15
		ld(2, 1), ldc(1), binop("+"), assign(2, 1), op(OpPop),    // 16-20
		Instruction{Op: OpGoto, Addr: 7},                         // 21
		ld(2, 0),                                                 // 22
		op(OpExitScope),                                          // 23
		op(OpDone),                                               // 24
	)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("output = %v, want none", out)
	}
	if m.gc.Collections == 0 {
		t.Fatal("loop ran without a collection; heap too large for this test")
	}
	if got := len(m.strings); got > m.heap.NodeCount() {
		t.Errorf("pool holds %d strings, more than the %d heap nodes", got, m.heap.NodeCount())
	}

	if err := m.Collect(); err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if got := len(m.strings); got != 1 {
		t.Errorf("pool holds %d strings after collect, want only the result", got)
	}
	if got, _ := m.Result().(string); got != strings.Repeat("ab", 500) {
		t.Errorf("Result has length %d, want 1000", len(got))
	}
}
