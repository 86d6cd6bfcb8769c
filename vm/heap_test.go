package vm

import (
	"errors"
	"testing"
)

func TestNewHeapRejectsBadSizes(t *testing.T) {
	if _, err := NewHeap(100, 1); err == nil {
		t.Error("expected error for 1-word nodes")
	}
	if _, err := NewHeap(5, 10); err == nil {
		t.Error("expected error for heap smaller than a node")
	}
}

func TestAllocateUniqueInBounds(t *testing.T) {
	h, err := NewHeap(1000, 10)
	if err != nil {
		t.Fatalf("NewHeap error: %v", err)
	}
	if got := h.FreeCount(); got != 100 {
		t.Fatalf("FreeCount = %d, want 100", got)
	}

	seen := make(map[Address]bool)
	for {
		a, err := h.Allocate(TagPair, 3)
		if err != nil {
			if !errors.Is(err, ErrOutOfMemory) {
				t.Fatalf("Allocate error = %v, want ErrOutOfMemory", err)
			}
			break
		}
		if !h.Contains(a) {
			t.Fatalf("address %d outside heap", a)
		}
		if seen[a] {
			t.Fatalf("address %d handed out twice", a)
		}
		seen[a] = true
	}
	if len(seen) != 100 {
		t.Errorf("allocated %d nodes, want 100", len(seen))
	}
}

func TestAllocateWritesHeader(t *testing.T) {
	h, _ := NewHeap(100, 10)
	a, err := h.Allocate(TagClosure, 2)
	if err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	if h.Tag(a) != TagClosure {
		t.Errorf("Tag = %s, want Closure", h.Tag(a))
	}
	if h.Size(a) != 2 || h.NumChildren(a) != 1 {
		t.Errorf("Size/NumChildren = %d/%d, want 2/1", h.Size(a), h.NumChildren(a))
	}
	if h.IsMarked(a) {
		t.Error("fresh node is marked")
	}
	if h.Child(a, 0) != 0 {
		t.Errorf("fresh child = %d, want 0", h.Child(a, 0))
	}

	h.SetByte(a, arityByte, 3)
	h.SetUint16(a, pcField, 4242)
	if h.Byte(a, arityByte) != 3 || h.Uint16(a, pcField) != 4242 {
		t.Errorf("header fields = %d/%d, want 3/4242", h.Byte(a, arityByte), h.Uint16(a, pcField))
	}
	if h.Tag(a) != TagClosure || h.Size(a) != 2 {
		t.Error("payload writes clobbered tag or size")
	}
}

func TestNumberHasNoChildren(t *testing.T) {
	h, _ := NewHeap(100, 10)
	a, _ := h.Allocate(TagNumber, 2)
	h.SetFloat(a, 1, -1.5)
	if h.NumChildren(a) != 0 {
		t.Errorf("NumChildren(Number) = %d, want 0", h.NumChildren(a))
	}
	if got := h.Float(a, 1); got != -1.5 {
		t.Errorf("Float = %v, want -1.5", got)
	}
}

func TestAllocateOversized(t *testing.T) {
	h, _ := NewHeap(100, 10)
	_, err := h.Allocate(TagFrame, 11)
	if !errors.Is(err, ErrOversizedNode) {
		t.Errorf("Allocate error = %v, want ErrOversizedNode", err)
	}
	if got := h.FreeCount(); got != 10 {
		t.Errorf("FreeCount = %d, want 10 (oversized request must not consume a node)", got)
	}
}

func TestAllocateCollectsOnce(t *testing.T) {
	h, _ := NewHeap(20, 10)
	calls := 0
	h.SetCollector(func() error {
		calls++
		return nil
	})
	h.Allocate(TagNull, 1)
	h.Allocate(TagNull, 1)
	if _, err := h.Allocate(TagNull, 1); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Allocate error = %v, want ErrOutOfMemory", err)
	}
	if calls != 1 {
		t.Errorf("collector ran %d times, want 1", calls)
	}
}

func TestSweepRespectsBottom(t *testing.T) {
	h, _ := NewHeap(50, 10)
	reserved, _ := h.Allocate(TagNull, 1)
	h.Reserve()
	if h.Bottom() <= reserved {
		t.Fatalf("Bottom = %d, want above %d", h.Bottom(), reserved)
	}
	h.Allocate(TagNull, 1)

	freed := h.sweep()
	if freed != 1 {
		t.Errorf("sweep freed %d, want 1", freed)
	}
	if h.Tag(reserved) != TagNull {
		t.Error("reserved node was reclaimed")
	}
	if got := h.FreeCount(); got != 4 {
		t.Errorf("FreeCount = %d, want 4", got)
	}

	// A second sweep must not thread free nodes twice.
	h.sweep()
	if got := h.FreeCount(); got != 4 {
		t.Errorf("FreeCount after resweep = %d, want 4", got)
	}
}
