package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Collector: stop-the-world mark and sweep over the thread root set
// ---------------------------------------------------------------------------

// GCStats accumulates collector statistics for a machine.
type GCStats struct {
	Collections   int
	Freed         int // nodes reclaimed over all collections
	LastFreed     int
	Live          int // live nodes after the last collection
	LastDuration  time.Duration
	TotalDuration time.Duration
}

// Collect runs a full collection. It is invoked automatically when the
// free list is exhausted; calling it directly is safe at any instruction
// boundary.
func (m *Machine) Collect() error {
	start := time.Now()

	m.forEachRoot(m.mark)
	m.compactStrings()
	freed := m.heap.sweep()

	elapsed := time.Since(start)
	m.gc.Collections++
	m.gc.Freed += freed
	m.gc.LastFreed = freed
	m.gc.Live = m.heap.NodeCount() - m.heap.FreeCount()
	m.gc.LastDuration = elapsed
	m.gc.TotalDuration += elapsed

	log.Debugf("gc #%d: freed %d nodes, %d live, %s", m.gc.Collections, freed, m.gc.Live, elapsed)
	return nil
}

// compactStrings rebuilds the string pool from the marked string nodes and
// renumbers their payloads. It must run between mark and sweep.
func (m *Machine) compactStrings() {
	h := m.heap
	strs := make([]string, 0, len(m.stringIndex))
	index := make(map[string]uint32, len(m.stringIndex))
	for a := Address(0); int(a) < h.Words(); a += Address(h.NodeWords()) {
		if h.Tag(a) != TagString || !h.IsMarked(a) {
			continue
		}
		s := m.strings[h.Payload(a)]
		idx, ok := index[s]
		if !ok {
			idx = uint32(len(strs))
			strs = append(strs, s)
			index[s] = idx
		}
		h.SetPayload(a, idx)
	}
	m.strings, m.stringIndex = strs, index
}

// forEachRoot visits the operand stack, environment register and
// return-address stack of every thread, then the pinned list.
func (m *Machine) forEachRoot(visit func(Address)) {
	visitThread := func(t *Thread) {
		for _, a := range t.OS {
			visit(a)
		}
		visit(t.E)
		for _, a := range t.RTS {
			visit(a)
		}
	}
	if m.cur != nil {
		visitThread(m.cur)
	}
	for _, t := range m.ready {
		visitThread(t)
	}
	for _, a := range m.pinned {
		visit(a)
	}
	visit(m.globalEnv)
}

// mark sets the mark bit on everything reachable from a. The walk keeps
// its own work list so deep structures do not grow the Go stack.
func (m *Machine) mark(root Address) {
	h := m.heap
	if !h.Contains(root) || h.IsMarked(root) {
		return
	}
	work := append(m.markStack[:0], root)
	h.SetMarked(root, true)
	for len(work) > 0 {
		a := work[len(work)-1]
		work = work[:len(work)-1]
		for i, n := 0, h.NumChildren(a); i < n; i++ {
			c := h.Child(a, i)
			if h.Contains(c) && !h.IsMarked(c) {
				h.SetMarked(c, true)
				work = append(work, c)
			}
		}
	}
	m.markStack = work
}

// ---------------------------------------------------------------------------
// Pinning: transient roots for nodes under construction
// ---------------------------------------------------------------------------

// pin roots a node that is not yet reachable from any register. It
// returns a mark for unpin; pins nest.
func (m *Machine) pin(addrs ...Address) int {
	mark := len(m.pinned)
	m.pinned = append(m.pinned, addrs...)
	return mark
}

// unpin drops every pin made since mark.
func (m *Machine) unpin(mark int) {
	m.pinned = m.pinned[:mark]
}
