package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Heap: fixed-size tagged nodes in a flat byte arena
// ---------------------------------------------------------------------------

// Address is the word index of a node's header word.
type Address int

// NilAddress terminates the free list.
const NilAddress Address = -1

// WordSize is the size of a heap word in bytes.
const WordSize = 8

// Header layout (word 0 of every node).
const (
	tagOffset     = 0 // 1 byte
	payloadOffset = 1 // bytes 1..4
	sizeOffset    = 5 // u16, words used including the header
	markOffset    = 7 // 1 byte
)

// Heap is an arena of fixed-size nodes with a free list threaded through
// word 0 of unused nodes. It knows nothing about node semantics beyond the
// header layout and the child count rule.
type Heap struct {
	data      []byte
	words     int
	nodeWords int
	free      Address
	bottom    Address

	// collect is invoked once when the free list runs dry.
	collect func() error
}

// NewHeap creates a heap of the given size in words, carved into nodes of
// nodeWords words each.
func NewHeap(words, nodeWords int) (*Heap, error) {
	if nodeWords < 2 || nodeWords > math.MaxUint16 {
		return nil, fmt.Errorf("vm: node size %d out of range", nodeWords)
	}
	if words < nodeWords {
		return nil, fmt.Errorf("vm: heap of %d words cannot hold a %d-word node", words, nodeWords)
	}
	words -= words % nodeWords
	h := &Heap{
		data:      make([]byte, words*WordSize),
		words:     words,
		nodeWords: nodeWords,
		bottom:    0,
	}
	h.free = NilAddress
	for a := h.lastNode(); a >= 0; a -= Address(nodeWords) {
		h.pushFree(a)
	}
	return h, nil
}

// NodeWords returns the node size in words.
func (h *Heap) NodeWords() int { return h.nodeWords }

// Words returns the heap size in words.
func (h *Heap) Words() int { return h.words }

// NodeCount returns the number of nodes the heap holds.
func (h *Heap) NodeCount() int { return h.words / h.nodeWords }

// Bottom returns the first address the collector may reclaim.
func (h *Heap) Bottom() Address { return h.bottom }

// Reserve fixes everything allocated so far as permanent: the collector
// never frees nodes below the current free-list head.
func (h *Heap) Reserve() {
	if h.free == NilAddress {
		h.bottom = Address(h.words)
		return
	}
	h.bottom = h.free
}

// SetCollector installs the function run when allocation finds the free
// list empty.
func (h *Heap) SetCollector(fn func() error) { h.collect = fn }

// Allocate takes a node off the free list, zero-fills it and writes the
// header. A collection runs at most once per call.
func (h *Heap) Allocate(tag Tag, size int) (Address, error) {
	if size > h.nodeWords {
		return NilAddress, fmt.Errorf("%w: %s needs %d words, nodes hold %d",
			ErrOversizedNode, tag, size, h.nodeWords)
	}
	if h.free == NilAddress {
		if h.collect != nil {
			if err := h.collect(); err != nil {
				return NilAddress, err
			}
		}
		if h.free == NilAddress {
			return NilAddress, fmt.Errorf("%w: %d nodes live", ErrOutOfMemory, h.NodeCount())
		}
	}

	a := h.free
	h.free = h.nextFree(a)
	off := h.offset(a)
	clear(h.data[off : off+h.nodeWords*WordSize])
	h.data[off+tagOffset] = byte(tag)
	binary.LittleEndian.PutUint16(h.data[off+sizeOffset:], uint16(size))
	return a, nil
}

// FreeCount walks the free list.
func (h *Heap) FreeCount() int {
	n := 0
	for a := h.free; a != NilAddress; a = h.nextFree(a) {
		n++
	}
	return n
}

// sweep rebuilds the free list from every unmarked node at or above the
// bottom and clears all marks. It returns the number of nodes reclaimed
// (nodes already free are relinked but not counted).
func (h *Heap) sweep() int {
	freed := 0
	h.free = NilAddress
	for a := h.lastNode(); a >= 0; a -= Address(h.nodeWords) {
		if h.IsMarked(a) {
			h.SetMarked(a, false)
			continue
		}
		if a < h.bottom {
			continue
		}
		if h.Tag(a) != tagFree {
			freed++
		}
		h.pushFree(a)
	}
	return freed
}

// ---------------------------------------------------------------------------
// Free list
// ---------------------------------------------------------------------------

// Free nodes carry tagFree and the next link in the payload bytes, so the
// mark byte of a free node is always clear.
func (h *Heap) pushFree(a Address) {
	off := h.offset(a)
	binary.LittleEndian.PutUint64(h.data[off:], 0)
	h.data[off+tagOffset] = byte(tagFree)
	binary.LittleEndian.PutUint32(h.data[off+payloadOffset:], uint32(int32(h.free)))
	h.free = a
}

func (h *Heap) nextFree(a Address) Address {
	off := h.offset(a)
	return Address(int32(binary.LittleEndian.Uint32(h.data[off+payloadOffset:])))
}

func (h *Heap) lastNode() Address {
	return Address(h.words - h.nodeWords)
}

func (h *Heap) offset(a Address) int {
	return int(a) * WordSize
}

// Contains reports whether a is the address of a node in this heap.
func (h *Heap) Contains(a Address) bool {
	return a >= 0 && int(a) < h.words && int(a)%h.nodeWords == 0
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Tag returns the node's tag.
func (h *Heap) Tag(a Address) Tag {
	return Tag(h.data[h.offset(a)+tagOffset])
}

// Size returns the number of words the node uses, header included.
func (h *Heap) Size(a Address) int {
	return int(binary.LittleEndian.Uint16(h.data[h.offset(a)+sizeOffset:]))
}

// NumChildren returns the number of child addresses the node holds.
// Leaf tags (numbers, strings) hold raw payload instead.
func (h *Heap) NumChildren(a Address) int {
	switch h.Tag(a) {
	case TagNumber, TagString, tagFree:
		return 0
	}
	return h.Size(a) - 1
}

// IsMarked reports the node's mark bit.
func (h *Heap) IsMarked(a Address) bool {
	return h.data[h.offset(a)+markOffset] != 0
}

// SetMarked sets or clears the node's mark bit.
func (h *Heap) SetMarked(a Address, marked bool) {
	var b byte
	if marked {
		b = 1
	}
	h.data[h.offset(a)+markOffset] = b
}

// Byte reads header byte i (1..4 are payload).
func (h *Heap) Byte(a Address, i int) byte {
	return h.data[h.offset(a)+i]
}

// SetByte writes header byte i.
func (h *Heap) SetByte(a Address, i int, b byte) {
	h.data[h.offset(a)+i] = b
}

// Uint16 reads a 2-byte header field starting at byte i.
func (h *Heap) Uint16(a Address, i int) uint16 {
	return binary.LittleEndian.Uint16(h.data[h.offset(a)+i:])
}

// SetUint16 writes a 2-byte header field starting at byte i.
func (h *Heap) SetUint16(a Address, i int, v uint16) {
	binary.LittleEndian.PutUint16(h.data[h.offset(a)+i:], v)
}

// Payload reads the 4-byte payload field of the header.
func (h *Heap) Payload(a Address) uint32 {
	return binary.LittleEndian.Uint32(h.data[h.offset(a)+payloadOffset:])
}

// SetPayload writes the 4-byte payload field of the header.
func (h *Heap) SetPayload(a Address, v uint32) {
	binary.LittleEndian.PutUint32(h.data[h.offset(a)+payloadOffset:], v)
}

// Word reads word i of the node (0 is the header).
func (h *Heap) Word(a Address, i int) uint64 {
	return binary.LittleEndian.Uint64(h.data[h.offset(a)+i*WordSize:])
}

// SetWord writes word i of the node.
func (h *Heap) SetWord(a Address, i int, v uint64) {
	binary.LittleEndian.PutUint64(h.data[h.offset(a)+i*WordSize:], v)
}

// Float reads word i as a float64.
func (h *Heap) Float(a Address, i int) float64 {
	return math.Float64frombits(h.Word(a, i))
}

// SetFloat writes a float64 into word i.
func (h *Heap) SetFloat(a Address, i int, f float64) {
	h.SetWord(a, i, math.Float64bits(f))
}

// Child returns child i (stored in word i+1).
func (h *Heap) Child(a Address, i int) Address {
	return Address(int64(h.Word(a, i+1)))
}

// SetChild stores child i.
func (h *Heap) SetChild(a Address, i int, child Address) {
	h.SetWord(a, i+1, uint64(int64(child)))
}
