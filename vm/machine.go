package vm

import (
	"context"
	"fmt"
	"math"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("govm.vm")

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

const (
	DefaultHeapWords = 65536
	DefaultNodeWords = 16
	DefaultQuantum   = 10

	// ctxCheckInterval is how many instructions run between context checks.
	ctxCheckInterval = 1024
)

// MinNodeWords is the smallest node size that fits the global frames.
var MinNodeWords = max(len(builtinNames), len(constants)) + 1

// Config configures a Machine. Zero fields take defaults.
type Config struct {
	HeapWords int   // heap size in words
	NodeWords int   // node size in words, header included
	Quantum   int   // instructions per time slice
	MaxSteps  int64 // 0 means unlimited

	// OnOutput, if set, receives every printed line as it is produced.
	OnOutput func(line string)
}

func (c Config) withDefaults() Config {
	if c.HeapWords == 0 {
		c.HeapWords = DefaultHeapWords
	}
	if c.NodeWords == 0 {
		c.NodeWords = DefaultNodeWords
	}
	if c.Quantum == 0 {
		c.Quantum = DefaultQuantum
	}
	return c
}

// Validate reports configuration errors after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.NodeWords < MinNodeWords || c.NodeWords > math.MaxUint8 {
		return fmt.Errorf("vm: node size %d out of range [%d, %d]", c.NodeWords, MinNodeWords, math.MaxUint8)
	}
	if c.HeapWords < c.NodeWords*minNodes {
		return fmt.Errorf("vm: heap of %d words holds fewer than %d nodes", c.HeapWords, minNodes)
	}
	if c.Quantum < 1 {
		return fmt.Errorf("vm: quantum must be positive, got %d", c.Quantum)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("vm: max steps must not be negative, got %d", c.MaxSteps)
	}
	return nil
}

// minNodes is enough for the reserved region plus a little working space.
const minNodes = 64

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Stats summarizes a run.
type Stats struct {
	Steps       int64
	Switches    int
	Goroutines  int // threads created, main included
	PeakThreads int
	GC          GCStats
}

// Machine executes compiled programs on a tagged-node heap. A Machine is
// not safe for concurrent use; separate machines share nothing.
type Machine struct {
	cfg  Config
	heap *Heap
	prog *Program

	strings     []string
	stringIndex map[string]uint32

	// Reserved nodes.
	falseAddr, trueAddr, nullAddr, unassignedAddr, undefinedAddr Address
	globalEnv                                                    Address

	// Scheduler state.
	cur      *Thread
	ready    []*Thread
	nextTID  int
	slice    int
	stalled  int
	switched bool
	done     bool
	result   Address

	channels int
	mutexes  map[int]bool

	pinned    []Address
	markStack []Address

	output []string
	steps  int64
	stats  Stats
	gc     GCStats
}

// NewMachine builds a machine with a fresh heap holding the literal
// singletons, the builtin frame and the constant frame.
func NewMachine(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	heap, err := NewHeap(cfg.HeapWords, cfg.NodeWords)
	if err != nil {
		return nil, err
	}
	m := &Machine{
		cfg:         cfg,
		heap:        heap,
		stringIndex: make(map[string]uint32),
		mutexes:     make(map[int]bool),
		globalEnv:   NilAddress,
	}
	if err := m.initGlobals(); err != nil {
		return nil, err
	}
	heap.Reserve()
	heap.SetCollector(m.Collect)
	return m, nil
}

// initGlobals allocates everything that lives below the heap bottom.
func (m *Machine) initGlobals() error {
	singletons := []struct {
		tag  Tag
		addr *Address
	}{
		{TagFalse, &m.falseAddr},
		{TagTrue, &m.trueAddr},
		{TagNull, &m.nullAddr},
		{TagUnassigned, &m.unassignedAddr},
		{TagUndefined, &m.undefinedAddr},
	}
	for _, s := range singletons {
		a, err := m.heap.Allocate(s.tag, 1)
		if err != nil {
			return err
		}
		*s.addr = a
	}

	builtinFrame, err := m.heap.Allocate(TagFrame, len(builtinNames)+1)
	if err != nil {
		return err
	}
	for id := range builtinNames {
		b, err := m.heap.Allocate(TagBuiltin, 1)
		if err != nil {
			return err
		}
		m.heap.SetByte(b, idByte, byte(id))
		m.heap.SetChild(builtinFrame, id, b)
	}

	constFrame, err := m.heap.Allocate(TagFrame, len(constants)+1)
	if err != nil {
		return err
	}
	for i, c := range constants {
		v, err := m.literal(&c.value)
		if err != nil {
			return err
		}
		m.heap.SetChild(constFrame, i, v)
	}

	env, err := m.heap.Allocate(TagEnvironment, 3)
	if err != nil {
		return err
	}
	m.heap.SetChild(env, 0, builtinFrame)
	m.heap.SetChild(env, 1, constFrame)
	m.globalEnv = env
	return nil
}

// Heap exposes the machine's heap for inspection.
func (m *Machine) Heap() *Heap { return m.heap }

// GlobalEnv returns the environment holding the builtin and constant frames.
func (m *Machine) GlobalEnv() Address { return m.globalEnv }

// Stats reports counters for the last run.
func (m *Machine) Stats() Stats {
	s := m.stats
	s.Steps = m.steps
	s.GC = m.gc
	return s
}

// Result returns the value the main goroutine left on its operand stack
// when it reached DONE, converted with ToNative.
func (m *Machine) Result() interface{} {
	if m.result == NilAddress || !m.done {
		return Undefined{}
	}
	return m.ToNative(m.result)
}

// Run executes prog from instruction 0 until the main goroutine reaches
// DONE, returning the printed lines. On failure no output is returned.
func (m *Machine) Run(ctx context.Context, prog *Program) ([]string, error) {
	if err := prog.Validate(); err != nil {
		return nil, err
	}
	m.reset(prog)

	for !m.done {
		if m.steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if m.cfg.MaxSteps > 0 && m.steps >= m.cfg.MaxSteps {
			return nil, m.fail(ErrStepLimit, "%d instructions", m.cfg.MaxSteps)
		}
		if m.stalled >= 2*(len(m.ready)+1) {
			log.Noticef("deadlock: %d goroutines blocked", len(m.ready)+1)
			return nil, m.fail(ErrDeadlock, "")
		}
		if err := m.step(); err != nil {
			return nil, err
		}
	}
	return m.output, nil
}

// reset prepares the main thread and clears per-run state. The heap keeps
// whatever a previous run left; it is unreachable once the old threads go.
func (m *Machine) reset(prog *Program) {
	m.prog = prog
	m.ready = nil
	m.nextTID = 0
	m.slice = 0
	m.stalled = 0
	m.done = false
	m.result = NilAddress
	m.channels = 0
	clear(m.mutexes)
	m.pinned = m.pinned[:0]
	m.output = nil
	m.steps = 0
	m.stats = Stats{}
	m.gc = GCStats{}

	m.cur = nil
	m.cur = m.newThread(0, m.globalEnv)
	m.cur.main = true
}
