// Package enginetest provides an in-memory whistler.Engine with fault
// injection for tests.
package enginetest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/wippyai/whistler"
)

const heapBase = 16

// Memory is a bounds-checked byte slice.
type Memory struct {
	mu   *sync.Mutex
	data []byte
}

func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return m.data[offset : offset+length], nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(offset)+uint64(len(data)) > uint64(len(m.data)) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	return m.Write(offset, b[:])
}

func (m *Memory) Size() uint32 { return uint32(len(m.data)) }

// ProcessFunc implements the engine's processing entry point.
type ProcessFunc func(ctx context.Context, e *Engine, call whistler.ProcessCall) (uint32, error)

// Engine is a bump-allocating fake engine. Its default processing entry point
// multiplies every input sample by the volume.
type Engine struct {
	mem     *Memory
	process ProcessFunc
	live    map[uint32]uint32
	mu      sync.Mutex

	heap        uint32
	failAllocAt int

	Allocations   int
	Releases      int
	ProcessCalls  int
	BadReleases   []uint32
	Freed         []uint32
	LastCall      whistler.ProcessCall
	AllocFailures int
}

// New creates an engine with size bytes of memory.
func New(size uint32) *Engine {
	e := &Engine{
		live: make(map[uint32]uint32),
		heap: heapBase,
	}
	e.mem = &Memory{mu: &e.mu, data: make([]byte, size)}
	e.process = Gain
	return e
}

// WithProcess replaces the processing entry point.
func (e *Engine) WithProcess(fn ProcessFunc) *Engine {
	e.process = fn
	return e
}

// FailAllocationAt makes the n-th Allocate call (1-based, counting every call
// including ones made by the processing entry point) return 0.
func (e *Engine) FailAllocationAt(n int) *Engine {
	e.failAllocAt = n
	return e
}

func (e *Engine) Memory() whistler.Memory { return e.mem }

func (e *Engine) Allocate(_ context.Context, size uint32) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allocLocked(size), nil
}

func (e *Engine) allocLocked(size uint32) uint32 {
	calls := e.Allocations + e.AllocFailures + 1
	if size == 0 || calls == e.failAllocAt {
		e.AllocFailures++
		return 0
	}
	addr := (e.heap + 7) &^ 7
	if uint64(addr)+uint64(size) > uint64(len(e.mem.data)) {
		e.AllocFailures++
		return 0
	}
	e.heap = addr + size
	e.live[addr] = size
	e.Allocations++
	return addr
}

// Malloc allocates from inside a processing entry point.
func (e *Engine) Malloc(size uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allocLocked(size)
}

func (e *Engine) Release(_ context.Context, ptr uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.live[ptr]; !ok {
		e.BadReleases = append(e.BadReleases, ptr)
		return fmt.Errorf("free of unallocated address %#x", ptr)
	}
	delete(e.live, ptr)
	e.Freed = append(e.Freed, ptr)
	e.Releases++
	return nil
}

func (e *Engine) Process(ctx context.Context, call whistler.ProcessCall) (uint32, error) {
	e.mu.Lock()
	e.ProcessCalls++
	e.LastCall = call
	e.mu.Unlock()
	return e.process(ctx, e, call)
}

// Live returns the number of unreleased allocations.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Counts returns successful allocations and releases.
func (e *Engine) Counts() (allocations, releases int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Allocations, e.Releases
}

// ReadFloats reads n float32 values at addr.
func (e *Engine) ReadFloats(addr, n uint32) ([]float32, error) {
	b, err := e.mem.Read(addr, n*4)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// WriteFloats writes samples at addr.
func (e *Engine) WriteFloats(addr uint32, samples []float32) error {
	b := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return e.mem.Write(addr, b)
}

// Gain copies the input scaled by the call's volume into a new region.
func Gain(_ context.Context, e *Engine, call whistler.ProcessCall) (uint32, error) {
	in, err := e.ReadFloats(call.Input, call.Count)
	if err != nil {
		return 0, err
	}
	out := e.Malloc(call.Count * 4)
	if out == 0 {
		_ = e.mem.WriteU32(call.OutputLengthSlot, 0)
		return 0, nil
	}
	for i := range in {
		in[i] *= call.Volume
	}
	if err := e.WriteFloats(out, in); err != nil {
		return 0, err
	}
	return out, e.mem.WriteU32(call.OutputLengthSlot, call.Count)
}

// Identity copies the input unchanged.
func Identity(ctx context.Context, e *Engine, call whistler.ProcessCall) (uint32, error) {
	call.Volume = 1
	return Gain(ctx, e, call)
}

// NullOutput reports failure by returning a null address.
func NullOutput(_ context.Context, e *Engine, call whistler.ProcessCall) (uint32, error) {
	return 0, e.mem.WriteU32(call.OutputLengthSlot, 0)
}

// ReportLength returns a valid output region but writes length into the slot.
func ReportLength(length int32) ProcessFunc {
	return func(_ context.Context, e *Engine, call whistler.ProcessCall) (uint32, error) {
		out := e.Malloc(max(call.Count, 1) * 4)
		if out == 0 {
			return 0, nil
		}
		return out, e.mem.WriteU32(call.OutputLengthSlot, uint32(length))
	}
}

// Trap fails the call itself, as a guest trap would.
func Trap(_ context.Context, _ *Engine, _ whistler.ProcessCall) (uint32, error) {
	return 0, fmt.Errorf("wasm error: unreachable")
}

var (
	_ whistler.Engine      = (*Engine)(nil)
	_ whistler.MemorySizer = (*Memory)(nil)
)
