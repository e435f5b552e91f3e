package marshal

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"math"

	"go.uber.org/zap"

	"github.com/wippyai/whistler"
	"github.com/wippyai/whistler/errors"
	"github.com/wippyai/whistler/pcm"
)

const (
	sampleBytes = 4
	slotBytes   = 4

	// DefaultMaxOutputFactor bounds the engine's output length relative to
	// its input length when Config.MaxOutputFactor is zero.
	DefaultMaxOutputFactor = 16
)

// Config bounds what the Marshaler accepts back from the engine.
type Config struct {
	// MaxOutputFactor caps the reported output length at
	// MaxOutputFactor × input length. 0 means DefaultMaxOutputFactor.
	MaxOutputFactor uint32

	// MaxOutputSamples is an absolute cap on the reported output length.
	// 0 means no absolute cap.
	MaxOutputSamples uint32
}

// OutputLimit returns the largest output length accepted for an input of
// count samples.
func (c Config) OutputLimit(count uint32) uint64 {
	factor := c.MaxOutputFactor
	if factor == 0 {
		factor = DefaultMaxOutputFactor
	}
	limit := uint64(count) * uint64(factor)
	if c.MaxOutputSamples > 0 && uint64(c.MaxOutputSamples) < limit {
		limit = uint64(c.MaxOutputSamples)
	}
	return limit
}

// Stats counts engine allocations and releases made through a Marshaler.
// Outputs allocated by the engine during Invoke count as allocations once the
// Marshaler takes ownership of them.
type Stats struct {
	Allocations int
	Releases    int
}

// Live returns the number of regions not yet released.
func (s Stats) Live() int { return s.Allocations - s.Releases }

// Marshaler moves sample buffers in and out of an engine's memory. It is not
// safe for concurrent use.
type Marshaler struct {
	engine whistler.Engine
	cfg    Config
	stats  Stats
}

// New creates a Marshaler over engine.
func New(engine whistler.Engine, cfg Config) *Marshaler {
	return &Marshaler{engine: engine, cfg: cfg}
}

// Stats returns allocation counters.
func (m *Marshaler) Stats() Stats { return m.stats }

// Config returns the Marshaler's configuration.
func (m *Marshaler) Config() Config { return m.cfg }

func (m *Marshaler) allocate(ctx context.Context, size uint32, label string) (*Handle, error) {
	if size == 0 {
		return nil, errors.New(errors.PhaseStage, errors.KindAllocation).
			Value(size).
			Detail("refusing zero-sized %s region", label).
			Build()
	}

	addr, err := m.engine.Allocate(ctx, size)
	if err != nil {
		return nil, errors.AllocationFailed(errors.PhaseStage, size, err)
	}
	if addr == 0 {
		return nil, errors.AllocationFailed(errors.PhaseStage, size, nil)
	}

	m.stats.Allocations++
	h := &Handle{owner: m, label: label, addr: addr, size: size, state: Allocated}
	Logger().Debug("allocated", zap.Stringer("handle", h))
	return h, nil
}

// adopt takes ownership of a region the engine allocated on its own.
func (m *Marshaler) adopt(addr, size uint32, label string) *Handle {
	m.stats.Allocations++
	h := &Handle{owner: m, label: label, addr: addr, size: size, state: Allocated}
	Logger().Debug("adopted", zap.Stringer("handle", h))
	return h
}

func (m *Marshaler) check(h *Handle, phase errors.Phase, op string) error {
	if h == nil {
		return errors.InvalidInput(phase, op+" on nil handle")
	}
	if h.owner != m {
		return errors.New(phase, errors.KindHandleState).
			Value(h.addr).
			Detail("%s on handle owned by another marshaler", op).
			Build()
	}
	if h.state != Allocated {
		return errors.HandleState(phase, op, h.state)
	}
	return nil
}

func (m *Marshaler) write(h *Handle, offset uint32, data []byte) error {
	if err := m.check(h, errors.PhaseStage, "write"); err != nil {
		return err
	}
	if uint64(offset)+uint64(len(data)) > uint64(h.size) {
		return errors.OutOfBounds(errors.PhaseStage, h.addr+offset, uint32(len(data)), nil)
	}
	if err := m.engine.Memory().Write(h.addr+offset, data); err != nil {
		return errors.OutOfBounds(errors.PhaseStage, h.addr+offset, uint32(len(data)), err)
	}
	return nil
}

// StageInput allocates a region for seq's samples as little-endian float32
// and copies them in. If the copy fails the region is released before
// returning.
func (m *Marshaler) StageInput(ctx context.Context, seq pcm.Sequence) (*Handle, error) {
	size := uint64(seq.Len()) * sampleBytes
	if size > math.MaxUint32 {
		return nil, errors.New(errors.PhaseStage, errors.KindAllocation).
			Value(size).
			Detail("%d samples exceed a 32-bit address space", seq.Len()).
			Build()
	}

	h, err := m.allocate(ctx, uint32(size), "input")
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	seq.Range(func(i int, v float32) {
		binary.LittleEndian.PutUint32(buf[i*sampleBytes:], math.Float32bits(v))
	})
	if err := m.write(h, 0, buf); err != nil {
		return nil, stderrors.Join(err, m.Release(ctx, h))
	}
	return h, nil
}

// StageOutputLengthSlot allocates and zeroes the 4-byte slot the engine
// writes its output length into.
func (m *Marshaler) StageOutputLengthSlot(ctx context.Context) (*Handle, error) {
	h, err := m.allocate(ctx, slotBytes, "output-length")
	if err != nil {
		return nil, err
	}
	if err := m.write(h, 0, make([]byte, slotBytes)); err != nil {
		return nil, stderrors.Join(err, m.Release(ctx, h))
	}
	return h, nil
}

// Invoke runs the engine's processing entry point over count samples at in
// and returns the engine-allocated output region, sized to the length the
// engine wrote into slot. A null output fails with KindInvocation; a length
// that is negative or above Config.OutputLimit fails with
// KindInvalidOutputLength after the output region is released.
func (m *Marshaler) Invoke(ctx context.Context, in *Handle, count uint32, req whistler.Request, slot *Handle) (*Handle, error) {
	if err := m.check(in, errors.PhaseInvoke, "invoke"); err != nil {
		return nil, err
	}
	if err := m.check(slot, errors.PhaseInvoke, "invoke"); err != nil {
		return nil, err
	}
	if uint64(count)*sampleBytes > uint64(in.size) {
		return nil, errors.OutOfBounds(errors.PhaseInvoke, in.addr, count*sampleBytes, nil)
	}

	call := whistler.ProcessCall{
		Input:            in.addr,
		Count:            count,
		Instrument:       int32(req.Instrument),
		Semitones:        req.Semitones,
		Volume:           req.Volume,
		OutputLengthSlot: slot.addr,
	}
	Logger().Debug("invoking engine",
		zap.Uint32("input", call.Input),
		zap.Uint32("count", call.Count),
		zap.Stringer("instrument", req.Instrument),
		zap.Int32("semitones", call.Semitones),
		zap.Float32("volume", call.Volume))

	addr, err := m.engine.Process(ctx, call)
	if err != nil {
		return nil, errors.InvocationFailed("engine call failed", err)
	}
	if addr == 0 {
		return nil, errors.InvocationFailed("engine returned a null output address", nil)
	}

	raw, err := m.engine.Memory().ReadU32(slot.addr)
	if err != nil {
		// The output address is real even though its length is unreadable.
		out := m.adopt(addr, 0, "output")
		return nil, stderrors.Join(
			errors.OutOfBounds(errors.PhaseInvoke, slot.addr, slotBytes, err),
			m.Release(ctx, out))
	}

	length := int32(raw)
	limit := m.cfg.OutputLimit(count)
	if length < 0 || uint64(length) > limit || uint64(length)*sampleBytes > math.MaxUint32 {
		out := m.adopt(addr, 0, "output")
		return nil, stderrors.Join(
			errors.InvalidOutputLength(int64(length), limit),
			m.Release(ctx, out))
	}

	return m.adopt(addr, uint32(length)*sampleBytes, "output"), nil
}

// RetrieveOutput copies length float32 samples out of h into a new mono
// Sequence at sampleRate.
func (m *Marshaler) RetrieveOutput(ctx context.Context, h *Handle, length uint32, sampleRate int) (pcm.Sequence, error) {
	if err := m.check(h, errors.PhaseRetrieve, "retrieve"); err != nil {
		return pcm.Sequence{}, err
	}
	size := uint64(length) * sampleBytes
	if size > uint64(h.size) {
		return pcm.Sequence{}, errors.OutOfBounds(errors.PhaseRetrieve, h.addr, uint32(size), nil)
	}

	samples := make([]float32, length)
	if length > 0 {
		// Read returns a view of engine memory; copy before the region is freed.
		data, err := m.engine.Memory().Read(h.addr, uint32(size))
		if err != nil {
			return pcm.Sequence{}, errors.OutOfBounds(errors.PhaseRetrieve, h.addr, uint32(size), err)
		}
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*sampleBytes:]))
		}
	}
	return pcm.Adopt(samples, sampleRate, 1)
}

// Release frees h in the engine exactly once. Releasing a handle that is not
// Allocated fails with KindHandleState and does not reach the engine. The
// handle is Released afterwards even if the engine call fails, so it is never
// freed twice.
func (m *Marshaler) Release(ctx context.Context, h *Handle) error {
	if err := m.check(h, errors.PhaseRelease, "release"); err != nil {
		return err
	}

	h.state = Released
	m.stats.Releases++
	Logger().Debug("releasing", zap.Stringer("handle", h))

	if err := m.engine.Release(ctx, h.addr); err != nil {
		Logger().Warn("engine release failed",
			zap.Uint32("addr", h.addr),
			zap.String("label", h.label),
			zap.Error(err))
		return errors.Wrap(errors.PhaseRelease, errors.KindInvocation, err, "release "+h.label)
	}
	return nil
}
