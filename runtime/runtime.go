package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/whistler"
	"github.com/wippyai/whistler/decode"
	"github.com/wippyai/whistler/engine"
	"github.com/wippyai/whistler/errors"
	"github.com/wippyai/whistler/pcm"
	"github.com/wippyai/whistler/session"
)

// DefaultOutputName is the file name suggested for exported output.
const DefaultOutputName = "whistler_output.wav"

// Config holds runtime configuration. The zero value is usable.
type Config struct {
	Engine  engine.Config
	Session session.Config

	// Decoders overrides the input decoders. nil uses decode.NewRegistry.
	Decoders *decode.Registry

	// Observer receives session events, plus a StageLoading event while
	// input is decoded.
	Observer session.Observer
}

type Runtime struct {
	engine   *engine.WazeroEngine
	session  *session.Session
	decoders *decode.Registry
	observer session.Observer

	mu       sync.Mutex
	instance *engine.WazeroInstance
}

// New creates a runtime. cfg may be nil.
func New(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	eng, err := engine.NewWazeroEngine(ctx, &cfg.Engine)
	if err != nil {
		return nil, errors.Load("create engine", err)
	}

	decoders := cfg.Decoders
	if decoders == nil {
		decoders = decode.NewRegistry()
	}

	return &Runtime{
		engine:   eng,
		session:  session.New(cfg.Session).WithObserver(cfg.Observer),
		decoders: decoders,
		observer: cfg.Observer,
	}, nil
}

// Close releases the engine instance and the wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.instance != nil {
		_ = r.session.AttachEngine(nil)
		_ = r.instance.Close(ctx)
		r.instance = nil
	}
	return r.engine.Close(ctx)
}

// Session returns the runtime's session.
func (r *Runtime) Session() *session.Session {
	return r.session
}

// State returns the session state.
func (r *Runtime) State() session.State {
	return r.session.State()
}

// LoadEngine compiles and instantiates an engine module and attaches it to
// the session. A previously loaded engine is closed.
func (r *Runtime) LoadEngine(ctx context.Context, wasm []byte) error {
	if len(wasm) == 0 {
		return errors.InvalidInput(errors.PhaseLoad, "empty engine module")
	}

	mod, err := r.engine.LoadModule(ctx, wasm)
	if err != nil {
		return errors.Load("load module", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return errors.Instantiation(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.session.AttachEngine(inst); err != nil {
		_ = inst.Close(ctx)
		return err
	}
	if r.instance != nil {
		_ = r.instance.Close(ctx)
	}
	r.instance = inst

	Logger().Info("engine loaded",
		zap.Int("size", len(wasm)),
		zap.Bool("catalog", inst.HasCatalog()))
	return nil
}

// LoadInput decodes raw and makes its first channel the session input.
func (r *Runtime) LoadInput(ctx context.Context, raw []byte) error {
	if r.observer != nil {
		r.observer(session.Event{State: r.session.State(), Stage: session.StageLoading})
	}

	seq, err := r.decoders.Decode(raw)
	if err != nil {
		Logger().Warn("decode failed", zap.Int("size", len(raw)), zap.Error(err))
		return err
	}
	if err := r.session.LoadInput(seq); err != nil {
		return err
	}

	Logger().Info("input loaded",
		zap.Int("frames", seq.Frames()),
		zap.Int("channels", seq.Channels()),
		zap.Int("sample_rate", seq.SampleRate()))
	return nil
}

// RunProcessing runs the engine over the loaded input.
func (r *Runtime) RunProcessing(ctx context.Context, req whistler.Request) (pcm.Sequence, error) {
	return r.session.Run(ctx, req)
}

// ExportOutput returns the last output as a WAV file.
func (r *Runtime) ExportOutput() ([]byte, error) {
	return r.session.Export()
}

// InstrumentInfo describes one selectable instrument.
type InstrumentInfo struct {
	Instrument whistler.Instrument
	Name       string
}

// Instruments lists the instruments the loaded engine reports, or the
// built-in list when no engine is loaded or it has no catalog.
func (r *Runtime) Instruments(ctx context.Context) ([]InstrumentInfo, error) {
	r.mu.Lock()
	inst := r.instance
	r.mu.Unlock()

	if inst == nil || !inst.HasCatalog() {
		return builtinInstruments(), nil
	}
	return catalogInstruments(ctx, inst)
}

func builtinInstruments() []InstrumentInfo {
	all := whistler.Instruments()
	out := make([]InstrumentInfo, len(all))
	for i, in := range all {
		out[i] = InstrumentInfo{Instrument: in, Name: in.String()}
	}
	return out
}

func catalogInstruments(ctx context.Context, c whistler.InstrumentCatalog) ([]InstrumentInfo, error) {
	n, err := c.InstrumentCount(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvocation, err, "instrument count")
	}
	if n < 0 {
		return nil, errors.InvalidData(errors.PhaseRuntime, "negative instrument count")
	}

	out := make([]InstrumentInfo, 0, n)
	for i := range n {
		in := whistler.Instrument(i)
		name, err := c.InstrumentName(ctx, in)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvocation, err, "instrument name")
		}
		out = append(out, InstrumentInfo{Instrument: in, Name: name})
	}
	return out, nil
}
