package session

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/whistler"
	"github.com/wippyai/whistler/errors"
	"github.com/wippyai/whistler/marshal"
	"github.com/wippyai/whistler/pcm"
	"github.com/wippyai/whistler/wav"
)

// Config holds per-session settings.
type Config struct {
	Marshal marshal.Config
	WAV     wav.Options
}

// Session drives one engine through staged processing runs. All methods are
// safe for concurrent use; a second Run while one is in flight fails with
// KindAlreadyProcessing instead of waiting.
type Session struct {
	mu        sync.Mutex
	cfg       Config
	engine    whistler.Engine
	marshaler *marshal.Marshaler
	observer  Observer

	state     State
	input     pcm.Sequence
	hasInput  bool
	output    pcm.Sequence
	hasOutput bool
	failure   *errors.Error
}

// New creates an Idle session.
func New(cfg Config) *Session {
	return &Session{cfg: cfg}
}

// WithObserver sets the event observer and returns s.
func (s *Session) WithObserver(obs Observer) *Session {
	s.mu.Lock()
	s.observer = obs
	s.mu.Unlock()
	return s
}

// AttachEngine sets the engine used by later runs.
func (s *Session) AttachEngine(e whistler.Engine) error {
	s.mu.Lock()
	if s.state == Processing {
		s.mu.Unlock()
		return errors.AlreadyProcessing()
	}
	s.engine = e
	s.marshaler = nil
	if e != nil {
		s.marshaler = marshal.New(e, s.cfg.Marshal)
	}
	ev, changed := s.settleLocked()
	obs := s.observer
	s.mu.Unlock()

	if changed {
		notify(obs, ev)
	}
	return nil
}

// LoadInput replaces the input with channel 0 of seq. Output from an earlier
// run is kept until the next successful run replaces it.
func (s *Session) LoadInput(seq pcm.Sequence) error {
	if seq.Channels() > 1 {
		ch, err := seq.Channel(0)
		if err != nil {
			return err
		}
		seq = ch
	}

	s.mu.Lock()
	if s.state == Processing {
		s.mu.Unlock()
		return errors.AlreadyProcessing()
	}
	s.input = seq
	s.hasInput = true
	ev, changed := s.settleLocked()
	if !changed && (s.state == Complete || s.state == Failed) {
		s.state = Ready
		s.failure = nil
		ev, changed = Event{State: Ready}, true
	}
	obs := s.observer
	s.mu.Unlock()

	Logger().Debug("input loaded",
		zap.Int("samples", seq.Len()),
		zap.Int("sample_rate", seq.SampleRate()))
	if changed {
		notify(obs, ev)
	}
	return nil
}

// settleLocked moves between Idle and Ready as the engine and input come and
// go. Complete and Failed are left alone.
func (s *Session) settleLocked() (Event, bool) {
	ready := s.engine != nil && s.hasInput
	switch {
	case s.state == Idle && ready:
		s.state = Ready
	case s.state != Idle && s.state != Processing && !ready:
		s.state = Idle
	default:
		return Event{}, false
	}
	return Event{State: s.state}, true
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Input returns the loaded input.
func (s *Session) Input() (pcm.Sequence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input, s.hasInput
}

// Output returns the output of the last successful run.
func (s *Session) Output() (pcm.Sequence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output, s.hasOutput
}

// Failure returns the error recorded by the last failed run, or nil.
func (s *Session) Failure() *errors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Export encodes the last output as WAV.
func (s *Session) Export() ([]byte, error) {
	s.mu.Lock()
	out, ok, opts := s.output, s.hasOutput, s.cfg.WAV
	s.mu.Unlock()

	if !ok {
		return nil, errors.NoOutput()
	}
	if err := wav.CheckSize(out); err != nil {
		return nil, err
	}
	return wav.EncodeWithOptions(out, opts), nil
}

// Run processes the loaded input with req. Precondition failures return
// without changing state. Once the run starts, every engine region acquired
// is released before Run returns, and the session ends Complete or Failed.
func (s *Session) Run(ctx context.Context, req whistler.Request) (pcm.Sequence, error) {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		Logger().Debug("run rejected", zap.Error(err))
		return pcm.Sequence{}, err
	}
	s.state = Processing
	s.failure = nil
	m, input, obs := s.marshaler, s.input, s.observer
	s.mu.Unlock()

	notify(obs, Event{State: Processing})
	Logger().Info("processing",
		zap.Int("samples", input.Len()),
		zap.Stringer("instrument", req.Instrument),
		zap.Int32("semitones", req.Semitones),
		zap.Float32("volume", req.Volume))

	out, err := execute(ctx, m, input, req, func(st Stage) {
		notify(obs, Event{State: Processing, Stage: st})
	})

	s.mu.Lock()
	if err != nil {
		s.failure = toError(err)
		s.state = Failed
	} else {
		s.output = out
		s.hasOutput = true
		s.state = Complete
	}
	failure := s.failure
	stats := m.Stats()
	s.mu.Unlock()

	if failure != nil {
		Logger().Warn("processing failed",
			zap.String("kind", string(failure.Kind)),
			zap.Error(err),
			zap.Int("allocations", stats.Allocations),
			zap.Int("releases", stats.Releases))
		notify(obs, Event{State: Failed, Err: failure})
		return pcm.Sequence{}, failure
	}

	Logger().Info("processing complete",
		zap.Int("samples", out.Len()),
		zap.Int("allocations", stats.Allocations),
		zap.Int("releases", stats.Releases))
	notify(obs, Event{State: Complete, Stage: StageComplete})
	return out, nil
}

func (s *Session) checkLocked() error {
	if s.state == Processing {
		return errors.AlreadyProcessing()
	}
	if s.engine == nil {
		return errors.NotReady("engine")
	}
	if !s.hasInput || s.input.IsEmpty() {
		return errors.NoInput("no samples loaded")
	}
	if !s.state.Runnable() {
		return errors.NotReady("session")
	}
	return nil
}

// execute performs one staged run inside a Scope so that every acquired
// handle is released on every exit path.
func execute(ctx context.Context, m *marshal.Marshaler, input pcm.Sequence, req whistler.Request, stage func(Stage)) (_ pcm.Sequence, err error) {
	scope := m.NewScope()
	defer func() {
		if cerr := scope.Close(ctx); cerr != nil {
			err = stderrors.Join(err, cerr)
		}
	}()

	stage(StageStaging)
	in, err := scope.StageInput(ctx, input)
	if err != nil {
		return pcm.Sequence{}, err
	}
	slot, err := scope.StageOutputLengthSlot(ctx)
	if err != nil {
		return pcm.Sequence{}, err
	}

	stage(StageApplying)
	count := uint32(input.Len())
	out, err := scope.Invoke(ctx, in, count, req, slot)
	if err != nil {
		return pcm.Sequence{}, err
	}

	stage(StageRetrieving)
	return m.RetrieveOutput(ctx, out, out.Size()/4, input.SampleRate())
}

// toError returns the first *errors.Error in err's chain, carrying the full
// chain as its cause when err joins several failures.
func toError(err error) *errors.Error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		if e == err {
			return e
		}
		return &errors.Error{
			Phase:  e.Phase,
			Kind:   e.Kind,
			Detail: e.Detail,
			Value:  e.Value,
			Cause:  err,
		}
	}
	return errors.Wrap(errors.PhaseSession, errors.KindInvocation, err, "processing failed")
}

func notify(obs Observer, ev Event) {
	if obs != nil {
		obs(ev)
	}
}
