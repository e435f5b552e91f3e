package session

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/wippyai/whistler"
	"github.com/wippyai/whistler/errors"
	"github.com/wippyai/whistler/internal/enginetest"
	"github.com/wippyai/whistler/marshal"
	"github.com/wippyai/whistler/pcm"
	"github.com/wippyai/whistler/wav"
)

var unity = whistler.Request{Instrument: whistler.InstrumentPad, Volume: 1}

func seq(t *testing.T, rate int, samples ...float32) pcm.Sequence {
	t.Helper()
	s, err := pcm.Mono(samples, rate)
	if err != nil {
		t.Fatalf("pcm.Mono: %v", err)
	}
	return s
}

func readySession(t *testing.T, eng whistler.Engine, input pcm.Sequence) *Session {
	t.Helper()
	s := New(Config{})
	if err := s.AttachEngine(eng); err != nil {
		t.Fatalf("AttachEngine: %v", err)
	}
	if err := s.LoadInput(input); err != nil {
		t.Fatalf("LoadInput: %v", err)
	}
	if s.State() != Ready {
		t.Fatalf("state = %s, want ready", s.State())
	}
	return s
}

func TestStateTransitions(t *testing.T) {
	s := New(Config{})
	if s.State() != Idle {
		t.Fatalf("new session state = %s", s.State())
	}

	if err := s.LoadInput(seq(t, 8000, 1)); err != nil {
		t.Fatal(err)
	}
	if s.State() != Idle {
		t.Errorf("input without engine: state = %s, want idle", s.State())
	}

	if err := s.AttachEngine(enginetest.New(4096)); err != nil {
		t.Fatal(err)
	}
	if s.State() != Ready {
		t.Errorf("engine and input: state = %s, want ready", s.State())
	}

	if _, err := s.Run(context.Background(), unity); err != nil {
		t.Fatal(err)
	}
	if s.State() != Complete {
		t.Errorf("after run: state = %s, want complete", s.State())
	}

	if err := s.LoadInput(seq(t, 8000, 0.5)); err != nil {
		t.Fatal(err)
	}
	if s.State() != Ready {
		t.Errorf("new input after complete: state = %s, want ready", s.State())
	}
	if _, ok := s.Output(); !ok {
		t.Error("output dropped by new input")
	}

	if err := s.AttachEngine(nil); err != nil {
		t.Fatal(err)
	}
	if s.State() != Idle {
		t.Errorf("engine detached: state = %s, want idle", s.State())
	}
}

func TestRunPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("no engine", func(t *testing.T) {
		s := New(Config{})
		_ = s.LoadInput(seq(t, 8000, 1))
		_, err := s.Run(ctx, unity)
		if !errors.IsKind(err, errors.KindNotReady) {
			t.Fatalf("err = %v, want not_ready", err)
		}
		if s.State() != Idle || s.Failure() != nil {
			t.Errorf("state = %s, failure = %v; want unchanged", s.State(), s.Failure())
		}
	})

	t.Run("no input", func(t *testing.T) {
		eng := enginetest.New(4096)
		s := New(Config{})
		_ = s.AttachEngine(eng)
		_, err := s.Run(ctx, unity)
		if !errors.IsKind(err, errors.KindNoInput) {
			t.Fatalf("err = %v, want no_input", err)
		}
		if s.State() != Idle {
			t.Errorf("state = %s, want idle", s.State())
		}
		if a, _ := eng.Counts(); a != 0 {
			t.Errorf("engine saw %d allocations", a)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		eng := enginetest.New(4096)
		s := readySession(t, eng, seq(t, 8000))
		_, err := s.Run(ctx, unity)
		if !errors.IsKind(err, errors.KindNoInput) {
			t.Fatalf("err = %v, want no_input", err)
		}
		if s.State() != Ready {
			t.Errorf("state = %s, want ready", s.State())
		}
		if eng.ProcessCalls != 0 {
			t.Errorf("engine invoked %d times", eng.ProcessCalls)
		}
	})
}

func TestLoadInputKeepsFirstChannel(t *testing.T) {
	stereo, err := pcm.New([]float32{0.1, 0.9, 0.2, 0.8}, 8000, 2)
	if err != nil {
		t.Fatal(err)
	}
	s := New(Config{})
	if err := s.LoadInput(stereo); err != nil {
		t.Fatal(err)
	}
	in, ok := s.Input()
	if !ok {
		t.Fatal("no input")
	}
	if !in.Equal(seq(t, 8000, 0.1, 0.2)) {
		t.Errorf("input = %v %v", in, in.Samples())
	}
}

func TestRunEndToEndWAV(t *testing.T) {
	s := readySession(t, enginetest.New(4096).WithProcess(enginetest.Identity),
		seq(t, 8000, 0, 0.5, -0.5, 1.0))

	if _, err := s.Export(); !errors.IsKind(err, errors.KindNoOutput) {
		t.Fatalf("export before run: err = %v, want no_output", err)
	}

	out, err := s.Run(context.Background(), unity)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != 4 || out.SampleRate() != 8000 {
		t.Fatalf("output = %v", out)
	}

	got, err := s.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	want := []byte{
		'R', 'I', 'F', 'F', 44, 0, 0, 0, 'W', 'A', 'V', 'E',
		'f', 'm', 't', ' ', 16, 0, 0, 0, 1, 0, 1, 0,
		0x40, 0x1f, 0, 0, 0x80, 0x3e, 0, 0, 2, 0, 16, 0,
		'd', 'a', 't', 'a', 8, 0, 0, 0,
		0x00, 0x00, 0x00, 0x40, 0x00, 0xc0, 0xff, 0x7f,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Export =\n% x\nwant\n% x", got, want)
	}
}

func TestRunTruncateOption(t *testing.T) {
	s := New(Config{WAV: wav.Options{Quantize: wav.QuantizeTruncate}})
	_ = s.AttachEngine(enginetest.New(4096).WithProcess(enginetest.Identity))
	_ = s.LoadInput(seq(t, 8000, 0.5))
	if _, err := s.Run(context.Background(), unity); err != nil {
		t.Fatal(err)
	}
	got, err := s.Export()
	if err != nil {
		t.Fatal(err)
	}
	// 0.5 * 32767 = 16383.5 truncates to 16383.
	if got[44] != 0xff || got[45] != 0x3f {
		t.Errorf("sample bytes = % x, want ff 3f", got[44:46])
	}
}

func TestRunReleasesOnEveryPath(t *testing.T) {
	tests := []struct {
		name    string
		failAt  int
		process enginetest.ProcessFunc
		kind    errors.Kind
	}{
		{"success", 0, enginetest.Gain, ""},
		{"input allocation", 1, enginetest.Gain, errors.KindAllocation},
		{"slot allocation", 2, enginetest.Gain, errors.KindAllocation},
		{"engine output allocation", 3, enginetest.Gain, errors.KindInvocation},
		{"null output", 0, enginetest.NullOutput, errors.KindInvocation},
		{"trap", 0, enginetest.Trap, errors.KindInvocation},
		{"negative length", 0, enginetest.ReportLength(-5), errors.KindInvalidOutputLength},
		{"implausible length", 0, enginetest.ReportLength(1 << 20), errors.KindInvalidOutputLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := enginetest.New(4096).WithProcess(tt.process).FailAllocationAt(tt.failAt)
			s := readySession(t, eng, seq(t, 8000, 0.1, 0.2, 0.3))

			_, err := s.Run(context.Background(), unity)

			a, r := eng.Counts()
			if a != r {
				t.Errorf("allocations %d != releases %d", a, r)
			}
			if eng.Live() != 0 {
				t.Errorf("engine holds %d regions", eng.Live())
			}
			if len(eng.BadReleases) != 0 {
				t.Errorf("bad releases: %v", eng.BadReleases)
			}

			if tt.kind == "" {
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				if a != 3 {
					t.Errorf("allocations = %d, want 3", a)
				}
				if s.State() != Complete {
					t.Errorf("state = %s, want complete", s.State())
				}
				return
			}

			if !errors.IsKind(err, tt.kind) {
				t.Fatalf("err = %v, want %s", err, tt.kind)
			}
			if s.State() != Failed {
				t.Errorf("state = %s, want failed", s.State())
			}
			f := s.Failure()
			if f == nil || f.Kind != tt.kind {
				t.Errorf("recorded failure = %v, want %s", f, tt.kind)
			}
			if _, ok := s.Output(); ok {
				t.Error("failed run stored output")
			}
		})
	}
}

func TestRunRetryAfterFailure(t *testing.T) {
	eng := enginetest.New(4096).FailAllocationAt(1)
	s := readySession(t, eng, seq(t, 8000, 0.25))

	if _, err := s.Run(context.Background(), unity); err == nil {
		t.Fatal("first run succeeded")
	}
	out, err := s.Run(context.Background(), unity)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.State() != Complete || s.Failure() != nil {
		t.Errorf("state = %s, failure = %v", s.State(), s.Failure())
	}
	if out.At(0) != 0.25 {
		t.Errorf("output = %v", out.Samples())
	}
}

func TestRunIdempotent(t *testing.T) {
	s := readySession(t, enginetest.New(1<<16), seq(t, 44100, 0.1, -0.2, 0.3, -0.4))
	req := whistler.Request{Instrument: whistler.InstrumentBrass, Semitones: 5, Volume: 0.5}

	first, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(second) {
		t.Errorf("runs differ: %v vs %v", first.Samples(), second.Samples())
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	eng := enginetest.New(4096).WithProcess(
		func(ctx context.Context, e *enginetest.Engine, call whistler.ProcessCall) (uint32, error) {
			close(started)
			<-proceed
			return enginetest.Identity(ctx, e, call)
		})
	s := readySession(t, eng, seq(t, 8000, 0.5, 0.25))

	var (
		wg       sync.WaitGroup
		firstOut pcm.Sequence
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstOut, firstErr = s.Run(context.Background(), unity)
	}()

	<-started
	if s.State() != Processing {
		t.Errorf("state = %s, want processing", s.State())
	}
	_, err := s.Run(context.Background(), unity)
	if !errors.IsKind(err, errors.KindAlreadyProcessing) {
		t.Errorf("second run err = %v, want already_processing", err)
	}
	if err := s.LoadInput(seq(t, 8000, 1)); !errors.IsKind(err, errors.KindAlreadyProcessing) {
		t.Errorf("load during run err = %v, want already_processing", err)
	}

	close(proceed)
	wg.Wait()

	if firstErr != nil {
		t.Fatalf("first run: %v", firstErr)
	}
	if !firstOut.Equal(seq(t, 8000, 0.5, 0.25)) {
		t.Errorf("first output = %v", firstOut.Samples())
	}
	if s.State() != Complete {
		t.Errorf("state = %s, want complete", s.State())
	}
	if eng.ProcessCalls != 1 {
		t.Errorf("engine invoked %d times, want 1", eng.ProcessCalls)
	}
}

func TestObserverEvents(t *testing.T) {
	var events []Event
	s := New(Config{}).WithObserver(func(ev Event) { events = append(events, ev) })
	_ = s.AttachEngine(enginetest.New(4096))
	_ = s.LoadInput(seq(t, 8000, 0.5))
	if _, err := s.Run(context.Background(), unity); err != nil {
		t.Fatal(err)
	}

	want := []Event{
		{State: Ready},
		{State: Processing},
		{State: Processing, Stage: StageStaging},
		{State: Processing, Stage: StageApplying},
		{State: Processing, Stage: StageRetrieving},
		{State: Complete, Stage: StageComplete},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestObserverFailureEvent(t *testing.T) {
	var last Event
	s := New(Config{}).WithObserver(func(ev Event) { last = ev })
	_ = s.AttachEngine(enginetest.New(4096).WithProcess(enginetest.Trap))
	_ = s.LoadInput(seq(t, 8000, 0.5))
	_, _ = s.Run(context.Background(), unity)

	if last.State != Failed || !errors.IsKind(last.Err, errors.KindInvocation) {
		t.Errorf("last event = %+v", last)
	}
}

func TestOutputBoundFromConfig(t *testing.T) {
	eng := enginetest.New(4096).WithProcess(enginetest.ReportLength(3))
	s := New(Config{Marshal: marshal.Config{MaxOutputFactor: 2}})
	_ = s.AttachEngine(eng)
	_ = s.LoadInput(seq(t, 8000, 0.5))

	_, err := s.Run(context.Background(), unity)
	if !errors.IsKind(err, errors.KindInvalidOutputLength) {
		t.Fatalf("err = %v, want invalid_output_length", err)
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		Idle: "idle", Ready: "ready", Processing: "processing",
		Complete: "complete", Failed: "failed", State(9): "State(9)",
	} {
		if st.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(st), st.String(), want)
		}
	}
}
