package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/whistler"
	"github.com/wippyai/whistler/engine"
	"github.com/wippyai/whistler/errors"
	"github.com/wippyai/whistler/marshal"
	"github.com/wippyai/whistler/runtime"
	"github.com/wippyai/whistler/session"
	"github.com/wippyai/whistler/wav"
)

type options struct {
	enginePath      string
	inputPath       string
	outputPath      string
	instrument      string
	semitones       int
	volume          float64
	maxOutputFactor uint
	maxOutputSample uint
	memoryPages     uint
	truncate        bool
	verbose         bool
	interactive     bool
	list            bool
}

func main() {
	var opts options
	flag.StringVar(&opts.enginePath, "engine", "", "Path to the engine wasm module")
	flag.StringVar(&opts.inputPath, "input", "", "Audio file to process (wav, aiff, mp3, ogg)")
	flag.StringVar(&opts.outputPath, "o", runtime.DefaultOutputName, "Output WAV file")
	flag.StringVar(&opts.instrument, "instrument", "Pad", "Instrument name or tag (0-9)")
	flag.IntVar(&opts.semitones, "semitones", 0, "Pitch shift in semitones")
	flag.Float64Var(&opts.volume, "volume", 100, "Volume in percent")
	flag.UintVar(&opts.maxOutputFactor, "max-output-factor", marshal.DefaultMaxOutputFactor, "Largest accepted output length as a multiple of the input length")
	flag.UintVar(&opts.maxOutputSample, "max-output-samples", 0, "Absolute cap on output samples (0 disables)")
	flag.UintVar(&opts.memoryPages, "memory-pages", 0, "Engine memory limit in 64KiB pages (0 uses the wazero default)")
	flag.BoolVar(&opts.truncate, "truncate", false, "Quantize output by truncation instead of rounding")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive mode with TUI")
	flag.BoolVar(&opts.list, "list", false, "List instruments and exit")
	flag.Parse()

	if opts.enginePath == "" && flag.NArg() > 0 {
		opts.enginePath = flag.Arg(0)
	}
	if opts.inputPath == "" && flag.NArg() > 1 {
		opts.inputPath = flag.Arg(1)
	}

	if opts.enginePath == "" || (opts.inputPath == "" && !opts.list) {
		fmt.Fprintln(os.Stderr, "Usage: whistler -engine <engine.wasm> -input <audio> [-o out.wav] [-instrument Pad] [-semitones n] [-volume pct]")
		fmt.Fprintln(os.Stderr, "       whistler -engine <engine.wasm> -list")
		fmt.Fprintln(os.Stderr, "       whistler -engine <engine.wasm> -input <audio> -i  (interactive mode)")
		os.Exit(1)
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	setLoggers(logger)

	if opts.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		logger.Debug("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	return cfg.Build()
}

func setLoggers(l *zap.Logger) {
	engine.SetLogger(l.Named("engine"))
	marshal.SetLogger(l.Named("marshal"))
	session.SetLogger(l.Named("session"))
	runtime.SetLogger(l.Named("runtime"))
}

// maxMemoryPages is the 4GiB ceiling of a 32-bit linear memory.
const maxMemoryPages = 65536

func (o options) config(observer session.Observer) (*runtime.Config, error) {
	factor, err := toUint32("max-output-factor", o.maxOutputFactor)
	if err != nil {
		return nil, err
	}
	samples, err := toUint32("max-output-samples", o.maxOutputSample)
	if err != nil {
		return nil, err
	}
	if o.memoryPages > maxMemoryPages {
		return nil, fmt.Errorf("memory-pages %d exceeds %d", o.memoryPages, maxMemoryPages)
	}

	cfg := &runtime.Config{Observer: observer}
	cfg.Engine.MemoryLimitPages = uint32(o.memoryPages)
	cfg.Session.Marshal = marshal.Config{
		MaxOutputFactor:  factor,
		MaxOutputSamples: samples,
	}
	if o.truncate {
		cfg.Session.WAV.Quantize = wav.QuantizeTruncate
	}
	return cfg, nil
}

func toUint32(name string, v uint) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%s %d exceeds %d", name, v, uint64(math.MaxUint32))
	}
	return uint32(v), nil
}

func (o options) request() (whistler.Request, error) {
	inst, err := whistler.ParseInstrument(o.instrument)
	if err != nil {
		return whistler.Request{}, err
	}
	if o.semitones < math.MinInt32 || o.semitones > math.MaxInt32 {
		return whistler.Request{}, fmt.Errorf("semitones %d out of range", o.semitones)
	}
	return whistler.Request{
		Instrument: inst,
		Semitones:  int32(o.semitones),
		Volume:     volumeFromPercent(o.volume),
	}, nil
}

func volumeFromPercent(pct float64) float32 {
	return float32(pct / 100)
}

func run(opts options) error {
	ctx := context.Background()

	req, err := opts.request()
	if err != nil {
		return err
	}

	cfg, err := opts.config(printStage)
	if err != nil {
		return err
	}
	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	wasm, err := os.ReadFile(opts.enginePath)
	if err != nil {
		return fmt.Errorf("read engine: %w", err)
	}
	if err := rt.LoadEngine(ctx, wasm); err != nil {
		return err
	}

	if opts.list {
		return listInstruments(ctx, rt)
	}

	raw, err := os.ReadFile(opts.inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if err := rt.LoadInput(ctx, raw); err != nil {
		return err
	}

	out, err := rt.RunProcessing(ctx, req)
	if err != nil {
		return err
	}
	data, err := rt.ExportOutput()
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.outputPath, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Printf("Wrote %s (%d samples at %d Hz, %s)\n", opts.outputPath, out.Len(), out.SampleRate(), req.Instrument)
	return nil
}

func listInstruments(ctx context.Context, rt *runtime.Runtime) error {
	list, err := rt.Instruments(ctx)
	if err != nil {
		return err
	}
	for _, info := range list {
		fmt.Printf("  %d  %s\n", info.Instrument, info.Name)
	}
	return nil
}

func printStage(ev session.Event) {
	if ev.Stage == "" {
		return
	}
	fmt.Printf("%s...\n", ev.Stage)
}

// describe prefers the user-facing message for runtime errors.
func describe(err error) string {
	kind := errors.KindOf(err)
	if kind == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s (%v)", errors.Message(kind), err)
}
