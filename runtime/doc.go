// Package runtime provides the high-level API for processing audio through a
// compiled engine module.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	// Load the engine module
//	if err := rt.LoadEngine(ctx, engineWasm); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Decode an input file (wav, aiff, mp3 or ogg)
//	if err := rt.LoadInput(ctx, fileBytes); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Process and export
//	_, err = rt.RunProcessing(ctx, whistler.Request{
//	    Instrument: whistler.InstrumentFlute,
//	    Semitones:  -5,
//	    Volume:     0.8,
//	})
//	wavBytes, err := rt.ExportOutput()
//
// # Errors
//
// Errors returned by Runtime carry an *errors.Error. Branch on its Kind
// with errors.IsKind, and show errors.Message(kind) to users.
//
// # Lifecycle
//
// A Runtime owns one engine instance and one session. Loading a new engine
// replaces the previous instance; loading new input keeps the last output
// until the next successful run. RunProcessing rejects a second concurrent
// call instead of queuing it.
package runtime
