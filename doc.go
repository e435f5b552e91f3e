// Package whistler hosts a compiled WebAssembly audio engine that turns a
// recorded melody into a synthesized instrument track.
//
// The host decodes an input recording, copies its first channel into the
// engine's linear memory, invokes the engine's process entry point with an
// instrument, a pitch shift and a volume, copies the produced samples back
// out and serializes them as a 16-bit PCM WAV file.
//
// # Architecture Overview
//
//	whistler/           Root package with Memory, Engine and Request types
//	├── runtime/        High-level API: load engine, load input, run, export
//	├── session/        Processing state machine and lifecycle events
//	├── marshal/        Buffer staging and retrieval across the engine boundary
//	├── engine/         wazero host for the engine module and its imports
//	├── decode/         WAV, AIFF, MP3 and Ogg Vorbis input decoding
//	├── wav/            16-bit PCM WAV encoder
//	├── pcm/            Immutable sample sequences
//	└── errors/         Structured error types
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	if err := rt.LoadEngine(ctx, engineWasm); err != nil {
//	    log.Fatal(err)
//	}
//	if err := rt.LoadInput(ctx, recording); err != nil {
//	    log.Fatal(err)
//	}
//
//	_, err = rt.RunProcessing(ctx, whistler.Request{
//	    Instrument: whistler.InstrumentFlute,
//	    Volume:     0.8,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := rt.ExportOutput()
//
// # Engine Memory
//
// Every buffer placed in engine memory is released exactly once on every
// path, including failures. Engine linear memory can only grow, so a
// session reuses the same instance across runs and relies on the engine's
// free to recycle regions.
//
// # Thread Safety
//
// Runtime and Session are safe for concurrent use. A session runs at most
// one processing call at a time; a concurrent call fails with an
// already_processing error.
package whistler
