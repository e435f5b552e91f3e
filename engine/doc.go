// Package engine hosts a compiled audio engine module on wazero.
//
// The engine is an opaque core WebAssembly module (typically a C program
// built with emscripten in standalone mode) that owns its linear memory and
// exposes a small allocation and processing surface, declared in WIT by ABI:
//
//	malloc(size: u32) -> u32                 0 when out of memory
//	free(ptr: u32)
//	process-audio(input, count, instrument,
//	              semitones, volume, output-length) -> u32
//	get-instrument-count() -> s32            optional
//	get-instrument-name(index: s32) -> u32   optional, NUL-terminated
//	initialize()                             optional reactor init
//
// # Loading Flow
//
//  1. NewWazeroEngine creates the wazero runtime
//  2. WazeroEngine.LoadModule compiles the binary and checks every ABI
//     export against the core signature its WIT type lowers to
//  3. WazeroModule.Instantiate links WASI preview1 and emscripten env shims
//     as needed, then runs _initialize if exported
//  4. WazeroInstance implements whistler.Engine
//
// Core export names are the snake_case form of the WIT names and can be
// overridden through Config.Exports.
//
// # Engine Output
//
// Anything the engine prints through WASI is captured per call and logged
// at debug level with the calling export's name.
//
// # Thread Safety
//
// WazeroEngine and WazeroModule are safe for concurrent use. WazeroInstance
// serializes its calls with a mutex.
package engine
