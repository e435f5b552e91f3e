package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/whistler"
)

// maxNameLength bounds how far InstrumentName scans for a terminating NUL.
const maxNameLength = 256

// WazeroEngine compiles and hosts engine modules on a wazero runtime.
type WazeroEngine struct {
	runtime  wazero.Runtime
	exports  Exports
	hostMu   sync.Mutex
	wasiDone bool
	envDone  bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// Exports overrides the core export names of the ABI functions.
	Exports Exports
}

// NewWazeroEngine creates a new wazero-based engine host. cfg may be nil.
func NewWazeroEngine(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	var exports Exports

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		exports = cfg.Exports
	}

	return &WazeroEngine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		exports: exports.withDefaults(),
	}, nil
}

// Exports returns the export names modules are validated against.
func (e *WazeroEngine) Exports() Exports {
	return e.exports
}

// LoadModule compiles wasmBytes and validates its exports against ABI.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile failed: %w", err)
	}

	if len(compiled.ExportedMemories()) == 0 {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("module exports no memory")
	}
	if err := validateExports(compiled.ExportedFunctions(), e.exports); err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("validate exports: %w", err)
	}
	needWASI, needEnv, err := checkImports(compiled)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	Logger().Debug("module loaded",
		zap.Int("size", len(wasmBytes)),
		zap.Bool("wasi", needWASI),
		zap.Bool("env", needEnv))

	return &WazeroModule{
		engine:   e,
		compiled: compiled,
		needWASI: needWASI,
		needEnv:  needEnv,
	}, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// initHostModules instantiates the WASI and env singletons a module needs.
// Safe for concurrent calls from multiple modules sharing the same engine.
func (e *WazeroEngine) initHostModules(ctx context.Context, needWASI, needEnv bool) error {
	e.hostMu.Lock()
	defer e.hostMu.Unlock()

	if needWASI && !e.wasiDone {
		if _, err := instantiateWASI(ctx, e.runtime); err != nil {
			return fmt.Errorf("instantiate WASI: %w", err)
		}
		e.wasiDone = true
	}
	if needEnv && !e.envDone {
		if _, err := instantiateEnv(ctx, e.runtime); err != nil {
			return fmt.Errorf("instantiate env: %w", err)
		}
		e.envDone = true
	}
	return nil
}

// WazeroModule is a compiled, validated engine module.
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
	needWASI bool
	needEnv  bool
}

// ExportNames returns the module's exported function names.
func (m *WazeroModule) ExportNames() []string {
	defs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	return names
}

// Instantiate creates an instance and runs its reactor initializer, if any.
// Start functions are not run.
func (m *WazeroModule) Instantiate(ctx context.Context) (*WazeroInstance, error) {
	if err := m.engine.initHostModules(ctx, m.needWASI, m.needEnv); err != nil {
		return nil, err
	}

	inst := &WazeroInstance{stackBuf: make([]uint64, 6)}

	modConfig := wazero.NewModuleConfig().
		WithName(""). // anonymous for parallel instantiation
		WithStartFunctions().
		WithStdout(&inst.stdout).
		WithStderr(&inst.stderr)

	instance, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, fmt.Errorf("instantiate failed: %w", err)
	}

	exports := m.engine.exports
	inst.instance = instance
	inst.memory = &WazeroMemory{mem: instance.Memory()}
	inst.mallocFn = instance.ExportedFunction(exports.Malloc)
	inst.freeFn = instance.ExportedFunction(exports.Free)
	inst.processFn = instance.ExportedFunction(exports.Process)
	inst.countFn = instance.ExportedFunction(exports.InstrumentCount)
	inst.nameFn = instance.ExportedFunction(exports.InstrumentName)

	if initFn := instance.ExportedFunction(exports.Initialize); initFn != nil {
		inst.mu.Lock()
		err := inst.call(ctx, initFn, 0)
		inst.mu.Unlock()
		if err != nil {
			_ = instance.Close(ctx)
			return nil, fmt.Errorf("%s: %w", exports.Initialize, err)
		}
	}

	return inst, nil
}

// WazeroInstance is a running engine. It implements whistler.Engine and
// whistler.InstrumentCatalog. Calls are serialized.
type WazeroInstance struct {
	instance  api.Module
	memory    *WazeroMemory
	mallocFn  api.Function
	freeFn    api.Function
	processFn api.Function
	countFn   api.Function
	nameFn    api.Function
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	stackBuf  []uint64
	mu        sync.Mutex
}

// call runs fn with the first n stack slots as parameters and logs whatever
// the engine printed. The caller holds mu.
func (i *WazeroInstance) call(ctx context.Context, fn api.Function, n int) error {
	if i.instance == nil {
		return fmt.Errorf("instance closed")
	}
	err := fn.CallWithStack(ctx, i.stackBuf[:max(n, 1)])
	i.flushOutput(funcName(fn))
	return err
}

func funcName(fn api.Function) string {
	def := fn.Definition()
	if names := def.ExportNames(); len(names) > 0 {
		return names[0]
	}
	return def.DebugName()
}

func (i *WazeroInstance) flushOutput(fn string) {
	for stream, buf := range map[string]*bytes.Buffer{"stdout": &i.stdout, "stderr": &i.stderr} {
		if buf.Len() == 0 {
			continue
		}
		for _, line := range bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n")) {
			Logger().Debug("engine output",
				zap.String("stream", stream),
				zap.String("func", fn),
				zap.ByteString("line", line))
		}
		buf.Reset()
	}
}

// Memory returns the engine's linear memory. The view stays valid across
// memory growth.
func (i *WazeroInstance) Memory() whistler.Memory {
	return i.memory
}

// Allocate calls the engine's malloc. A 0 result means the engine is out of
// memory.
func (i *WazeroInstance) Allocate(ctx context.Context, size uint32) (uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.stackBuf[0] = api.EncodeU32(size)
	if err := i.call(ctx, i.mallocFn, 1); err != nil {
		return 0, err
	}
	return api.DecodeU32(i.stackBuf[0]), nil
}

// Release calls the engine's free.
func (i *WazeroInstance) Release(ctx context.Context, ptr uint32) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.stackBuf[0] = api.EncodeU32(ptr)
	return i.call(ctx, i.freeFn, 1)
}

// Process calls the engine's processing entry point.
func (i *WazeroInstance) Process(ctx context.Context, c whistler.ProcessCall) (uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.stackBuf[0] = api.EncodeU32(c.Input)
	i.stackBuf[1] = api.EncodeU32(c.Count)
	i.stackBuf[2] = api.EncodeI32(c.Instrument)
	i.stackBuf[3] = api.EncodeI32(c.Semitones)
	i.stackBuf[4] = api.EncodeF32(c.Volume)
	i.stackBuf[5] = api.EncodeU32(c.OutputLengthSlot)
	if err := i.call(ctx, i.processFn, 6); err != nil {
		return 0, err
	}
	return api.DecodeU32(i.stackBuf[0]), nil
}

// HasCatalog reports whether the engine exports both instrument queries.
func (i *WazeroInstance) HasCatalog() bool {
	return i.countFn != nil && i.nameFn != nil
}

// InstrumentCount asks the engine how many instruments it knows.
func (i *WazeroInstance) InstrumentCount(ctx context.Context) (int, error) {
	if i.countFn == nil {
		return 0, fmt.Errorf("engine does not export an instrument count")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.call(ctx, i.countFn, 0); err != nil {
		return 0, err
	}
	return int(api.DecodeI32(i.stackBuf[0])), nil
}

// InstrumentName asks the engine for the name of inst.
func (i *WazeroInstance) InstrumentName(ctx context.Context, inst whistler.Instrument) (string, error) {
	if i.nameFn == nil {
		return "", fmt.Errorf("engine does not export instrument names")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.stackBuf[0] = api.EncodeI32(int32(inst))
	if err := i.call(ctx, i.nameFn, 1); err != nil {
		return "", err
	}
	addr := api.DecodeU32(i.stackBuf[0])
	if addr == 0 {
		return "", fmt.Errorf("no name for instrument %d", int32(inst))
	}
	return i.memory.ReadCString(addr, maxNameLength)
}

func (i *WazeroInstance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.instance == nil {
		return nil
	}
	err := i.instance.Close(ctx)
	i.instance = nil
	return err
}

var (
	_ whistler.Engine            = (*WazeroInstance)(nil)
	_ whistler.InstrumentCatalog = (*WazeroInstance)(nil)
)
