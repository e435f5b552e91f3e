package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

const (
	wasiModule = wasi_snapshot_preview1.ModuleName
	envModule  = "env"
)

// envShim is a host function standing in for an emscripten runtime import.
type envShim struct {
	fn      api.GoModuleFunc
	params  []api.ValueType
	results []api.ValueType
}

var i32 = api.ValueTypeI32

// envShims covers the imports emscripten's standalone mode leaves in a
// module that only uses malloc and printf.
var envShims = map[string]envShim{
	"emscripten_notify_memory_growth": {
		fn: func(_ context.Context, _ api.Module, stack []uint64) {
			Logger().Debug("engine memory grew", zap.Uint32("index", api.DecodeU32(stack[0])))
		},
		params: []api.ValueType{i32},
	},
	// Refusing to resize makes malloc return 0, which callers already handle.
	"emscripten_resize_heap": {
		fn: func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = 0
		},
		params:  []api.ValueType{i32},
		results: []api.ValueType{i32},
	},
	"emscripten_memcpy_js":  {fn: memcpy, params: []api.ValueType{i32, i32, i32}},
	"emscripten_memcpy_big": {fn: memcpy, params: []api.ValueType{i32, i32, i32}},
}

func memcpy(_ context.Context, mod api.Module, stack []uint64) {
	dst, src, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
	mem := mod.Memory()
	data, ok := mem.Read(src, n)
	if !ok {
		panic(fmt.Sprintf("memcpy source out of bounds: src=%d, n=%d", src, n))
	}
	// Read returns a view; copy so overlapping ranges behave like memmove.
	buf := make([]byte, len(data))
	copy(buf, data)
	if !mem.Write(dst, buf) {
		panic(fmt.Sprintf("memcpy destination out of bounds: dst=%d, n=%d", dst, n))
	}
}

// checkImports rejects modules importing anything the host cannot provide.
func checkImports(compiled wazero.CompiledModule) (needWASI, needEnv bool, err error) {
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		switch module {
		case wasiModule:
			needWASI = true
		case envModule:
			if _, ok := envShims[name]; !ok {
				return false, false, fmt.Errorf("unsupported import %s.%s", module, name)
			}
			needEnv = true
		default:
			return false, false, fmt.Errorf("unsupported import %s.%s", module, name)
		}
	}
	if len(compiled.ImportedMemories()) > 0 {
		return false, false, fmt.Errorf("imported memories are not supported")
	}
	return needWASI, needEnv, nil
}

func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(wasiModule)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}

func instantiateEnv(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(envModule)
	for name, shim := range envShims {
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(shim.fn, shim.params, shim.results).
			Export(name)
	}
	return builder.Instantiate(ctx)
}
