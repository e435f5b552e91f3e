package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
)

// ABI declares the engine's exports. Core export names default to the
// snake_case form of each WIT name.
const ABI = `
malloc: func(size: u32) -> u32;
free: func(ptr: u32);
process-audio: func(input: u32, count: u32, instrument: s32, semitones: s32, volume: f32, output-length: u32) -> u32;
get-instrument-count: func() -> s32;
get-instrument-name: func(index: s32) -> u32;
initialize: func();
`

// WIT names of the ABI functions.
const (
	FuncMalloc          = "malloc"
	FuncFree            = "free"
	FuncProcess         = "process-audio"
	FuncInstrumentCount = "get-instrument-count"
	FuncInstrumentName  = "get-instrument-name"
	FuncInitialize      = "initialize"
)

// Exports maps ABI functions to core export names. Empty fields use the
// defaults from DefaultExports.
type Exports struct {
	Malloc          string
	Free            string
	Process         string
	InstrumentCount string
	InstrumentName  string
	Initialize      string
}

// DefaultExports returns the export names of a standard engine build.
func DefaultExports() Exports {
	return Exports{
		Malloc:          exportName(FuncMalloc),
		Free:            exportName(FuncFree),
		Process:         exportName(FuncProcess),
		InstrumentCount: exportName(FuncInstrumentCount),
		InstrumentName:  exportName(FuncInstrumentName),
		Initialize:      "_" + exportName(FuncInitialize),
	}
}

func (e Exports) withDefaults() Exports {
	d := DefaultExports()
	if e.Malloc == "" {
		e.Malloc = d.Malloc
	}
	if e.Free == "" {
		e.Free = d.Free
	}
	if e.Process == "" {
		e.Process = d.Process
	}
	if e.InstrumentCount == "" {
		e.InstrumentCount = d.InstrumentCount
	}
	if e.InstrumentName == "" {
		e.InstrumentName = d.InstrumentName
	}
	if e.Initialize == "" {
		e.Initialize = d.Initialize
	}
	return e
}

// binding ties a WIT function to its core export.
type binding struct {
	wit      string
	export   string
	required bool
}

func (e Exports) bindings() []binding {
	return []binding{
		{FuncMalloc, e.Malloc, true},
		{FuncFree, e.Free, true},
		{FuncProcess, e.Process, true},
		{FuncInstrumentCount, e.InstrumentCount, false},
		{FuncInstrumentName, e.InstrumentName, false},
		{FuncInitialize, e.Initialize, false},
	}
}

type funcSignature struct {
	params  []wit.Type
	results []wit.Type
}

var funcPattern = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// parseABI extracts function signatures from WIT text.
// Pattern: name: func(params) -> result;
func parseABI(text string) (map[string]funcSignature, error) {
	funcs := make(map[string]funcSignature)

	for _, match := range funcPattern.FindAllStringSubmatch(text, -1) {
		name := match[1]
		var sig funcSignature

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range strings.Split(params, ",") {
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = p[idx+1:]
				}
				t, err := wit.ParseType(strings.TrimSpace(typStr))
				if err != nil {
					return nil, fmt.Errorf("%s: parse param type %q: %w", name, typStr, err)
				}
				sig.params = append(sig.params, t)
			}
		}

		if result := strings.TrimSpace(match[3]); result != "" {
			t, err := wit.ParseType(result)
			if err != nil {
				return nil, fmt.Errorf("%s: parse result type %q: %w", name, result, err)
			}
			sig.results = []wit.Type{t}
		}

		funcs[name] = sig
	}

	if len(funcs) == 0 {
		return nil, fmt.Errorf("no functions found in WIT text")
	}
	return funcs, nil
}

// coreType returns the core value type a primitive WIT type lowers to.
func coreType(t wit.Type) (api.ValueType, error) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, nil
	case wit.U64, wit.S64:
		return api.ValueTypeI64, nil
	case wit.F32:
		return api.ValueTypeF32, nil
	case wit.F64:
		return api.ValueTypeF64, nil
	default:
		return 0, fmt.Errorf("type %T has no single core representation", t)
	}
}

func lowerTypes(types []wit.Type) ([]api.ValueType, error) {
	out := make([]api.ValueType, 0, len(types))
	for _, t := range types {
		vt, err := coreType(t)
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, nil
}

// validateExports checks that defs carries every required ABI export with
// the core signature its WIT declaration lowers to. Optional exports are
// checked only when present.
func validateExports(defs map[string]api.FunctionDefinition, exports Exports) error {
	sigs, err := parseABI(ABI)
	if err != nil {
		return err
	}

	for _, b := range exports.bindings() {
		def, ok := defs[b.export]
		if !ok {
			if b.required {
				return fmt.Errorf("missing export %q (%s)", b.export, b.wit)
			}
			continue
		}

		sig := sigs[b.wit]
		params, err := lowerTypes(sig.params)
		if err != nil {
			return fmt.Errorf("%s: %w", b.wit, err)
		}
		results, err := lowerTypes(sig.results)
		if err != nil {
			return fmt.Errorf("%s: %w", b.wit, err)
		}

		if !sameTypes(def.ParamTypes(), params) || !sameTypes(def.ResultTypes(), results) {
			return fmt.Errorf("export %q has signature %s, want %s",
				b.export,
				signatureString(def.ParamTypes(), def.ResultTypes()),
				signatureString(params, results))
		}
	}
	return nil
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func signatureString(params, results []api.ValueType) string {
	names := func(types []api.ValueType) string {
		parts := make([]string, len(types))
		for i, t := range types {
			parts[i] = api.ValueTypeName(t)
		}
		return strings.Join(parts, ", ")
	}
	return "(" + names(params) + ") -> (" + names(results) + ")"
}
