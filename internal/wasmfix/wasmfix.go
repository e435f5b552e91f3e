// Package wasmfix assembles small core wasm modules that implement the
// engine ABI, for tests that need a real module without a C toolchain.
//
// The module exports one memory page, a bump allocator (malloc/free) and a
// process_audio that writes input × volume into a fresh region. Names of the
// ten built-in instruments live at NameTable, 16 bytes apart.
package wasmfix

import "encoding/binary"

// Behavior selects what process_audio does.
type Behavior int

const (
	// Gain writes input × volume and reports count samples.
	Gain Behavior = iota
	// Null writes 0 into the length slot and returns a null address.
	Null
	// BadLength allocates an output region but reports -1 samples.
	BadLength
	// Trap executes unreachable.
	Trap
)

const (
	// HeapBase is the first address malloc hands out.
	HeapBase = 1024
	// InitHeapBase is the first address after _initialize has run.
	InitHeapBase = 2048
	// NameTable is the address of the instrument name table.
	NameTable = 512
	// PrintText is what _initialize writes to stdout when Options.Print is set.
	PrintText = "engine ready\n"

	printIovec     = 256
	printNwritten  = 264
	printBuf       = 272
	nameStride     = 16
	instrumentSize = 10
)

var instrumentNames = []string{
	"Pad", "Pluck", "Brass", "Flute", "Strings",
	"Organ", "Bell", "Bass", "Wurlitzer", "Acid",
}

// Options shapes the assembled module.
type Options struct {
	Behavior Behavior

	// ProcessExport overrides the export name of process_audio.
	ProcessExport string

	// Catalog exports get_instrument_count and get_instrument_name.
	Catalog bool

	// Initialize exports _initialize, which moves the heap to InitHeapBase.
	Initialize bool

	// Print makes _initialize write PrintText via WASI fd_write. Implies
	// Initialize.
	Print bool

	// EnvImport imports env.emscripten_notify_memory_growth.
	EnvImport bool

	// OmitFree leaves free unexported.
	OmitFree bool

	// BadSignature declares process_audio's volume as i32.
	BadSignature bool
}

const (
	i32 = 0x7f
	f32 = 0x7d
)

// type indices
const (
	typeI32ToI32 = iota
	typeI32ToVoid
	typeProcess
	typeVoidToI32
	typeVoidToVoid
	typeFdWrite
	typeProcessBad
)

var types = [][2][]byte{
	typeI32ToI32:   {{i32}, {i32}},
	typeI32ToVoid:  {{i32}, nil},
	typeProcess:    {{i32, i32, i32, i32, f32, i32}, {i32}},
	typeVoidToI32:  {nil, {i32}},
	typeVoidToVoid: {nil, nil},
	typeFdWrite:    {{i32, i32, i32, i32}, {i32}},
	typeProcessBad: {{i32, i32, i32, i32, i32, i32}, {i32}},
}

type function struct {
	export string
	typ    uint32
	locals []byte
	body   []byte
}

type segment struct {
	offset int32
	data   []byte
}

type importFunc struct {
	module, name string
	typ          uint32
}

// Module assembles a module for opts.
func Module(opts Options) []byte {
	if opts.Print {
		opts.Initialize = true
	}
	processExport := opts.ProcessExport
	if processExport == "" {
		processExport = "process_audio"
	}

	var imports []importFunc
	if opts.EnvImport {
		imports = append(imports, importFunc{"env", "emscripten_notify_memory_growth", typeI32ToVoid})
	}
	fdWrite := uint32(len(imports))
	if opts.Print {
		imports = append(imports, importFunc{"wasi_snapshot_preview1", "fd_write", typeFdWrite})
	}
	base := uint32(len(imports))
	mallocIdx := base

	freeExport := "free"
	if opts.OmitFree {
		freeExport = ""
	}

	funcs := []function{
		{export: "malloc", typ: typeI32ToI32, locals: []byte{i32}, body: mallocBody()},
		{export: freeExport, typ: typeI32ToVoid, body: []byte{opEnd}},
	}
	if opts.BadSignature {
		funcs = append(funcs, function{export: processExport, typ: typeProcessBad, body: nullBody()})
	} else {
		funcs = append(funcs, function{export: processExport, typ: typeProcess, locals: []byte{i32, i32}, body: processBody(opts.Behavior, mallocIdx)})
	}
	if opts.Catalog {
		funcs = append(funcs,
			function{export: "get_instrument_count", typ: typeVoidToI32, body: countBody()},
			function{export: "get_instrument_name", typ: typeI32ToI32, body: nameBody()})
	}
	if opts.Initialize {
		funcs = append(funcs, function{export: "_initialize", typ: typeVoidToVoid, body: initBody(opts.Print, fdWrite)})
	}

	var out writer
	out.Byte(0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00)

	var sec writer
	sec.U32(uint32(len(types)))
	for _, t := range types {
		sec.Byte(0x60)
		sec.Vec(t[0])
		sec.Vec(t[1])
	}
	out.Section(1, &sec)

	if len(imports) > 0 {
		sec = writer{}
		sec.U32(uint32(len(imports)))
		for _, imp := range imports {
			sec.Name(imp.module)
			sec.Name(imp.name)
			sec.Byte(0x00)
			sec.U32(imp.typ)
		}
		out.Section(2, &sec)
	}

	sec = writer{}
	sec.U32(uint32(len(funcs)))
	for _, fn := range funcs {
		sec.U32(fn.typ)
	}
	out.Section(3, &sec)

	// memory: one page, no maximum
	sec = writer{}
	sec.Byte(0x01, 0x00, 0x01)
	out.Section(5, &sec)

	// global 0: mutable i32 heap pointer
	sec = writer{}
	sec.Byte(0x01, i32, 0x01, opI32Const)
	sec.S32(HeapBase)
	sec.Byte(opEnd)
	out.Section(6, &sec)

	sec = writer{}
	exports := 1
	for _, fn := range funcs {
		if fn.export != "" {
			exports++
		}
	}
	sec.U32(uint32(exports))
	sec.Name("memory")
	sec.Byte(0x02, 0x00)
	for i, fn := range funcs {
		if fn.export == "" {
			continue
		}
		sec.Name(fn.export)
		sec.Byte(0x00)
		sec.U32(base + uint32(i))
	}
	out.Section(7, &sec)

	sec = writer{}
	sec.U32(uint32(len(funcs)))
	for _, fn := range funcs {
		var body writer
		if len(fn.locals) == 0 {
			body.U32(0)
		} else {
			body.U32(uint32(len(fn.locals)))
			for _, l := range fn.locals {
				body.Byte(0x01, l)
			}
		}
		body.Byte(fn.body...)
		sec.Vec(body.Bytes())
	}
	out.Section(10, &sec)

	segments := []segment{{NameTable, nameTable()}}
	if opts.Print {
		iov := make([]byte, 8)
		binary.LittleEndian.PutUint32(iov[0:], printBuf)
		binary.LittleEndian.PutUint32(iov[4:], uint32(len(PrintText)))
		segments = append(segments,
			segment{printIovec, iov},
			segment{printBuf, []byte(PrintText)})
	}
	sec = writer{}
	sec.U32(uint32(len(segments)))
	for _, seg := range segments {
		sec.Byte(0x00, opI32Const)
		sec.S32(seg.offset)
		sec.Byte(opEnd)
		sec.Vec(seg.data)
	}
	out.Section(11, &sec)

	return out.Bytes()
}

func nameTable() []byte {
	table := make([]byte, instrumentSize*nameStride)
	for i, name := range instrumentNames {
		copy(table[i*nameStride:], name)
	}
	return table
}
