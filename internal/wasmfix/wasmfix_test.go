package wasmfix

import (
	"bytes"
	"testing"
)

func TestLEB128(t *testing.T) {
	tests := []struct {
		name   string
		write  func(*writer)
		expect []byte
	}{
		{"u32 0", func(w *writer) { w.U32(0) }, []byte{0x00}},
		{"u32 127", func(w *writer) { w.U32(127) }, []byte{0x7f}},
		{"u32 128", func(w *writer) { w.U32(128) }, []byte{0x80, 0x01}},
		{"u32 624485", func(w *writer) { w.U32(624485) }, []byte{0xe5, 0x8e, 0x26}},
		{"s32 0", func(w *writer) { w.S32(0) }, []byte{0x00}},
		{"s32 -1", func(w *writer) { w.S32(-1) }, []byte{0x7f}},
		{"s32 -8", func(w *writer) { w.S32(-8) }, []byte{0x78}},
		{"s32 63", func(w *writer) { w.S32(63) }, []byte{0x3f}},
		{"s32 64", func(w *writer) { w.S32(64) }, []byte{0xc0, 0x00}},
		{"s32 512", func(w *writer) { w.S32(512) }, []byte{0x80, 0x04}},
		{"s32 -123456", func(w *writer) { w.S32(-123456) }, []byte{0xc0, 0xbb, 0x78}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w writer
			tt.write(&w)
			if !bytes.Equal(w.Bytes(), tt.expect) {
				t.Errorf("got % x, want % x", w.Bytes(), tt.expect)
			}
		})
	}
}

func TestModuleHeader(t *testing.T) {
	for _, opts := range []Options{
		{},
		{Catalog: true, Print: true, EnvImport: true},
		{Behavior: Trap, OmitFree: true},
		{BadSignature: true},
	} {
		mod := Module(opts)
		if !bytes.HasPrefix(mod, []byte("\x00asm\x01\x00\x00\x00")) {
			t.Errorf("%+v: bad preamble % x", opts, mod[:8])
		}
		if !bytes.Contains(mod, []byte("process_audio")) {
			t.Errorf("%+v: process_audio export missing", opts)
		}
	}
}

func TestModuleExportNames(t *testing.T) {
	mod := Module(Options{ProcessExport: "apply", OmitFree: true})
	if bytes.Contains(mod, []byte("process_audio")) {
		t.Error("default process export present")
	}
	if !bytes.Contains(mod, []byte("apply")) {
		t.Error("custom process export missing")
	}
	if bytes.Contains(mod, []byte("\x04free")) {
		t.Error("free exported")
	}
}

func TestNameTable(t *testing.T) {
	table := nameTable()
	if len(table) != instrumentSize*nameStride {
		t.Fatalf("len = %d", len(table))
	}
	if got := string(bytes.TrimRight(table[8*nameStride:9*nameStride], "\x00")); got != "Wurlitzer" {
		t.Errorf("entry 8 = %q", got)
	}
}
