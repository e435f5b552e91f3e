package wasmfix

import "bytes"

type writer struct {
	buf bytes.Buffer
}

func (w *writer) Bytes() []byte { return w.buf.Bytes() }

func (w *writer) Byte(b ...byte) { w.buf.Write(b) }

// U32 writes an unsigned LEB128 value.
func (w *writer) U32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// S32 writes a signed LEB128 value.
func (w *writer) S32(v int32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.buf.WriteByte(b)
			return
		}
		w.buf.WriteByte(b | 0x80)
	}
}

func (w *writer) Name(s string) {
	w.U32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) Vec(data []byte) {
	w.U32(uint32(len(data)))
	w.buf.Write(data)
}

func (w *writer) Section(id byte, body *writer) {
	w.Byte(id)
	w.Vec(body.Bytes())
}
