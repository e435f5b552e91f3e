package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	gowav "github.com/go-audio/wav"

	werrors "github.com/wippyai/whistler/errors"
	"github.com/wippyai/whistler/pcm"
)

func mustMono(t *testing.T, samples []float32, rate int) pcm.Sequence {
	t.Helper()
	seq, err := pcm.Mono(samples, rate)
	if err != nil {
		t.Fatalf("pcm.Mono: %v", err)
	}
	return seq
}

func dataValues(t *testing.T, container []byte) []int16 {
	t.Helper()
	data := container[HeaderSize:]
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func TestEncode_EndToEndScenario(t *testing.T) {
	seq := mustMono(t, []float32{0.0, 0.5, -0.5, 1.0}, 8000)
	got := Encode(seq)

	want := []byte{
		'R', 'I', 'F', 'F', 44, 0, 0, 0, 'W', 'A', 'V', 'E',
		'f', 'm', 't', ' ', 16, 0, 0, 0, 1, 0, 1, 0,
		0x40, 0x1f, 0, 0, // 8000
		0x80, 0x3e, 0, 0, // 16000
		2, 0, 16, 0,
		'd', 'a', 't', 'a', 8, 0, 0, 0,
		0x00, 0x00, // 0
		0x00, 0x40, // 16384
		0x00, 0xc0, // -16384
		0xff, 0x7f, // 32767
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() =\n% x\nwant\n% x", got, want)
	}
}

func TestEncode_Header(t *testing.T) {
	tests := []struct {
		name   string
		frames int
		rate   int
	}{
		{"empty", 0, 8000},
		{"one sample", 1, 22050},
		{"cd rate", 441, 44100},
		{"high rate", 960, 96000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := mustMono(t, make([]float32, tt.frames), tt.rate)
			out := Encode(seq)

			if len(out) != HeaderSize+tt.frames*2 {
				t.Fatalf("len = %d, want %d", len(out), HeaderSize+tt.frames*2)
			}
			if got := binary.LittleEndian.Uint32(out[4:8]); got != uint32(36+tt.frames*2) {
				t.Errorf("RIFF size = %d, want %d", got, 36+tt.frames*2)
			}
			if got := binary.LittleEndian.Uint32(out[28:32]); got != uint32(tt.rate*2) {
				t.Errorf("byte rate = %d, want %d", got, tt.rate*2)
			}
			if got := binary.LittleEndian.Uint16(out[32:34]); got != 2 {
				t.Errorf("block align = %d, want 2", got)
			}
			if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(tt.frames*2) {
				t.Errorf("data size = %d, want %d", got, tt.frames*2)
			}
		})
	}
}

func TestEncode_ClampBoundary(t *testing.T) {
	seq := mustMono(t, []float32{1.0, -1.0, 1.5, -1.5, 0.0}, 8000)
	got := dataValues(t, Encode(seq))
	want := []int16{32767, -32767, 32767, -32767, 0}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		in       float32
		round    int16
		truncate int16
	}{
		{0.5, 16384, 16383},
		{-0.5, -16384, -16383},
		{0.25, 8192, 8191},
		{1, 32767, 32767},
		{-2, -32767, -32767},
		{0, 0, 0},
	}

	for _, tt := range tests {
		if got := RoundSample(tt.in); got != tt.round {
			t.Errorf("RoundSample(%v) = %d, want %d", tt.in, got, tt.round)
		}
		if got := TruncateSample(tt.in); got != tt.truncate {
			t.Errorf("TruncateSample(%v) = %d, want %d", tt.in, got, tt.truncate)
		}
	}

	seq := mustMono(t, []float32{0.5}, 8000)
	out := EncodeWithOptions(seq, Options{Quantize: QuantizeTruncate})
	if got := dataValues(t, out)[0]; got != 16383 {
		t.Errorf("truncating encode = %d, want 16383", got)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = float32(i%200-100) / 97
	}
	seq := mustMono(t, samples, 16000)

	if !bytes.Equal(Encode(seq), Encode(seq)) {
		t.Fatal("encoding the same sequence twice produced different bytes")
	}
}

func TestEncode_Interleaved(t *testing.T) {
	seq, err := pcm.New([]float32{1, -1, 0.5, -0.5}, 48000, 2)
	if err != nil {
		t.Fatal(err)
	}
	out := Encode(seq)

	h, err := ParseHeader(out)
	if err != nil {
		t.Fatal(err)
	}
	if h.Channels != 2 || h.BlockAlign != 4 || h.ByteRate != 48000*4 || h.DataBytes != 8 {
		t.Errorf("header = %+v", h)
	}

	got := dataValues(t, out)
	want := []int16{32767, -32767, 16384, -16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncodeTo_MatchesEncode(t *testing.T) {
	samples := make([]float32, chunkSize*2+17)
	for i := range samples {
		samples[i] = float32(i%64) / 63
	}
	seq := mustMono(t, samples, 44100)

	var buf bytes.Buffer
	if err := EncodeTo(&buf, seq, Options{}); err != nil {
		t.Fatalf("EncodeTo() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), Encode(seq)) {
		t.Fatal("EncodeTo output differs from Encode")
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestEncodeTo_WriteError(t *testing.T) {
	seq := mustMono(t, []float32{0}, 8000)
	err := EncodeTo(failWriter{}, seq, Options{})
	if !werrors.IsKind(err, werrors.KindInvalidData) {
		t.Fatalf("EncodeTo() error = %v, want invalid_data", err)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	seq := mustMono(t, []float32{0, 1, -1, 0.5}, 8000)
	back, err := Decode(Encode(seq))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if back.SampleRate() != 8000 || back.Channels() != 1 || back.Len() != 4 {
		t.Fatalf("Decode() = %v", back)
	}
	if back.At(1) != 1 || back.At(2) != -1 {
		t.Errorf("full scale did not survive: %v", back.Samples())
	}
	if !bytes.Equal(Encode(back), Encode(seq)) {
		t.Error("re-encoding decoded sequence changed the bytes")
	}
}

func TestDecode_Invalid(t *testing.T) {
	valid := Encode(mustMono(t, []float32{0, 0}, 8000))

	corrupt := func(mut func([]byte) []byte) []byte {
		b := append([]byte(nil), valid...)
		return mut(b)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"short", valid[:20]},
		{"bad riff", corrupt(func(b []byte) []byte { b[0] = 'X'; return b })},
		{"float format", corrupt(func(b []byte) []byte { b[20] = 3; return b })},
		{"8 bit", corrupt(func(b []byte) []byte { b[34] = 8; return b })},
		{"truncated data", valid[:HeaderSize+2]},
		{"bad block align", corrupt(func(b []byte) []byte { b[32] = 3; return b })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !werrors.IsKind(err, werrors.KindInvalidData) {
				t.Fatalf("Decode() error = %v, want invalid_data", err)
			}
		})
	}
}

// The container must be readable by an independent WAV decoder.
func TestEncode_ReadableByGoAudio(t *testing.T) {
	seq := mustMono(t, []float32{0.0, 0.5, -0.5, 1.0, -1.0}, 22050)
	dec := gowav.NewDecoder(bytes.NewReader(Encode(seq)))
	if !dec.IsValidFile() {
		t.Fatal("go-audio rejected the container")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer() error = %v", err)
	}
	if dec.SampleRate != 22050 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("format = %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	want := []int{0, 16384, -16384, 32767, -32767}
	if len(buf.Data) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(want))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestCheckSize_Limit(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantErr bool
	}{
		{"empty", 0, false},
		{"at limit", MaxSamples, false},
		{"one over", MaxSamples + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkLen(tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkLen(%d) = %v, wantErr %v", tt.n, err, tt.wantErr)
			}
			if tt.wantErr && !werrors.IsKind(err, werrors.KindInvalidInput) {
				t.Errorf("checkLen(%d) kind = %s, want invalid_input", tt.n, werrors.KindOf(err))
			}
		})
	}

	// The largest container's RIFF size still fits its 32-bit field.
	h := Header{DataBytes: MaxSamples * bytesPerValue}
	if h.RIFFSize() < h.DataBytes {
		t.Errorf("RIFFSize() = %d wrapped below DataBytes %d", h.RIFFSize(), h.DataBytes)
	}
}

func TestCheckSize_Sequence(t *testing.T) {
	if err := CheckSize(mustMono(t, []float32{0, 0.5}, 8000)); err != nil {
		t.Errorf("CheckSize() = %v", err)
	}
}
