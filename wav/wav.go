package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/wippyai/whistler/errors"
	"github.com/wippyai/whistler/pcm"
)

const (
	// HeaderSize is the size of the canonical RIFF/WAVE header.
	HeaderSize = 44

	fmtChunkSize  = 16
	formatPCM     = 1
	bitsPerSample = 16
	bytesPerValue = bitsPerSample / 8
	fullScale     = 32767.0

	// values converted per write in EncodeTo
	chunkSize = 8192

	// MaxSamples is the most interleaved values one container holds. The
	// RIFF size field is 32 bits and counts 36 header bytes plus the data.
	MaxSamples = (math.MaxUint32 - 36) / bytesPerValue
)

// CheckSize reports whether seq fits in one container.
func CheckSize(seq pcm.Sequence) error {
	return checkLen(seq.Len())
}

func checkLen(n int) error {
	if uint64(n) > MaxSamples {
		return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Value(n).
			Detail("%d samples exceed the container limit of %d", n, MaxSamples).
			Build()
	}
	return nil
}

// Quantize selects how scaled samples are converted to int16.
type Quantize int

const (
	// QuantizeRound rounds half away from zero.
	QuantizeRound Quantize = iota
	// QuantizeTruncate drops the fractional part.
	QuantizeTruncate
)

func (q Quantize) String() string {
	switch q {
	case QuantizeRound:
		return "round"
	case QuantizeTruncate:
		return "truncate"
	default:
		return fmt.Sprintf("Quantize(%d)", int(q))
	}
}

// Options controls encoding. The zero value rounds.
type Options struct {
	Quantize Quantize
}

func (o Options) convert() func(float32) int16 {
	if o.Quantize == QuantizeTruncate {
		return TruncateSample
	}
	return RoundSample
}

func clamp(s float32) float32 {
	switch {
	case s != s: // NaN
		return 0
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// RoundSample clamps s to [-1, 1] and returns round(s × 32767).
func RoundSample(s float32) int16 {
	return int16(math.Round(float64(clamp(s)) * fullScale))
}

// TruncateSample clamps s to [-1, 1] and returns s × 32767 with the fraction
// dropped.
func TruncateSample(s float32) int16 {
	return int16(float64(clamp(s)) * fullScale)
}

// Header holds the variable fields of the canonical header.
type Header struct {
	SampleRate    uint32
	ByteRate      uint32
	DataBytes     uint32
	Channels      uint16
	BlockAlign    uint16
	BitsPerSample uint16
}

// NewHeader derives the header for seq.
func NewHeader(seq pcm.Sequence) Header {
	channels := uint16(seq.Channels())
	rate := uint32(seq.SampleRate())
	return Header{
		SampleRate:    rate,
		ByteRate:      rate * uint32(channels) * bytesPerValue,
		DataBytes:     uint32(seq.Frames()) * uint32(channels) * bytesPerValue,
		Channels:      channels,
		BlockAlign:    channels * bytesPerValue,
		BitsPerSample: bitsPerSample,
	}
}

// RIFFSize returns the value of the RIFF chunk size field.
func (h Header) RIFFSize() uint32 {
	return 36 + h.DataBytes
}

// Put writes the 44-byte header into dst.
func (h Header) Put(dst []byte) {
	_ = dst[HeaderSize-1]

	copy(dst[0:4], "RIFF")
	binary.LittleEndian.PutUint32(dst[4:8], h.RIFFSize())
	copy(dst[8:12], "WAVE")

	copy(dst[12:16], "fmt ")
	binary.LittleEndian.PutUint32(dst[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(dst[20:22], formatPCM)
	binary.LittleEndian.PutUint16(dst[22:24], h.Channels)
	binary.LittleEndian.PutUint32(dst[24:28], h.SampleRate)
	binary.LittleEndian.PutUint32(dst[28:32], h.ByteRate)
	binary.LittleEndian.PutUint16(dst[32:34], h.BlockAlign)
	binary.LittleEndian.PutUint16(dst[34:36], h.BitsPerSample)

	copy(dst[36:40], "data")
	binary.LittleEndian.PutUint32(dst[40:44], h.DataBytes)
}

// ParseHeader reads a canonical 44-byte PCM16 header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.InvalidData(errors.PhaseDecode,
			fmt.Sprintf("container is %d bytes, header needs %d", len(b), HeaderSize))
	}
	if !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return Header{}, errors.InvalidData(errors.PhaseDecode, "missing RIFF/WAVE markers")
	}
	if !bytes.Equal(b[12:16], []byte("fmt ")) || binary.LittleEndian.Uint32(b[16:20]) != fmtChunkSize {
		return Header{}, errors.InvalidData(errors.PhaseDecode, "unsupported fmt chunk layout")
	}
	if !bytes.Equal(b[36:40], []byte("data")) {
		return Header{}, errors.InvalidData(errors.PhaseDecode, "data chunk does not follow fmt chunk")
	}

	h := Header{
		Channels:      binary.LittleEndian.Uint16(b[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(b[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(b[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(b[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(b[34:36]),
		DataBytes:     binary.LittleEndian.Uint32(b[40:44]),
	}
	if format := binary.LittleEndian.Uint16(b[20:22]); format != formatPCM || h.BitsPerSample != bitsPerSample {
		return Header{}, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Value(format).
			Detail("only 16-bit PCM is supported (format %d, %d bits)", format, h.BitsPerSample).
			Build()
	}
	if h.Channels == 0 || h.BlockAlign != h.Channels*bytesPerValue {
		return Header{}, errors.InvalidData(errors.PhaseDecode,
			fmt.Sprintf("inconsistent block align %d for %d channels", h.BlockAlign, h.Channels))
	}
	return h, nil
}

// Encode returns the container for seq using default options.
func Encode(seq pcm.Sequence) []byte {
	return EncodeWithOptions(seq, Options{})
}

// EncodeWithOptions returns the container for seq. It panics if seq fails
// CheckSize.
func EncodeWithOptions(seq pcm.Sequence, opts Options) []byte {
	if err := CheckSize(seq); err != nil {
		panic(err)
	}
	out := make([]byte, HeaderSize+seq.Len()*bytesPerValue)
	NewHeader(seq).Put(out)

	convert := opts.convert()
	data := out[HeaderSize:]
	seq.Range(func(i int, v float32) {
		binary.LittleEndian.PutUint16(data[i*bytesPerValue:], uint16(convert(v)))
	})
	return out
}

// EncodeTo streams the container for seq to w in fixed-size chunks.
func EncodeTo(w io.Writer, seq pcm.Sequence, opts Options) error {
	if err := CheckSize(seq); err != nil {
		return err
	}
	header := make([]byte, HeaderSize)
	NewHeader(seq).Put(header)
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "write header")
	}

	n := seq.Len()
	if n == 0 {
		return nil
	}

	convert := opts.convert()
	buf := make([]byte, min(n, chunkSize)*bytesPerValue)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		chunk := buf[:(end-start)*bytesPerValue]
		for i := start; i < end; i++ {
			binary.LittleEndian.PutUint16(chunk[(i-start)*bytesPerValue:], uint16(convert(seq.At(i))))
		}
		if _, err := w.Write(chunk); err != nil {
			return errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "write samples")
		}
	}
	return nil
}

// Decode reads a canonical container back into a Sequence. Values are scaled
// by 1/32767, so an encoded full-scale sample decodes to exactly ±1.
func Decode(b []byte) (pcm.Sequence, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return pcm.Sequence{}, err
	}

	data := b[HeaderSize:]
	if uint64(h.DataBytes) > uint64(len(data)) {
		return pcm.Sequence{}, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Value(h.DataBytes).
			Detail("data chunk claims %d bytes, %d present", h.DataBytes, len(data)).
			Build()
	}
	if h.DataBytes%uint32(h.BlockAlign) != 0 {
		return pcm.Sequence{}, errors.InvalidData(errors.PhaseDecode,
			fmt.Sprintf("data size %d is not a whole number of frames", h.DataBytes))
	}

	samples := make([]float32, h.DataBytes/bytesPerValue)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*bytesPerValue:]))
		samples[i] = max(float32(v)/fullScale, -1)
	}
	return pcm.Adopt(samples, int(h.SampleRate), int(h.Channels))
}
