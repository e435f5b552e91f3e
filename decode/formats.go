package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/wippyai/whistler/errors"
	"github.com/wippyai/whistler/pcm"
)

const readChunk = 8192

// WAV format tags from the fmt chunk.
const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// WAV decodes RIFF/WAVE integer PCM and IEEE float.
type WAV struct{}

func (WAV) Decode(data []byte) (pcm.Sequence, error) {
	dec := gowav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return pcm.Sequence{}, fmt.Errorf("not a valid wav file")
	}

	switch dec.WavAudioFormat {
	case wavFormatPCM, wavFormatExtensible:
		return decodeWAVInt(dec)
	case wavFormatFloat:
		return decodeWAVFloat(dec)
	default:
		return pcm.Sequence{}, errors.Decode(fmt.Sprintf("unsupported wav format %d", dec.WavAudioFormat), nil)
	}
}

func decodeWAVInt(dec *gowav.Decoder) (pcm.Sequence, error) {
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcm.Sequence{}, fmt.Errorf("read pcm: %w", err)
	}

	bitDepth := int(dec.BitDepth)
	scale, err := intScale(bitDepth)
	if err != nil {
		return pcm.Sequence{}, err
	}
	// 8-bit WAV is unsigned.
	var offset int
	if bitDepth == 8 {
		offset = 128
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v-offset) / scale
	}
	return pcm.Adopt(samples, int(dec.SampleRate), int(dec.NumChans))
}

// decodeWAVFloat reads little-endian IEEE float samples straight from the
// data chunk.
func decodeWAVFloat(dec *gowav.Decoder) (pcm.Sequence, error) {
	width := int(dec.BitDepth) / 8
	if width != 4 && width != 8 {
		return pcm.Sequence{}, errors.Decode(fmt.Sprintf("unsupported float bit depth %d", dec.BitDepth), nil)
	}
	if err := dec.FwdToPCM(); err != nil {
		return pcm.Sequence{}, fmt.Errorf("find data chunk: %w", err)
	}
	if dec.PCMChunk == nil {
		return pcm.Sequence{}, fmt.Errorf("missing data chunk")
	}

	raw, err := io.ReadAll(io.LimitReader(dec.PCMChunk, int64(dec.PCMChunk.Size)))
	if err != nil {
		return pcm.Sequence{}, fmt.Errorf("read pcm: %w", err)
	}

	channels := int(dec.NumChans)
	if channels <= 0 {
		return pcm.Sequence{}, fmt.Errorf("unsupported wav layout")
	}
	n := len(raw) / width
	n -= n % channels
	samples := make([]float32, n)
	for i := range samples {
		if width == 4 {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		} else {
			samples[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:])))
		}
	}
	return pcm.Adopt(samples, int(dec.SampleRate), channels)
}

// aiffReader is the part of aiff.Decoder used after the header is read.
type aiffReader interface {
	Format() *goaudio.Format
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

// AIFF decodes AIFF integer PCM.
type AIFF struct{}

func (AIFF) Decode(data []byte) (pcm.Sequence, error) {
	dec := aiff.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return pcm.Sequence{}, fmt.Errorf("not a valid aiff file")
	}
	dec.ReadInfo()

	scale, err := intScale(int(dec.BitDepth))
	if err != nil {
		return pcm.Sequence{}, err
	}
	return readAIFF(dec, scale)
}

func readAIFF(dec aiffReader, scale float32) (pcm.Sequence, error) {
	format := dec.Format()
	if format == nil || format.NumChannels <= 0 {
		return pcm.Sequence{}, fmt.Errorf("unsupported aiff layout")
	}

	buf := &goaudio.IntBuffer{Data: make([]int, readChunk), Format: format}
	var samples []float32
	for {
		n, err := dec.PCMBuffer(buf)
		for _, v := range buf.Data[:n] {
			samples = append(samples, float32(v)/scale)
		}
		if err != nil && err != io.EOF {
			return pcm.Sequence{}, fmt.Errorf("read pcm: %w", err)
		}
		if n == 0 || err == io.EOF {
			break
		}
	}

	// Drop a trailing partial frame.
	samples = samples[:len(samples)-len(samples)%format.NumChannels]
	return pcm.Adopt(samples, format.SampleRate, format.NumChannels)
}

// MP3 decodes MPEG audio. go-mp3 always produces 16-bit stereo.
type MP3 struct{}

func (MP3) Decode(data []byte) (pcm.Sequence, error) {
	dec, err := gomp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return pcm.Sequence{}, fmt.Errorf("mp3 header: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return pcm.Sequence{}, fmt.Errorf("read pcm: %w", err)
	}

	// Each frame is 4 bytes: left and right int16 little-endian.
	raw = raw[:len(raw)-len(raw)%4]
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		samples[i] = float32(v) / 32768.0
	}
	return pcm.Adopt(samples, dec.SampleRate(), 2)
}

// Vorbis decodes Ogg Vorbis.
type Vorbis struct{}

func (Vorbis) Decode(data []byte) (pcm.Sequence, error) {
	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return pcm.Sequence{}, fmt.Errorf("vorbis: %w", err)
	}
	if format == nil || format.Channels <= 0 {
		return pcm.Sequence{}, fmt.Errorf("unsupported vorbis layout")
	}
	samples = samples[:len(samples)-len(samples)%format.Channels]
	return pcm.Adopt(samples, format.SampleRate, format.Channels)
}
