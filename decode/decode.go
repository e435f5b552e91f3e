package decode

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/wippyai/whistler/errors"
	"github.com/wippyai/whistler/pcm"
)

// Format names a container format.
type Format string

const (
	FormatWAV    Format = "wav"
	FormatAIFF   Format = "aiff"
	FormatMP3    Format = "mp3"
	FormatVorbis Format = "ogg"
)

// Decoder decodes one container format.
type Decoder interface {
	Decode(data []byte) (pcm.Sequence, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(data []byte) (pcm.Sequence, error)

func (f DecoderFunc) Decode(data []byte) (pcm.Sequence, error) { return f(data) }

// Sniff identifies the container format of data from its magic bytes.
func Sniff(data []byte) (Format, bool) {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV, true
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("FORM")) &&
		(bytes.Equal(data[8:12], []byte("AIFF")) || bytes.Equal(data[8:12], []byte("AIFC"))):
		return FormatAIFF, true
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatVorbis, true
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3, true
	case len(data) >= 2 && data[0] == 0xff && data[1]&0xe0 == 0xe0:
		return FormatMP3, true
	}
	return "", false
}

// Registry maps formats to decoders. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Format]Decoder
}

// NewRegistry returns a registry with every built-in decoder.
func NewRegistry() *Registry {
	return &Registry{decoders: map[Format]Decoder{
		FormatWAV:    WAV{},
		FormatAIFF:   AIFF{},
		FormatMP3:    MP3{},
		FormatVorbis: Vorbis{},
	}}
}

// Register sets the decoder for f, replacing any existing one.
func (r *Registry) Register(f Format, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[f] = d
}

// Formats returns the registered formats.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, 0, len(r.decoders))
	for f := range r.decoders {
		out = append(out, f)
	}
	return out
}

// Decode sniffs data and decodes it. Every failure is KindDecode.
func (r *Registry) Decode(data []byte) (pcm.Sequence, error) {
	if len(data) == 0 {
		return pcm.Sequence{}, errors.Decode("empty input", nil)
	}
	f, ok := Sniff(data)
	if !ok {
		return pcm.Sequence{}, errors.Decode("unrecognized audio format", nil)
	}

	r.mu.RLock()
	d, ok := r.decoders[f]
	r.mu.RUnlock()
	if !ok {
		return pcm.Sequence{}, errors.Decode(fmt.Sprintf("no decoder for %s", f), nil)
	}

	seq, err := d.Decode(data)
	if err != nil {
		if errors.IsKind(err, errors.KindDecode) {
			return pcm.Sequence{}, err
		}
		return pcm.Sequence{}, errors.Decode("decode "+string(f), err)
	}
	return seq, nil
}

var defaultRegistry = NewRegistry()

// Decode decodes data with the built-in decoders.
func Decode(data []byte) (pcm.Sequence, error) {
	return defaultRegistry.Decode(data)
}

// intScale returns the magnitude that maps a signed integer sample of the
// given bit depth onto [-1, 1).
func intScale(bitDepth int) (float32, error) {
	switch bitDepth {
	case 8:
		return 128.0, nil
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
}
