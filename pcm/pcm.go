// Package pcm holds immutable sequences of normalized floating-point samples.
package pcm

import (
	"fmt"

	"github.com/wippyai/whistler/errors"
)

// Sequence is an immutable run of float32 samples in [-1, 1], interleaved per
// frame when Channels() > 1. The zero value is an empty sequence with no rate.
type Sequence struct {
	samples    []float32
	sampleRate int
	channels   int
}

// New copies samples into a Sequence.
func New(samples []float32, sampleRate, channels int) (Sequence, error) {
	owned := make([]float32, len(samples))
	copy(owned, samples)
	return Adopt(owned, sampleRate, channels)
}

// Mono copies samples into a single-channel Sequence.
func Mono(samples []float32, sampleRate int) (Sequence, error) {
	return New(samples, sampleRate, 1)
}

// Adopt wraps samples without copying. The caller must not modify samples
// afterwards.
func Adopt(samples []float32, sampleRate, channels int) (Sequence, error) {
	if sampleRate <= 0 {
		return Sequence{}, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Value(sampleRate).
			Detail("sample rate must be positive, got %d", sampleRate).
			Build()
	}
	if channels <= 0 {
		return Sequence{}, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Value(channels).
			Detail("channel count must be positive, got %d", channels).
			Build()
	}
	if len(samples)%channels != 0 {
		return Sequence{}, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("%d samples do not divide into %d channels", len(samples), channels))
	}
	return Sequence{samples: samples, sampleRate: sampleRate, channels: channels}, nil
}

func (s Sequence) SampleRate() int { return s.sampleRate }
func (s Sequence) Channels() int   { return s.channels }

// Len returns the number of sample values across all channels.
func (s Sequence) Len() int { return len(s.samples) }

// Frames returns the number of samples per channel.
func (s Sequence) Frames() int {
	if s.channels == 0 {
		return 0
	}
	return len(s.samples) / s.channels
}

// IsEmpty reports whether the sequence carries no samples.
func (s Sequence) IsEmpty() bool { return len(s.samples) == 0 }

// At returns the i-th interleaved sample value.
func (s Sequence) At(i int) float32 { return s.samples[i] }

// Samples returns a copy of the interleaved sample values.
func (s Sequence) Samples() []float32 {
	out := make([]float32, len(s.samples))
	copy(out, s.samples)
	return out
}

// Range calls fn for every interleaved sample value in order.
func (s Sequence) Range(fn func(i int, v float32)) {
	for i, v := range s.samples {
		fn(i, v)
	}
}

// Channel extracts channel c as a new mono Sequence.
func (s Sequence) Channel(c int) (Sequence, error) {
	if c < 0 || c >= s.channels {
		return Sequence{}, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Value(c).
			Detail("channel %d out of range (channels %d)", c, s.channels).
			Build()
	}
	if s.channels == 1 {
		return s, nil
	}
	frames := s.Frames()
	out := make([]float32, frames)
	for f := range frames {
		out[f] = s.samples[f*s.channels+c]
	}
	return Sequence{samples: out, sampleRate: s.sampleRate, channels: 1}, nil
}

// Equal reports whether both sequences hold the same format and samples.
func (s Sequence) Equal(o Sequence) bool {
	if s.sampleRate != o.sampleRate || s.channels != o.channels || len(s.samples) != len(o.samples) {
		return false
	}
	for i := range s.samples {
		if s.samples[i] != o.samples[i] {
			return false
		}
	}
	return true
}

func (s Sequence) String() string {
	return fmt.Sprintf("pcm.Sequence{frames: %d, rate: %d, channels: %d}", s.Frames(), s.sampleRate, s.channels)
}
