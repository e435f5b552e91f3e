package whistler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Memory represents the engine's linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
}

// MemorySizer provides the current size of linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Engine is the allocate/process/release surface of a foreign processing
// engine. Addresses are offsets into Memory(). A zero address from Allocate
// or Process means the engine failed; a non-nil error means the call itself
// could not complete (trap, missing export).
type Engine interface {
	Memory() Memory
	Allocate(ctx context.Context, size uint32) (uint32, error)
	Release(ctx context.Context, ptr uint32) error
	Process(ctx context.Context, call ProcessCall) (uint32, error)
}

// InstrumentCatalog is implemented by engines that can describe their
// instruments.
type InstrumentCatalog interface {
	InstrumentCount(ctx context.Context) (int, error)
	InstrumentName(ctx context.Context, inst Instrument) (string, error)
}

// ProcessCall holds the flat arguments of the engine's processing entry point.
type ProcessCall struct {
	Input            uint32
	Count            uint32
	Instrument       int32
	Semitones        int32
	Volume           float32
	OutputLengthSlot uint32
}

// Request describes one processing run. Semitones and Volume are passed
// through unchecked; the engine decides what it accepts.
type Request struct {
	Instrument Instrument
	Semitones  int32
	Volume     float32
}

// Instrument is the engine's instrument tag.
type Instrument int32

const (
	InstrumentPad Instrument = iota
	InstrumentPluck
	InstrumentBrass
	InstrumentFlute
	InstrumentStrings
	InstrumentOrgan
	InstrumentBell
	InstrumentBass
	InstrumentWurlitzer
	InstrumentAcid
)

var instrumentNames = [...]string{
	InstrumentPad:       "Pad",
	InstrumentPluck:     "Pluck",
	InstrumentBrass:     "Brass",
	InstrumentFlute:     "Flute",
	InstrumentStrings:   "Strings",
	InstrumentOrgan:     "Organ",
	InstrumentBell:      "Bell",
	InstrumentBass:      "Bass",
	InstrumentWurlitzer: "Wurlitzer",
	InstrumentAcid:      "Acid",
}

// Instruments returns the built-in instrument tags in order.
func Instruments() []Instrument {
	out := make([]Instrument, len(instrumentNames))
	for i := range instrumentNames {
		out[i] = Instrument(i)
	}
	return out
}

func (i Instrument) String() string {
	if i >= 0 && int(i) < len(instrumentNames) {
		return instrumentNames[i]
	}
	return "Instrument(" + strconv.Itoa(int(i)) + ")"
}

// ParseInstrument accepts an instrument name (case-insensitive) or a numeric
// tag. Numeric tags outside the built-in list are allowed since the engine
// may know more instruments than this package.
func ParseInstrument(s string) (Instrument, error) {
	s = strings.TrimSpace(s)
	for i, name := range instrumentNames {
		if strings.EqualFold(s, name) {
			return Instrument(i), nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown instrument %q", s)
	}
	return Instrument(n), nil
}
