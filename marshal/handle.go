package marshal

import "fmt"

// State is the ownership state of a Handle.
type State int

const (
	Unallocated State = iota
	Allocated
	Released
)

func (s State) String() string {
	switch s {
	case Unallocated:
		return "unallocated"
	case Allocated:
		return "allocated"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handle is an owned region of engine memory. Only the Marshaler that
// produced it may read, write or release it, and only while Allocated.
type Handle struct {
	owner *Marshaler
	label string
	addr  uint32
	size  uint32
	state State
}

// Addr returns the region's address in engine memory.
func (h *Handle) Addr() uint32 { return h.addr }

// Size returns the region's length in bytes.
func (h *Handle) Size() uint32 { return h.size }

func (h *Handle) State() State  { return h.state }
func (h *Handle) Label() string { return h.label }

func (h *Handle) String() string {
	return fmt.Sprintf("%s@%#x+%d(%s)", h.label, h.addr, h.size, h.state)
}
