package marshal

import (
	"context"
	stderrors "errors"

	"github.com/wippyai/whistler"
	"github.com/wippyai/whistler/pcm"
)

// Scope tracks every handle acquired through it and releases the ones still
// Allocated when closed. Use one Scope per processing attempt:
//
//	scope := m.NewScope()
//	defer scope.Close(ctx)
type Scope struct {
	m       *Marshaler
	handles []*Handle
	closed  bool
}

// NewScope creates an empty Scope bound to m.
func (m *Marshaler) NewScope() *Scope {
	return &Scope{m: m, handles: make([]*Handle, 0, 3)}
}

func (s *Scope) track(h *Handle, err error) (*Handle, error) {
	if h != nil {
		s.handles = append(s.handles, h)
	}
	return h, err
}

// StageInput is Marshaler.StageInput with the handle tracked.
func (s *Scope) StageInput(ctx context.Context, seq pcm.Sequence) (*Handle, error) {
	return s.track(s.m.StageInput(ctx, seq))
}

// StageOutputLengthSlot is Marshaler.StageOutputLengthSlot with the handle
// tracked.
func (s *Scope) StageOutputLengthSlot(ctx context.Context) (*Handle, error) {
	return s.track(s.m.StageOutputLengthSlot(ctx))
}

// Invoke is Marshaler.Invoke with the output handle tracked.
func (s *Scope) Invoke(ctx context.Context, in *Handle, count uint32, req whistler.Request, slot *Handle) (*Handle, error) {
	return s.track(s.m.Invoke(ctx, in, count, req, slot))
}

// Len returns the number of tracked handles.
func (s *Scope) Len() int { return len(s.handles) }

// Close releases every tracked handle that is still Allocated, most recent
// first, and returns the joined release errors. Close is idempotent.
func (s *Scope) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.handles) - 1; i >= 0; i-- {
		h := s.handles[i]
		if h.state != Allocated {
			continue
		}
		if err := s.m.Release(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	s.handles = nil
	return stderrors.Join(errs...)
}
