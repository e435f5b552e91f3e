package marshal

import (
	"context"
	"testing"

	"github.com/wippyai/whistler"
	"github.com/wippyai/whistler/errors"
	"github.com/wippyai/whistler/internal/enginetest"
)

func TestScopeReleasesEverything(t *testing.T) {
	ctx := context.Background()
	eng := enginetest.New(4096)
	m := New(eng, Config{})
	scope := m.NewScope()

	in, err := scope.StageInput(ctx, mono(t, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	slot, err := scope.StageOutputLengthSlot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := scope.Invoke(ctx, in, 2, whistler.Request{Volume: 1}, slot); err != nil {
		t.Fatal(err)
	}
	if scope.Len() != 3 {
		t.Errorf("tracked = %d, want 3", scope.Len())
	}

	if err := scope.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	a, r := eng.Counts()
	if a != 3 || r != 3 {
		t.Errorf("allocations/releases = %d/%d, want 3/3", a, r)
	}
	if err := scope.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, r := eng.Counts(); r != 3 {
		t.Errorf("second Close released again: %d", r)
	}
}

func TestScopeSkipsReleasedHandles(t *testing.T) {
	ctx := context.Background()
	eng := enginetest.New(4096)
	m := New(eng, Config{})
	scope := m.NewScope()

	in, _ := scope.StageInput(ctx, mono(t, 1))
	_, _ = scope.StageOutputLengthSlot(ctx)
	if err := m.Release(ctx, in); err != nil {
		t.Fatal(err)
	}
	if err := scope.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(eng.BadReleases) != 0 {
		t.Errorf("double free: %v", eng.BadReleases)
	}
	if eng.Live() != 0 {
		t.Errorf("live = %d", eng.Live())
	}
}

func TestScopeAllocationFailureAtEachStep(t *testing.T) {
	tests := []struct {
		name   string
		failAt int
		kind   errors.Kind
	}{
		{"input", 1, errors.KindAllocation},
		{"slot", 2, errors.KindAllocation},
		{"engine output", 3, errors.KindInvocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			eng := enginetest.New(4096).FailAllocationAt(tt.failAt)
			m := New(eng, Config{})
			scope := m.NewScope()

			err := func() error {
				in, err := scope.StageInput(ctx, mono(t, 1, 2))
				if err != nil {
					return err
				}
				slot, err := scope.StageOutputLengthSlot(ctx)
				if err != nil {
					return err
				}
				_, err = scope.Invoke(ctx, in, 2, whistler.Request{Volume: 1}, slot)
				return err
			}()
			if !errors.IsKind(err, tt.kind) {
				t.Fatalf("err = %v, want %s", err, tt.kind)
			}
			if err := scope.Close(ctx); err != nil {
				t.Fatalf("Close: %v", err)
			}
			a, r := eng.Counts()
			if a != r {
				t.Errorf("allocations %d != releases %d", a, r)
			}
			if a != tt.failAt-1 {
				t.Errorf("allocations = %d, want %d", a, tt.failAt-1)
			}
		})
	}
}

func TestScopeReleasesInReverseOrder(t *testing.T) {
	ctx := context.Background()
	eng := enginetest.New(4096)
	m := New(eng, Config{})
	scope := m.NewScope()

	in, err := scope.StageInput(ctx, mono(t, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	slot, err := scope.StageOutputLengthSlot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	out, err := scope.Invoke(ctx, in, 2, whistler.Request{Volume: 1}, slot)
	if err != nil {
		t.Fatal(err)
	}
	if err := scope.Close(ctx); err != nil {
		t.Fatal(err)
	}

	want := []uint32{out.Addr(), slot.Addr(), in.Addr()}
	if len(eng.Freed) != len(want) {
		t.Fatalf("freed = %v, want %v", eng.Freed, want)
	}
	for i := range want {
		if eng.Freed[i] != want[i] {
			t.Errorf("freed[%d] = %#x, want %#x", i, eng.Freed[i], want[i])
		}
	}
}
