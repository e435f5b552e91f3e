package main

import (
	"fmt"
	"testing"

	"github.com/wippyai/whistler/session"
)

func TestInteractiveObserveDoesNotBlock(t *testing.T) {
	m := newInteractiveModel(options{})
	for i := 0; i < cap(m.events)*2; i++ {
		m.observe(session.Event{State: session.Processing, Stage: session.StageStaging})
	}
	if len(m.events) != cap(m.events) {
		t.Errorf("queued %d events, want %d", len(m.events), cap(m.events))
	}
}

func TestInteractiveFinalStatusFromResult(t *testing.T) {
	tests := []struct {
		name  string
		msg   processedMsg
		state string
	}{
		{"complete", processedMsg{result: "ok", state: session.Complete}, session.Complete.String()},
		{"failed", processedMsg{err: fmt.Errorf("boom"), state: session.Failed}, session.Failed.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newInteractiveModel(options{})
			m.loaded = true
			m.busy = true

			// Terminal events were dropped; only a stage made it through.
			m.Update(eventMsg{State: session.Processing, Stage: session.StageApplying})
			if m.status != string(session.StageApplying) {
				t.Fatalf("status = %q during run", m.status)
			}

			m.Update(tt.msg)
			if m.busy {
				t.Error("still busy after result")
			}
			if m.status != tt.state {
				t.Errorf("status = %q, want %q", m.status, tt.state)
			}

			// A stage event queued behind the finished run does not win.
			m.Update(eventMsg{State: session.Processing, Stage: session.StageRetrieving})
			if m.status != tt.state {
				t.Errorf("status after stale event = %q, want %q", m.status, tt.state)
			}

			// Non-processing events still update the status.
			m.Update(eventMsg{State: session.Ready})
			if m.status != session.Ready.String() {
				t.Errorf("status = %q, want %q", m.status, session.Ready.String())
			}
		})
	}
}
