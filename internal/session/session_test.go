package session

import (
	"testing"
)

func TestLifecycle(t *testing.T) {
	s := New("CA1", "+15550001", "+15550002")
	if s.State() != Opening {
		t.Fatalf("new session state = %s, want opening", s.State())
	}

	if err := s.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if s.State() != Active {
		t.Errorf("state = %s, want active", s.State())
	}

	// A second activation is a protocol violation.
	if err := s.Activate(); err == nil {
		t.Error("expected error activating twice")
	}
}

func TestBeginClosingFirstWins(t *testing.T) {
	s := New("CA1", "", "")
	if !s.BeginClosing() {
		t.Fatal("first BeginClosing should win")
	}
	if s.BeginClosing() {
		t.Error("second BeginClosing should lose")
	}
	if s.State() != Closing {
		t.Errorf("state = %s, want closing", s.State())
	}

	select {
	case <-s.Context().Done():
	default:
		t.Error("context should be canceled after BeginClosing")
	}
}

func TestActivateAfterClosingFails(t *testing.T) {
	s := New("CA1", "", "")
	s.BeginClosing()
	if err := s.Activate(); err == nil {
		t.Error("expected error activating a closing session")
	}
}

func TestAppendTurnSnapshots(t *testing.T) {
	s := New("CA1", "", "")

	first := s.AppendTurn(SpeakerCaller, "hello")
	second := s.AppendTurn(SpeakerAI, "hi there")

	if len(first) != 1 || len(second) != 2 {
		t.Fatalf("snapshot lengths = %d, %d; want 1, 2", len(first), len(second))
	}
	// Earlier snapshots must not see later turns.
	if first[0].Text != "hello" {
		t.Errorf("first snapshot text = %q", first[0].Text)
	}
	if second[0].Text != "hello" || second[1].Text != "hi there" {
		t.Errorf("second snapshot = %+v", second)
	}
	if second[1].Speaker != SpeakerAI {
		t.Errorf("speaker = %s, want ai", second[1].Speaker)
	}
}

func TestEndStatus(t *testing.T) {
	s := New("CA1", "", "")
	if got := s.EndStatus(); got != StatusNoAnswer {
		t.Errorf("EndStatus while opening = %q, want no_answer", got)
	}

	if err := s.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got := s.EndStatus(); got != StatusCompleted {
		t.Errorf("EndStatus while active = %q, want completed", got)
	}

	// Once the call was active, closing doesn't demote it.
	s.BeginClosing()
	if got := s.EndStatus(); got != StatusCompleted {
		t.Errorf("EndStatus while closing = %q, want completed", got)
	}
}

func TestMarkUrgentMonotonic(t *testing.T) {
	s := New("CA1", "", "")
	if s.Urgent() {
		t.Fatal("new session should not be urgent")
	}
	if !s.MarkUrgent() {
		t.Error("first MarkUrgent should report the transition")
	}
	// Urgency never clears and later marks are no-ops.
	for i := 0; i < 3; i++ {
		if s.MarkUrgent() {
			t.Error("repeated MarkUrgent should not report a transition")
		}
		if !s.Urgent() {
			t.Error("urgency flag must stay raised")
		}
	}
}

func TestFinalizeRunsOnce(t *testing.T) {
	s := New("CA1", "", "")
	runs := 0
	for i := 0; i < 5; i++ {
		s.Finalize(func() { runs++ })
	}
	if runs != 1 {
		t.Errorf("finalize ran %d times, want 1", runs)
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	a := New("CA1", "", "")
	b := New("CA1", "", "")

	if err := r.Register(a); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(b); err == nil {
		t.Fatal("duplicate Register should fail")
	}

	// The original session must be unaffected.
	got, ok := r.Get("CA1")
	if !ok || got != a {
		t.Error("original session lost after duplicate rejection")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	s := New("CA1", "", "")
	if err := r.Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.Remove("CA1")
	r.Remove("CA1")
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}

	// The SID is free for a new call after removal.
	if err := r.Register(New("CA1", "", "")); err != nil {
		t.Errorf("re-Register after Remove: %v", err)
	}
}
