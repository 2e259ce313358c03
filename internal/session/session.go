package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Speaker identifies which side of the call produced a transcript turn.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAI     Speaker = "ai"
)

// Turn is one completed utterance in the call transcript.
type Turn struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
}

// State is the lifecycle state of a call session.
type State int

const (
	// Opening: media stream started, speech-AI link not yet confirmed ready.
	Opening State = iota
	// Active: link ready, audio flowing bidirectionally.
	Active
	// Closing: stop received or link failed; finalization in progress.
	Closing
	// Closed: terminal, entry removed from the registry.
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal call record statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusNoAnswer   = "no_answer"
)

// Session binds one inbound media-stream connection to one speech-AI link
// for the duration of a call. It owns the transcript buffer and urgency flag;
// no other component mutates them directly.
type Session struct {
	CallSid      string
	StreamSid    string
	CallerNumber string
	CalleeNumber string
	StartedAt    time.Time
	RecordRef    string

	mu         sync.Mutex
	state      State
	urgent     bool
	transcript []Turn

	finalizeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a session in the Opening state.
func New(callSid, callerNumber, calleeNumber string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		CallSid:      callSid,
		CallerNumber: callerNumber,
		CalleeNumber: calleeNumber,
		StartedAt:    time.Now().UTC(),
		state:        Opening,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Context is canceled when the session begins closing. All per-session I/O
// (link handshake, audio forwarding, summarization) hangs off it.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activate moves Opening -> Active on the link-ready acknowledgment.
func (s *Session) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Opening {
		return fmt.Errorf("activate from %s", s.state)
	}
	s.state = Active
	return nil
}

// BeginClosing moves the session into Closing and cancels its context.
// It returns true only for the first caller; every exit path (stop event,
// gateway disconnect, link failure) races through here and exactly one wins.
func (s *Session) BeginClosing() bool {
	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return false
	}
	s.state = Closing
	s.mu.Unlock()
	s.cancel()
	return true
}

// MarkClosed records the terminal state after finalization completes.
func (s *Session) MarkClosed() {
	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
}

// AppendTurn appends a completed utterance and returns a snapshot of the
// full transcript for incremental persistence.
func (s *Session) AppendTurn(speaker Speaker, text string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, Turn{
		Speaker:    speaker,
		Text:       text,
		OccurredAt: time.Now().UTC(),
	})
	return s.snapshotLocked()
}

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() []Turn {
	cp := make([]Turn, len(s.transcript))
	copy(cp, s.transcript)
	return cp
}

func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcript)
}

// EndStatus maps the current state to the terminal status for a call that
// ended without an explicit failure: no_answer when the link never became
// ready, completed otherwise.
func (s *Session) EndStatus() string {
	if s.State() == Opening {
		return StatusNoAnswer
	}
	return StatusCompleted
}

// MarkUrgent raises the urgency flag. It returns true only on the first
// call; the flag is never cleared within a session.
func (s *Session) MarkUrgent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.urgent {
		return false
	}
	s.urgent = true
	return true
}

func (s *Session) Urgent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urgent
}

// Finalize runs fn exactly once, no matter how many exit paths reach it.
func (s *Session) Finalize(fn func()) {
	s.finalizeOnce.Do(fn)
}
