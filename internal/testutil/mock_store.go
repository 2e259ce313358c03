package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/switchboard/internal/session"
	"github.com/MikeSquared-Agency/switchboard/internal/store"
)

// MockStore is a thread-safe in-memory implementation of store.RecordStore
// for testing.
type MockStore struct {
	mu sync.Mutex

	Records map[string]*MockRecord // keyed by record ref
	byCall  map[string]string      // call SID -> record ref

	CreateErr     error
	TranscriptErr error
	UrgentErr     error
	FinalizeErr   error
	GetErr        error

	CreateCalls     int
	TranscriptCalls int
	UrgentCalls     int
	FinalizeCalls   int

	// TranscriptWrites records every snapshot passed to UpdateTranscript,
	// in order, for prefix-consistency assertions.
	TranscriptWrites [][]session.Turn
}

// MockRecord mirrors a call_records row.
type MockRecord struct {
	RecordRef       string
	CallSid         string
	CallerNumber    string
	CalleeNumber    string
	Status          string
	IsUrgent        bool
	Transcript      []session.Turn
	AISummary       string
	Intent          string
	StartedAt       time.Time
	EndedAt         time.Time
	DurationSeconds int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Records: make(map[string]*MockRecord),
		byCall:  make(map[string]string),
	}
}

func (m *MockStore) CreateRecord(_ context.Context, callSid, callerNumber, calleeNumber string, startedAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	ref := fmt.Sprintf("rec-%d", m.CreateCalls)
	m.Records[ref] = &MockRecord{
		RecordRef:    ref,
		CallSid:      callSid,
		CallerNumber: callerNumber,
		CalleeNumber: calleeNumber,
		Status:       session.StatusInProgress,
		StartedAt:    startedAt,
	}
	m.byCall[callSid] = ref
	return ref, nil
}

func (m *MockStore) UpdateTranscript(_ context.Context, recordRef string, turns []session.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscriptCalls++
	if m.TranscriptErr != nil {
		return m.TranscriptErr
	}
	rec, ok := m.Records[recordRef]
	if !ok {
		return fmt.Errorf("record %s not found", recordRef)
	}
	cp := make([]session.Turn, len(turns))
	copy(cp, turns)
	rec.Transcript = cp
	m.TranscriptWrites = append(m.TranscriptWrites, cp)
	return nil
}

func (m *MockStore) SetUrgent(_ context.Context, recordRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UrgentCalls++
	if m.UrgentErr != nil {
		return m.UrgentErr
	}
	rec, ok := m.Records[recordRef]
	if !ok {
		return fmt.Errorf("record %s not found", recordRef)
	}
	rec.IsUrgent = true
	return nil
}

func (m *MockStore) Finalize(_ context.Context, recordRef, status string, endedAt time.Time, durationSeconds int, aiSummary, intent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FinalizeCalls++
	if m.FinalizeErr != nil {
		return m.FinalizeErr
	}
	rec, ok := m.Records[recordRef]
	if !ok {
		return fmt.Errorf("record %s not found", recordRef)
	}
	rec.Status = status
	rec.EndedAt = endedAt
	rec.DurationSeconds = durationSeconds
	rec.AISummary = aiSummary
	rec.Intent = intent
	return nil
}

func (m *MockStore) GetCall(_ context.Context, callSid string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	ref, ok := m.byCall[callSid]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callSid, store.ErrNotFound)
	}
	rec := m.Records[ref]
	return map[string]any{
		"record_id":     rec.RecordRef,
		"call_sid":      rec.CallSid,
		"caller_number": rec.CallerNumber,
		"callee_number": rec.CalleeNumber,
		"status":        rec.Status,
		"is_urgent":     rec.IsUrgent,
		"ai_summary":    rec.AISummary,
		"intent":        rec.Intent,
	}, nil
}

func (m *MockStore) ListCalls(_ context.Context, status string, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []map[string]any
	for _, rec := range m.Records {
		if status != "" && rec.Status != status {
			continue
		}
		results = append(results, map[string]any{
			"call_sid":  rec.CallSid,
			"status":    rec.Status,
			"is_urgent": rec.IsUrgent,
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MockStore) Close() {}

// Record returns the record for a call SID, or nil.
func (m *MockStore) Record(callSid string) *MockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.byCall[callSid]
	if !ok {
		return nil
	}
	return m.Records[ref]
}

// GetCreateCalls returns how many times CreateRecord was called.
func (m *MockStore) GetCreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreateCalls
}

// GetTranscriptCalls returns how many times UpdateTranscript was called.
func (m *MockStore) GetTranscriptCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TranscriptCalls
}

// GetUrgentCalls returns how many times SetUrgent was called.
func (m *MockStore) GetUrgentCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.UrgentCalls
}

// Writes returns the ordered transcript snapshots seen by the store.
func (m *MockStore) Writes() [][]session.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]session.Turn, len(m.TranscriptWrites))
	copy(out, m.TranscriptWrites)
	return out
}
