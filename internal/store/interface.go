package store

import (
	"context"
	"time"

	"github.com/MikeSquared-Agency/switchboard/internal/session"
)

// RecordStore is the call-record write/read contract consumed by the
// gateway, transcript persister, finalizer, and API.
// The concrete implementation is *Store (pgx-backed).
//
// CreateRecord must succeed before any audio is relayed. UpdateTranscript
// replaces the whole transcript array (last-write-wins), so it is safe under
// out-of-order delivery of snapshots. Finalize is idempotent by record ref.
type RecordStore interface {
	CreateRecord(ctx context.Context, callSid, callerNumber, calleeNumber string, startedAt time.Time) (string, error)
	UpdateTranscript(ctx context.Context, recordRef string, turns []session.Turn) error
	SetUrgent(ctx context.Context, recordRef string) error
	Finalize(ctx context.Context, recordRef, status string, endedAt time.Time, durationSeconds int, aiSummary, intent string) error
	GetCall(ctx context.Context, callSid string) (map[string]any, error)
	ListCalls(ctx context.Context, status string, limit int) ([]map[string]any, error)
	Close()
}
