package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/switchboard/internal/session"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no record matches the lookup, so callers
// can tell an absent call apart from a store failure.
var ErrNotFound = errors.New("call record not found")

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// CreateRecord inserts an in-progress call record at stream start and
// returns the record ref used for all later writes.
func (s *Store) CreateRecord(ctx context.Context, callSid, callerNumber, calleeNumber string, startedAt time.Time) (string, error) {
	recordRef := uuid.New().String()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_records (record_id, call_sid, caller_number, callee_number, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, recordRef, callSid, callerNumber, calleeNumber, session.StatusInProgress, startedAt)
	if err != nil {
		return "", fmt.Errorf("insert call record: %w", err)
	}

	slog.Debug("call record created", "call_sid", callSid, "record_ref", recordRef)
	return recordRef, nil
}

// UpdateTranscript replaces the stored transcript with the given snapshot.
// Each write carries the full current array, so a stale write is harmlessly
// superseded by the next one.
func (s *Store) UpdateTranscript(ctx context.Context, recordRef string, turns []session.Turn) error {
	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE call_records SET transcript = $2, updated_at = now() WHERE record_id = $1`,
		recordRef, payload,
	)
	if err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}
	return nil
}

// SetUrgent raises the urgency flag on the record. The flag is monotonic;
// repeated calls are harmless.
func (s *Store) SetUrgent(ctx context.Context, recordRef string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE call_records SET is_urgent = TRUE, updated_at = now() WHERE record_id = $1`,
		recordRef,
	)
	if err != nil {
		return fmt.Errorf("set urgent: %w", err)
	}
	return nil
}

// Finalize writes the terminal fields. Keyed by record ref, so a late
// duplicate write (e.g. a summarization that raced registry removal) lands
// on the same row.
func (s *Store) Finalize(ctx context.Context, recordRef, status string, endedAt time.Time, durationSeconds int, aiSummary, intent string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE call_records
		SET status = $2, ended_at = $3, duration_seconds = $4, ai_summary = $5, intent = $6, updated_at = now()
		WHERE record_id = $1
	`, recordRef, status, endedAt, durationSeconds, aiSummary, intent)
	if err != nil {
		return fmt.Errorf("finalize call record: %w", err)
	}
	return nil
}

// GetCall returns a single call record by call SID.
func (s *Store) GetCall(ctx context.Context, callSid string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT record_id, call_sid, caller_number, callee_number, status, is_urgent,
		       transcript, ai_summary, intent, started_at, ended_at, duration_seconds, created_at, updated_at
		FROM call_records WHERE call_sid = $1
	`, callSid)

	var (
		recordID, sid, caller, callee, status string
		urgent                                bool
		transcript                            json.RawMessage
		summary, intent                       string
		startedAt, createdAt, updatedAt       time.Time
		endedAt                               *time.Time
		durationSeconds                       *int
	)
	if err := row.Scan(&recordID, &sid, &caller, &callee, &status, &urgent,
		&transcript, &summary, &intent, &startedAt, &endedAt, &durationSeconds, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("call %s: %w", callSid, ErrNotFound)
		}
		return nil, fmt.Errorf("get call record: %w", err)
	}

	result := map[string]any{
		"record_id":     recordID,
		"call_sid":      sid,
		"caller_number": caller,
		"callee_number": callee,
		"status":        status,
		"is_urgent":     urgent,
		"transcript":    transcript,
		"ai_summary":    summary,
		"intent":        intent,
		"started_at":    startedAt,
		"created_at":    createdAt,
		"updated_at":    updatedAt,
	}
	if endedAt != nil {
		result["ended_at"] = *endedAt
	}
	if durationSeconds != nil {
		result["duration_seconds"] = *durationSeconds
	}
	return result, nil
}

// ListCalls returns call records, newest first, optionally filtered by status.
func (s *Store) ListCalls(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	q := `SELECT call_sid, caller_number, callee_number, status, is_urgent, ai_summary, intent, started_at, duration_seconds
	      FROM call_records`
	args := []any{}
	argN := 1

	if status != "" {
		q += fmt.Sprintf(` WHERE status = $%d`, argN)
		args = append(args, status)
		argN++
	}

	q += ` ORDER BY started_at DESC`

	if limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d`, argN)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var (
			sid, caller, callee, st, summary, intent string
			urgent                                   bool
			startedAt                                time.Time
			durationSeconds                          *int
		)
		if err := rows.Scan(&sid, &caller, &callee, &st, &urgent, &summary, &intent, &startedAt, &durationSeconds); err != nil {
			return nil, err
		}
		r := map[string]any{
			"call_sid":      sid,
			"caller_number": caller,
			"callee_number": callee,
			"status":        st,
			"is_urgent":     urgent,
			"ai_summary":    summary,
			"intent":        intent,
			"started_at":    startedAt,
		}
		if durationSeconds != nil {
			r["duration_seconds"] = *durationSeconds
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
