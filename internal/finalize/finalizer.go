// Package finalize settles a call record exactly once after the call ends:
// summary, intent, terminal status, and lifecycle notification.
package finalize

import (
	"context"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/switchboard/internal/notify"
	"github.com/MikeSquared-Agency/switchboard/internal/session"
	"github.com/MikeSquared-Agency/switchboard/internal/store"
	"github.com/MikeSquared-Agency/switchboard/internal/summarize"
	"github.com/MikeSquared-Agency/switchboard/internal/transcript"
)

// EventPublisher is the slice of notify.Publisher the finalizer uses.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, event notify.CallEvent)
}

// Finalizer drives the end-of-call path. Safe for concurrent use; the
// per-session once guard makes duplicate triggers harmless.
type Finalizer struct {
	store      store.RecordStore
	summarizer summarize.Summarizer
	publisher  EventPublisher
	registry   *session.Registry
	intents    []string
	grace      time.Duration
}

func New(st store.RecordStore, sm summarize.Summarizer, pub EventPublisher, reg *session.Registry, intents []string, grace time.Duration) *Finalizer {
	if grace <= 0 {
		grace = 15 * time.Second
	}
	return &Finalizer{
		store:      st,
		summarizer: sm,
		publisher:  pub,
		registry:   reg,
		intents:    intents,
		grace:      grace,
	}
}

// Run finalizes the session with the given terminal status. The first
// caller wins; later calls with a different status are no-ops. Blocks
// until the record is settled or the grace window expires.
func (f *Finalizer) Run(sess *session.Session, status string) {
	sess.Finalize(func() {
		f.settle(sess, status)
	})
}

func (f *Finalizer) settle(sess *session.Session, status string) {
	// The session context is already cancelled by the time we get here,
	// so the settle path runs on its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), f.grace)
	defer cancel()

	endedAt := time.Now().UTC()
	duration := int(endedAt.Sub(sess.StartedAt).Seconds())
	turns := sess.Transcript()

	summary := ""
	intent := summarize.FallbackIntent(f.intents)
	if len(turns) > 0 && f.summarizer != nil {
		result, err := f.summarizer.Summarize(ctx, transcript.RenderText(turns))
		if err != nil {
			slog.Warn("summarization failed, finalizing without summary",
				"call_sid", sess.CallSid,
				"error", err,
			)
		} else {
			summary = result.Summary
			intent = result.Intent
		}
	}

	if err := f.store.Finalize(ctx, sess.RecordRef, status, endedAt, duration, summary, intent); err != nil {
		slog.Error("failed to finalize call record",
			"call_sid", sess.CallSid,
			"record_ref", sess.RecordRef,
			"status", status,
			"error", err,
		)
	}

	if f.publisher != nil {
		f.publisher.Publish(ctx, notify.SubjectCallCompleted, notify.CallEvent{
			CallSid:      sess.CallSid,
			CallerNumber: sess.CallerNumber,
			Status:       status,
			IsUrgent:     sess.Urgent(),
			Intent:       intent,
		})
	}

	f.registry.Remove(sess.CallSid)
	sess.MarkClosed()

	slog.Info("call finalized",
		"call_sid", sess.CallSid,
		"status", status,
		"duration_seconds", duration,
		"turns", len(turns),
		"urgent", sess.Urgent(),
	)
}
