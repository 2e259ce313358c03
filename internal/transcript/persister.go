// Package transcript accumulates completed turns and flushes them to the
// call-record store incrementally, so a crash mid-call loses at most the
// turns since the last successful flush.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/switchboard/internal/session"
)

// RecordWriter abstracts the single store operation the persister needs.
// Uses a narrow interface to stay instantiable in tests without a database.
type RecordWriter interface {
	UpdateTranscript(ctx context.Context, recordRef string, turns []session.Turn) error
}

// Persister appends turns to a session and writes the full current
// transcript to the store after each one. The store's write primitive is
// document-replace, so every flush carries the whole array; a missed write
// is superseded by the next turn's flush.
type Persister struct {
	store RecordWriter
}

func NewPersister(store RecordWriter) *Persister {
	return &Persister{store: store}
}

// Append records one completed turn and flushes the snapshot. Persistence
// failures are logged and absorbed; the call continues.
func (p *Persister) Append(ctx context.Context, sess *session.Session, speaker session.Speaker, text string) []session.Turn {
	snapshot := sess.AppendTurn(speaker, text)

	if err := p.store.UpdateTranscript(ctx, sess.RecordRef, snapshot); err != nil {
		slog.Warn("transcript flush failed, next turn supersedes",
			"call_sid", sess.CallSid,
			"turns", len(snapshot),
			"error", err,
		)
	}
	return snapshot
}

// RenderText formats a transcript as "Speaker: text" lines for the
// end-of-call summarization prompt.
func RenderText(turns []session.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		label := "Caller"
		if t.Speaker == session.SpeakerAI {
			label = "AI"
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, t.Text)
	}
	return sb.String()
}
