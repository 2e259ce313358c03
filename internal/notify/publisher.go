// Package notify publishes call lifecycle events to NATS JetStream so
// downstream consumers (dashboards, CRM sync) can react without polling
// the database.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName = "CALL_EVENTS"

	SubjectCallStarted   = "switchboard.call.started"
	SubjectCallUrgent    = "switchboard.call.urgent"
	SubjectCallCompleted = "switchboard.call.completed"
)

// CallEvent is the wire payload for every lifecycle subject.
type CallEvent struct {
	EventID      string    `json:"event_id"`
	CallSid      string    `json:"call_sid"`
	CallerNumber string    `json:"caller_number,omitempty"`
	Status       string    `json:"status,omitempty"`
	IsUrgent     bool      `json:"is_urgent,omitempty"`
	Intent       string    `json:"intent,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher owns the NATS connection and the CALL_EVENTS stream.
type Publisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func New(natsURL string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	p := &Publisher{nc: nc, js: js}
	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	// Try to get existing stream first.
	_, err := p.js.Stream(ctx, streamName)
	if err == nil {
		return nil
	}

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"switchboard.call.>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}

	slog.Info("created stream", "name", streamName)
	return nil
}

// Publish sends one lifecycle event. Failures are logged and absorbed;
// an unreachable broker must never affect a live call.
func (p *Publisher) Publish(ctx context.Context, subject string, event CallEvent) {
	event.EventID = uuid.New().String()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal call event", "subject", subject, "error", err)
		return
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		slog.Warn("failed to publish call event",
			"subject", subject,
			"call_sid", event.CallSid,
			"error", err,
		)
	}
}

// Close drains the connection so buffered publishes flush.
func (p *Publisher) Close() {
	p.nc.Drain()
}
