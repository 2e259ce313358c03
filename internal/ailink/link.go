// Package ailink maintains the realtime speech-to-speech connection for a
// single call: one WebSocket to the AI service, a bounded outbound audio
// queue, and a channel of typed events for the session to consume.
package ailink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/switchboard/internal/audio"
	"github.com/MikeSquared-Agency/switchboard/internal/config"
)

// Conn is a live link to the AI service. The session reads Events until
// KindClosed; everything after that is undefined.
type Conn interface {
	// SendCallerAudio queues one audio chunk for the service. Never
	// blocks; when the queue is full the chunk is dropped.
	SendCallerAudio(chunk []byte)
	// Events returns the channel of link events. Closed after the final
	// KindClosed event.
	Events() <-chan Event
	// Dropped reports how many caller chunks were discarded on a full queue.
	Dropped() int64
	// Close tears the link down. Safe to call more than once.
	Close()
}

// Dialer opens links. Exists so the gateway can be tested without a live
// AI service. The tenant comes from the start frame's custom parameters
// and selects per-tenant credentials; empty means the process defaults.
type Dialer interface {
	Open(ctx context.Context, callSid, tenant string) (Conn, error)
}

// Config carries the session behavior shared by every call.
type Config struct {
	Voice          string
	SystemPrompt   string
	Greeting       string
	AudioQueueSize int

	// Credentials resolves the endpoint and API key for a tenant.
	Credentials func(tenant string) config.Credentials
}

// OpenAIDialer opens realtime sessions against an OpenAI-compatible
// endpoint.
type OpenAIDialer struct {
	cfg Config
}

func NewDialer(cfg Config) *OpenAIDialer {
	if cfg.AudioQueueSize <= 0 {
		cfg.AudioQueueSize = 128
	}
	return &OpenAIDialer{cfg: cfg}
}

// Open dials the realtime endpoint and starts the link's read and write
// loops. The returned link is not yet ready; KindReady arrives on the
// event channel once the remote session accepts our configuration.
func (d *OpenAIDialer) Open(ctx context.Context, callSid, tenant string) (Conn, error) {
	creds := d.cfg.Credentials(tenant)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	url := fmt.Sprintf("%s?model=%s", creds.URL, creds.Model)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	l := &link{
		cfg:     d.cfg,
		callSid: callSid,
		ws:      ws,
		events:  make(chan Event, 32),
		audioQ:  make(chan []byte, d.cfg.AudioQueueSize),
		done:    make(chan struct{}),
	}
	go l.readLoop()
	go l.writeLoop()
	return l, nil
}

type link struct {
	cfg     Config
	callSid string
	ws      *websocket.Conn

	events chan Event
	audioQ chan []byte
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	dropped   atomic.Int64
}

func (l *link) Events() <-chan Event { return l.events }

func (l *link) Dropped() int64 { return l.dropped.Load() }

func (l *link) SendCallerAudio(chunk []byte) {
	select {
	case l.audioQ <- chunk:
	default:
		// Realtime audio is worthless late; shed instead of stalling.
		if n := l.dropped.Add(1); n == 1 || n%50 == 0 {
			slog.Warn("caller audio queue full, dropping",
				"call_sid", l.callSid,
				"dropped_total", n,
			)
		}
	}
}

func (l *link) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.writeMu.Lock()
		_ = l.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()
		_ = l.ws.Close()
	})
}

// readLoop is the only sender on the events channel. It emits KindClosed
// exactly once and then closes the channel.
func (l *link) readLoop() {
	var closeErr error
	defer func() {
		// The terminal event must reach the consumer even after a local
		// Close has fired l.done, so it bypasses emit's done-select. The
		// consumer contract is to drain until KindClosed, so this send
		// cannot block indefinitely.
		l.events <- Event{Kind: KindClosed, Err: closeErr}
		close(l.events)
	}()

	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
				// Local close, not a failure.
			default:
				closeErr = fmt.Errorf("read realtime event: %w", err)
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("malformed realtime event, skipping", "call_sid", l.callSid, "error", err)
			continue
		}
		l.handleServerEvent(msg)
	}
}

func (l *link) handleServerEvent(msg serverMessage) {
	switch msg.Type {
	case "session.created":
		if err := l.sendSessionUpdate(); err != nil {
			slog.Warn("failed to configure realtime session", "call_sid", l.callSid, "error", err)
		}

	case "session.updated":
		l.emit(Event{Kind: KindReady})
		if l.cfg.Greeting != "" {
			if err := l.sendGreeting(); err != nil {
				slog.Warn("failed to request greeting", "call_sid", l.callSid, "error", err)
			}
		}

	case "response.audio.delta":
		chunk, err := audio.Decode(msg.Delta)
		if err != nil {
			slog.Warn("undecodable audio delta, skipping", "call_sid", l.callSid, "error", err)
			return
		}
		l.emit(Event{Kind: KindAudioDelta, Audio: chunk})

	case "response.audio_transcript.done":
		if msg.Transcript != "" {
			l.emit(Event{Kind: KindAITranscript, Text: msg.Transcript})
		}

	case "conversation.item.input_audio_transcription.completed":
		if msg.Transcript != "" {
			l.emit(Event{Kind: KindCallerTranscript, Text: msg.Transcript})
		}

	case "error":
		text := "unknown error"
		if msg.Error != nil {
			text = fmt.Sprintf("%s: %s", msg.Error.Code, msg.Error.Message)
		}
		l.emit(Event{Kind: KindError, Text: text})
	}
	// Every other event type is bookkeeping we don't need.
}

func (l *link) emit(e Event) {
	select {
	case l.events <- e:
	case <-l.done:
	}
}

func (l *link) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case chunk := <-l.audioQ:
			msg := clientMessage{
				Type:  "input_audio_buffer.append",
				Audio: audio.Encode(chunk),
			}
			if err := l.writeJSON(msg); err != nil {
				slog.Warn("failed to forward caller audio", "call_sid", l.callSid, "error", err)
				return
			}
		}
	}
}

func (l *link) sendSessionUpdate() error {
	return l.writeJSON(clientMessage{
		Type: "session.update",
		Session: &sessionConfig{
			Modalities:        []string{"text", "audio"},
			Instructions:      l.cfg.SystemPrompt,
			Voice:             l.cfg.Voice,
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			InputAudioTranscription: &transcription{
				Model: "whisper-1",
			},
			TurnDetection: &turnDetection{Type: "server_vad"},
		},
	})
}

func (l *link) sendGreeting() error {
	return l.writeJSON(clientMessage{
		Type: "response.create",
		Response: &responseRequest{
			Instructions: "Greet the caller: " + l.cfg.Greeting,
		},
	})
}

func (l *link) writeJSON(msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal client message: %w", err)
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write client message: %w", err)
	}
	return nil
}
