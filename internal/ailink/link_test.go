package ailink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/switchboard/internal/audio"
	"github.com/MikeSquared-Agency/switchboard/internal/config"
)

// fakeRealtime runs a scripted AI-service endpoint. The script gets the
// upgraded server side of the socket; inbound client messages are decoded
// onto the received channel.
type fakeRealtime struct {
	server   *httptest.Server
	received chan map[string]any
	authSeen chan string
}

func newFakeRealtime(t *testing.T, script func(ws *websocket.Conn, received chan map[string]any)) *fakeRealtime {
	t.Helper()
	f := &fakeRealtime{
		received: make(chan map[string]any, 16),
		authSeen: make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.authSeen <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go func() {
			for {
				var msg map[string]any
				if err := ws.ReadJSON(&msg); err != nil {
					close(f.received)
					return
				}
				f.received <- msg
			}
		}()
		script(ws, f.received)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRealtime) dialer(queueSize int) *OpenAIDialer {
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http")
	return NewDialer(Config{
		Voice:          "alloy",
		SystemPrompt:   "be helpful",
		Greeting:       "say hello",
		AudioQueueSize: queueSize,
		Credentials: func(tenant string) config.Credentials {
			return config.Credentials{APIKey: "test-key", URL: wsURL, Model: "test-model"}
		},
	})
}

func nextReceived(t *testing.T, ch chan map[string]any, wantType string) map[string]any {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("connection closed waiting for %s", wantType)
		}
		if msg["type"] != wantType {
			t.Fatalf("got client message %v, want %s", msg["type"], wantType)
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for client %s", wantType)
	}
	return nil
}

func nextEvent(t *testing.T, conn Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for link event")
	}
	return Event{}
}

func TestHandshakeAndServerEvents(t *testing.T) {
	f := newFakeRealtime(t, func(ws *websocket.Conn, received chan map[string]any) {
		_ = ws.WriteJSON(map[string]any{"type": "session.created"})
		// The client responds with its session configuration, then we
		// confirm and stream a scripted conversation.
		for msg := range received {
			switch msg["type"] {
			case "session.update":
				sess := msg["session"].(map[string]any)
				if sess["input_audio_format"] != "g711_ulaw" || sess["output_audio_format"] != "g711_ulaw" {
					t.Errorf("unexpected audio formats: %v", sess)
				}
				_ = ws.WriteJSON(map[string]any{"type": "session.updated"})
			case "response.create":
				_ = ws.WriteJSON(map[string]any{"type": "response.audio.delta", "delta": audio.Encode([]byte{7, 7})})
				_ = ws.WriteJSON(map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "hello?"})
				_ = ws.WriteJSON(map[string]any{"type": "response.audio_transcript.done", "transcript": "hi, how can I help?"})
				_ = ws.WriteJSON(map[string]any{"type": "error", "error": map[string]any{"code": "rate_limited", "message": "slow down"}})
				return
			}
		}
	})

	conn, err := f.dialer(8).Open(context.Background(), "CA1", "acme")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	if auth := <-f.authSeen; auth != "Bearer test-key" {
		t.Errorf("Authorization = %q", auth)
	}

	if ev := nextEvent(t, conn); ev.Kind != KindReady {
		t.Fatalf("first event = %s, want ready", ev.Kind)
	}
	if ev := nextEvent(t, conn); ev.Kind != KindAudioDelta || len(ev.Audio) != 2 {
		t.Fatalf("second event = %s (%d bytes), want audio_delta", ev.Kind, len(ev.Audio))
	}
	if ev := nextEvent(t, conn); ev.Kind != KindCallerTranscript || ev.Text != "hello?" {
		t.Fatalf("third event = %s %q", ev.Kind, ev.Text)
	}
	if ev := nextEvent(t, conn); ev.Kind != KindAITranscript || ev.Text != "hi, how can I help?" {
		t.Fatalf("fourth event = %s %q", ev.Kind, ev.Text)
	}
	if ev := nextEvent(t, conn); ev.Kind != KindError || !strings.Contains(ev.Text, "rate_limited") {
		t.Fatalf("fifth event = %s %q", ev.Kind, ev.Text)
	}
}

func TestCallerAudioForwarded(t *testing.T) {
	f := newFakeRealtime(t, func(ws *websocket.Conn, received chan map[string]any) {
		_ = ws.WriteJSON(map[string]any{"type": "session.created"})
		// Keep the socket open; the test inspects received directly.
		time.Sleep(3 * time.Second)
	})

	conn, err := f.dialer(8).Open(context.Background(), "CA1", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	// Wait out the configuration exchange so message order is deterministic.
	nextReceived(t, f.received, "session.update")

	chunk := []byte{0x10, 0x20, 0x30}
	conn.SendCallerAudio(chunk)
	msg := nextReceived(t, f.received, "input_audio_buffer.append")
	got, err := audio.Decode(msg["audio"].(string))
	if err != nil {
		t.Fatalf("decode forwarded audio: %v", err)
	}
	if string(got) != string(chunk) {
		t.Errorf("forwarded chunk = %v, want %v", got, chunk)
	}
}

func TestCloseEmitsCleanClosed(t *testing.T) {
	f := newFakeRealtime(t, func(ws *websocket.Conn, received chan map[string]any) {
		_ = ws.WriteJSON(map[string]any{"type": "session.created"})
		time.Sleep(3 * time.Second)
	})

	conn, err := f.dialer(8).Open(context.Background(), "CA1", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	conn.Close()
	conn.Close() // idempotent

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				t.Fatal("channel closed before the closed event")
			}
			if ev.Kind == KindClosed {
				if ev.Err != nil {
					t.Errorf("local close reported error: %v", ev.Err)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for closed event")
		}
	}
}

// The closed event races the done channel when the local side hangs up;
// it must win every time or the consumer's pump never learns the link died.
func TestCloseAlwaysDeliversClosedEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.WriteJSON(map[string]any{"type": "session.created"})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				ws.Close()
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	d := NewDialer(Config{
		Credentials: func(string) config.Credentials {
			return config.Credentials{APIKey: "k", URL: wsURL, Model: "m"}
		},
	})

	for i := 0; i < 50; i++ {
		conn, err := d.Open(context.Background(), "CA1", "")
		if err != nil {
			t.Fatalf("iteration %d: Open: %v", i, err)
		}
		conn.Close()

		sawClosed := false
		timeout := time.After(3 * time.Second)
	drain:
		for {
			select {
			case ev, ok := <-conn.Events():
				if !ok {
					break drain
				}
				if ev.Kind == KindClosed {
					sawClosed = true
				}
			case <-timeout:
				t.Fatalf("iteration %d: timed out draining events", i)
			}
		}
		if !sawClosed {
			t.Fatalf("iteration %d: channel closed without a closed event", i)
		}
	}
}

func TestRemoteDropEmitsClosedError(t *testing.T) {
	f := newFakeRealtime(t, func(ws *websocket.Conn, received chan map[string]any) {
		_ = ws.WriteJSON(map[string]any{"type": "session.created"})
		// Die without a close handshake.
		ws.Close()
	})

	conn, err := f.dialer(8).Open(context.Background(), "CA1", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				t.Fatal("channel closed before the closed event")
			}
			if ev.Kind == KindClosed {
				if ev.Err == nil {
					t.Error("remote drop should carry an error")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for closed event")
		}
	}
}

func TestOpenFailure(t *testing.T) {
	d := NewDialer(Config{
		Credentials: func(string) config.Credentials {
			return config.Credentials{APIKey: "k", URL: "ws://127.0.0.1:1", Model: "m"}
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := d.Open(ctx, "CA1", ""); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestMalformedServerEventSkipped(t *testing.T) {
	f := newFakeRealtime(t, func(ws *websocket.Conn, received chan map[string]any) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = ws.WriteJSON(map[string]any{"type": "session.created"})
		_ = ws.WriteJSON(map[string]any{"type": "session.updated"})
		time.Sleep(3 * time.Second)
	})

	conn, err := f.dialer(8).Open(context.Background(), "CA1", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	// The garbage frame is dropped and the handshake still completes.
	if ev := nextEvent(t, conn); ev.Kind != KindReady {
		t.Fatalf("event = %s, want ready", ev.Kind)
	}
}
