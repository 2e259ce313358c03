// Package gateway terminates inbound media-stream WebSocket connections
// and bridges each one to a speech-AI link for the life of the call.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/switchboard/internal/ailink"
	"github.com/MikeSquared-Agency/switchboard/internal/audio"
	"github.com/MikeSquared-Agency/switchboard/internal/finalize"
	"github.com/MikeSquared-Agency/switchboard/internal/notify"
	"github.com/MikeSquared-Agency/switchboard/internal/session"
	"github.com/MikeSquared-Agency/switchboard/internal/store"
	"github.com/MikeSquared-Agency/switchboard/internal/transcript"
	"github.com/MikeSquared-Agency/switchboard/internal/urgency"
)

// UrgentAlerter is the slice of slack.Alerter the gateway uses.
type UrgentAlerter interface {
	PostUrgentCallAlert(ctx context.Context, callSid, callerNumber, utterance string) error
}

// Options bound the per-call resources.
type Options struct {
	LinkOpenTimeout   time.Duration
	OutboundQueueSize int
}

// Handler owns one WebSocket endpoint. Every accepted connection carries
// exactly one call.
type Handler struct {
	store     store.RecordStore
	registry  *session.Registry
	dialer    ailink.Dialer
	detector  urgency.Detector
	persister *transcript.Persister
	finalizer *finalize.Finalizer
	publisher finalize.EventPublisher
	alerter   UrgentAlerter
	opts      Options

	upgrader websocket.Upgrader
}

func NewHandler(st store.RecordStore, reg *session.Registry, dialer ailink.Dialer, det urgency.Detector, pers *transcript.Persister, fin *finalize.Finalizer, pub finalize.EventPublisher, alerter UrgentAlerter, opts Options) *Handler {
	if opts.LinkOpenTimeout <= 0 {
		opts.LinkOpenTimeout = 10 * time.Second
	}
	if opts.OutboundQueueSize <= 0 {
		opts.OutboundQueueSize = 64
	}
	return &Handler{
		store:     st,
		registry:  reg,
		dialer:    dialer,
		detector:  det,
		persister: pers,
		finalizer: fin,
		publisher: pub,
		alerter:   alerter,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The provider connects server-to-server without an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("media stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &callConn{handler: h, ws: ws}
	c.run()
}

// callConn is the per-connection state. The read loop owns sess and link
// assignment; the dispatch and pump goroutines only read them after start.
type callConn struct {
	handler *Handler
	ws      *websocket.Conn

	sess *session.Session
	link ailink.Conn
	outQ chan []byte

	writeMu    sync.Mutex
	outDropped int
	pumpDone   chan struct{}
}

func (c *callConn) run() {
	defer c.ws.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.onGatewayClosed(err)
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("malformed media stream frame, skipping", "error", err)
			continue
		}

		switch msg.Event {
		case "connected":
			// Protocol preamble, nothing to do until start.
		case "start":
			if !c.onStart(msg.Start) {
				return
			}
		case "media":
			c.onMedia(msg.Media)
		case "stop":
			c.onStop()
			return
		case "mark", "dtmf":
			// Not used for bridged calls.
		default:
			slog.Debug("unhandled media stream event", "event", msg.Event)
		}
	}
}

// onStart creates the session, persists the initial record, and opens the
// speech-AI link. Returns false when the connection must be torn down.
func (c *callConn) onStart(start *startFrame) bool {
	if start == nil || start.CallSid == "" {
		slog.Warn("start frame missing call SID, closing")
		return false
	}
	if c.sess != nil {
		slog.Warn("duplicate start frame on live connection, ignoring", "call_sid", start.CallSid)
		return true
	}

	h := c.handler
	sess := session.New(start.CallSid, start.CustomParameters["from"], start.CustomParameters["to"])
	sess.StreamSid = start.StreamSid

	if err := h.registry.Register(sess); err != nil {
		// Duplicate delivery of the same call; the original session wins.
		slog.Warn("rejecting duplicate call session", "call_sid", start.CallSid, "error", err)
		return false
	}

	ref, err := h.store.CreateRecord(context.Background(), sess.CallSid, sess.CallerNumber, sess.CalleeNumber, sess.StartedAt)
	if err != nil {
		// No record, no call. Answering without a persistence anchor would
		// lose the transcript entirely.
		slog.Error("failed to create call record, refusing call", "call_sid", sess.CallSid, "error", err)
		h.registry.Remove(sess.CallSid)
		return false
	}
	sess.RecordRef = ref

	if h.publisher != nil {
		h.publisher.Publish(context.Background(), notify.SubjectCallStarted, notify.CallEvent{
			CallSid:      sess.CallSid,
			CallerNumber: sess.CallerNumber,
			Status:       session.StatusInProgress,
		})
	}

	openCtx, cancel := context.WithTimeout(sess.Context(), h.opts.LinkOpenTimeout)
	link, err := h.dialer.Open(openCtx, sess.CallSid, start.CustomParameters["tenant"])
	cancel()
	if err != nil {
		slog.Error("failed to open speech-AI link", "call_sid", sess.CallSid, "error", err)
		sess.BeginClosing()
		h.finalizer.Run(sess, session.StatusFailed)
		return false
	}

	c.sess = sess
	c.link = link
	c.outQ = make(chan []byte, h.opts.OutboundQueueSize)
	c.pumpDone = make(chan struct{})

	go c.dispatchLoop()
	go c.pumpOutbound()

	slog.Info("call session opened",
		"call_sid", sess.CallSid,
		"stream_sid", sess.StreamSid,
		"caller", sess.CallerNumber,
		"record_ref", ref,
	)
	return true
}

func (c *callConn) onMedia(media *mediaFrame) {
	if c.link == nil || media == nil {
		return
	}
	// Only the caller's track feeds the link; our own playback echoes back
	// on the outbound track in some provider configurations.
	if media.Track != "" && media.Track != "inbound" {
		return
	}
	chunk, err := audio.Decode(media.Payload)
	if err != nil {
		slog.Warn("undecodable media payload, skipping", "call_sid", c.sess.CallSid, "error", err)
		return
	}
	c.link.SendCallerAudio(chunk)
}

// onStop handles a clean end-of-call from the provider.
func (c *callConn) onStop() {
	if c.sess == nil {
		return
	}
	c.teardown(c.sess.EndStatus())
}

// onGatewayClosed handles the caller's socket dropping, cleanly or not.
func (c *callConn) onGatewayClosed(err error) {
	if c.sess == nil {
		return
	}
	status := c.sess.EndStatus()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Warn("media stream dropped", "call_sid", c.sess.CallSid, "error", err)
	}
	c.teardown(status)
}

// teardown drives the shared exit path. Every way a call can end funnels
// through here; BeginClosing arbitrates the race and Finalize guarantees
// the record settles once.
func (c *callConn) teardown(status string) {
	c.sess.BeginClosing()
	if c.link != nil {
		c.link.Close()
	}
	c.handler.finalizer.Run(c.sess, status)
}

// dispatchLoop is the single consumer of link events for this call.
func (c *callConn) dispatchLoop() {
	sess := c.sess
	// The pump must exit however this loop ends, including an event
	// channel that closes without a terminal event.
	defer close(c.pumpDone)

	for ev := range c.link.Events() {
		switch ev.Kind {
		case ailink.KindReady:
			if err := sess.Activate(); err != nil {
				slog.Warn("link ready in unexpected state", "call_sid", sess.CallSid, "error", err)
				continue
			}
			slog.Info("speech-AI link ready", "call_sid", sess.CallSid)

		case ailink.KindAudioDelta:
			c.enqueueOutbound(ev.Audio)

		case ailink.KindCallerTranscript:
			c.handler.persister.Append(context.Background(), sess, session.SpeakerCaller, ev.Text)
			c.judgeUrgency(ev.Text)

		case ailink.KindAITranscript:
			c.handler.persister.Append(context.Background(), sess, session.SpeakerAI, ev.Text)

		case ailink.KindError:
			slog.Warn("speech-AI link error", "call_sid", sess.CallSid, "detail", ev.Text)

		case ailink.KindClosed:
			if ev.Err == nil {
				// Local close during teardown; the read loop already
				// chose a status.
				return
			}
			slog.Warn("speech-AI link lost", "call_sid", sess.CallSid, "error", ev.Err)
			status := session.StatusCompleted
			if sess.State() == session.Opening {
				status = session.StatusFailed
			}
			c.teardown(status)
			// The provider socket stays open until we close it; without
			// a link there is no call left to carry.
			c.closeWS()
			return
		}
	}
}

func (c *callConn) judgeUrgency(text string) {
	h := c.handler
	sess := c.sess
	if h.detector == nil || !h.detector.Judge(text) {
		return
	}
	if !sess.MarkUrgent() {
		return
	}

	slog.Info("call flagged urgent", "call_sid", sess.CallSid)
	if err := h.store.SetUrgent(context.Background(), sess.RecordRef); err != nil {
		slog.Warn("failed to persist urgency flag", "call_sid", sess.CallSid, "error", err)
	}
	if h.publisher != nil {
		h.publisher.Publish(context.Background(), notify.SubjectCallUrgent, notify.CallEvent{
			CallSid:      sess.CallSid,
			CallerNumber: sess.CallerNumber,
			IsUrgent:     true,
		})
	}
	if h.alerter != nil {
		// Slack can take seconds; never stall transcript dispatch on it.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.alerter.PostUrgentCallAlert(ctx, sess.CallSid, sess.CallerNumber, text); err != nil {
				slog.Warn("urgent call alert failed", "call_sid", sess.CallSid, "error", err)
			}
		}()
	}
}

// enqueueOutbound adds a synthesized chunk for playback, dropping the
// oldest queued chunk when the caller's socket can't keep up.
func (c *callConn) enqueueOutbound(chunk []byte) {
	for {
		select {
		case c.outQ <- chunk:
			return
		default:
			select {
			case <-c.outQ:
				c.outDropped++
				if c.outDropped == 1 || c.outDropped%50 == 0 {
					slog.Warn("outbound audio queue full, dropping oldest",
						"call_sid", c.sess.CallSid,
						"dropped_total", c.outDropped,
					)
				}
			default:
			}
		}
	}
}

func (c *callConn) pumpOutbound() {
	for {
		select {
		case <-c.pumpDone:
			return
		case chunk := <-c.outQ:
			frame := outboundMedia{
				Event:     "media",
				StreamSid: c.sess.StreamSid,
				Media:     outboundChunk{Payload: audio.Encode(audio.PadFrame(chunk))},
			}
			data, err := json.Marshal(frame)
			if err != nil {
				slog.Warn("failed to marshal outbound frame", "call_sid", c.sess.CallSid, "error", err)
				continue
			}
			c.writeMu.Lock()
			err = c.ws.WriteMessage(websocket.TextMessage, data)
			c.writeMu.Unlock()
			if err != nil {
				// The read loop will observe the dead socket and finalize.
				return
			}
		}
	}
}

func (c *callConn) closeWS() {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}
