package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxtable/voicebridge/internal/audio"
	"github.com/voxtable/voicebridge/internal/observability"
	"github.com/voxtable/voicebridge/internal/session"
)

const activateTimeout = 15 * time.Second

// Bridge is the WebSocket endpoint the telephony carrier connects to.
// It parses the media-stream framing, drives session creation and pumps
// audio in both directions.
type Bridge struct {
	registry *session.Registry
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func NewBridge(registry *session.Registry, metrics *observability.Metrics, allowAnyOrigin bool) *Bridge {
	return &Bridge{
		registry: registry,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Carriers are not browsers and omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// HandleStream accepts one inbound media-stream connection. Session
// identity arrives in the query parameters and is reconciled with the
// start frame's own identifiers.
func (b *Bridge) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	q := r.URL.Query()
	carrier := newCarrierConn(conn, b.metrics)
	sess := b.registry.Create(carrier, session.TelephonyContext{
		OrgID:        strings.TrimSpace(q.Get("orgId")),
		CallSID:      strings.TrimSpace(q.Get("callSid")),
		CallerNumber: strings.TrimSpace(q.Get("from")),
	})
	log.Printf("[Bridge] stream connected, session %s org %q", sess.ID, sess.Telephony().OrgID)

	defer func() {
		b.registry.Close(sess.ID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[Bridge] session %s socket error: %v", sess.ID, err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[Bridge] session %s unparseable frame: %v", sess.ID, err)
			continue
		}

		switch frame.Event {
		case "connected":
			log.Printf("[Bridge] session %s carrier handshake", sess.ID)

		case "start":
			b.handleStart(sess.ID, carrier, frame)

		case "media":
			b.handleMedia(sess.ID, frame.Media)

		case "stop":
			log.Printf("[Bridge] session %s stop frame", sess.ID)
			b.registry.Close(sess.ID)
			return

		case "mark":
			name := ""
			if frame.Mark != nil {
				name = frame.Mark.Name
			}
			log.Printf("[Bridge] session %s mark %q", sess.ID, name)

		default:
			log.Printf("[Bridge] session %s unknown frame event %q", sess.ID, frame.Event)
		}
	}
}

func (b *Bridge) handleStart(sessionID string, carrier *carrierConn, frame inboundFrame) {
	start := frame.Start
	if start == nil {
		log.Printf("[Bridge] session %s start frame without payload", sessionID)
		return
	}

	streamSID := start.StreamSID
	if streamSID == "" {
		streamSID = frame.StreamSID
	}
	carrier.activate(streamSID)

	if err := b.registry.FinalizeStart(sessionID, start.CallSID, streamSID, start.CustomParameters); err != nil {
		log.Printf("[Bridge] session %s finalize: %v", sessionID, err)
		return
	}
	b.metrics.SessionEvents.WithLabelValues("stream_started").Inc()

	// Configuration load and speech setup run off the read loop so
	// media frames keep draining; frames that arrive before the speech
	// connection is ready are dropped, not buffered.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), activateTimeout)
		defer cancel()

		if err := b.registry.LoadTenantConfig(ctx, sessionID); err != nil {
			// Fail closed: without tenant config there is no menu and no
			// prompt, so the call cannot be answered.
			b.metrics.ConfigFetches.WithLabelValues("error").Inc()
			log.Printf("[Bridge] session %s config load failed, ending call: %v", sessionID, err)
			b.registry.Close(sessionID)
			return
		}
		b.metrics.ConfigFetches.WithLabelValues("ok").Inc()

		if err := b.registry.InitializeSpeech(ctx, sessionID); err != nil {
			log.Printf("[Bridge] session %s speech init failed, ending call: %v", sessionID, err)
			b.registry.Close(sessionID)
			return
		}
		log.Printf("[Bridge] session %s speech backend ready", sessionID)
	}()
}

func (b *Bridge) handleMedia(sessionID string, media *mediaPayload) {
	if media == nil {
		return
	}
	// Only the caller-direction track is forwarded; the carrier echoes
	// our own audio back on the outbound track when both are subscribed.
	if media.Track != "" && media.Track != "inbound" {
		return
	}
	b.metrics.MediaFrames.WithLabelValues("inbound").Inc()

	mulaw, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		b.metrics.TranscodeErrors.Inc()
		return
	}
	pcm := audio.MulawToPCM24k(mulaw)
	if len(pcm) == 0 {
		return
	}

	if err := b.registry.ForwardCallerAudio(sessionID, pcm); err != nil {
		if errors.Is(err, session.ErrSpeechNotReady) {
			b.metrics.DroppedFrames.WithLabelValues("speech_not_ready").Inc()
			return
		}
		if errors.Is(err, session.ErrNotFound) {
			return
		}
		b.metrics.DroppedFrames.WithLabelValues("send_failed").Inc()
	}
}

// carrierConn wraps the telephony socket as the session's MediaSender.
// Outbound frames need the stream id, which only the start frame
// provides; audio arriving before activation or after close is
// silently discarded.
type carrierConn struct {
	conn    *websocket.Conn
	metrics *observability.Metrics

	mu         sync.Mutex
	streamSID  string
	closed     bool
	startedAt  time.Time
	firstAudio bool
}

func newCarrierConn(conn *websocket.Conn, metrics *observability.Metrics) *carrierConn {
	return &carrierConn{conn: conn, metrics: metrics}
}

func (c *carrierConn) activate(streamSID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamSID = streamSID
	c.startedAt = time.Now()
}

// SendAudio transcodes one PCM16 24 kHz chunk to the wire encoding and
// frames it as a media event. Transcoding failures drop the chunk and
// keep the stream alive.
func (c *carrierConn) SendAudio(pcm []byte) error {
	mulaw := audio.PCM24kToMulaw(pcm)
	if len(mulaw) == 0 {
		c.metrics.TranscodeErrors.Inc()
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.streamSID == "" {
		c.metrics.DroppedFrames.WithLabelValues("carrier_not_ready").Inc()
		return nil
	}
	if !c.firstAudio {
		c.firstAudio = true
		if !c.startedAt.IsZero() {
			c.metrics.ObserveFirstAudioLatency(time.Since(c.startedAt))
		}
	}
	c.metrics.MediaFrames.WithLabelValues("outbound").Inc()
	return c.conn.WriteJSON(outboundMedia{
		Event:     "media",
		StreamSID: c.streamSID,
		Media:     mediaChunk{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	})
}

// SendClear asks the carrier to flush buffered playback, used on
// barge-in so the caller does not hear stale assistant audio.
func (c *carrierConn) SendClear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.streamSID == "" {
		return nil
	}
	return c.conn.WriteJSON(outboundClear{Event: "clear", StreamSID: c.streamSID})
}

func (c *carrierConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
