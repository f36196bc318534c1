package session

import (
	"context"
	"sync"
	"time"

	"github.com/voxtable/voicebridge/internal/backend"
	"github.com/voxtable/voicebridge/internal/realtime"
)

// TelephonyContext carries the carrier-assigned identity of one call.
// Query parameters fill it at connect time; the stream's start frame
// finalizes it.
type TelephonyContext struct {
	OrgID        string
	CallSID      string
	StreamSID    string
	CallerNumber string
	CustomParams map[string]string
}

// MediaSender is the session's handle to the telephony socket. SendAudio
// takes the speech backend's native PCM16 24 kHz chunks; the transport
// owns transcoding back to the wire encoding.
type MediaSender interface {
	SendAudio(pcm []byte) error
	SendClear() error
	Close() error
}

// SpeechConn is the session's handle to the speech backend connection.
type SpeechConn interface {
	SendAudio(pcm []byte) error
	SendFunctionResult(callID, resultJSON string) error
	Interrupt() error
	Close() error
}

// SpeechDialer opens a configured speech backend connection for one call.
type SpeechDialer interface {
	Dial(ctx context.Context, opts realtime.SessionOptions, cb realtime.Callbacks) (SpeechConn, error)
}

// SpeechDialFunc adapts a function to the SpeechDialer interface.
type SpeechDialFunc func(ctx context.Context, opts realtime.SessionOptions, cb realtime.Callbacks) (SpeechConn, error)

func (f SpeechDialFunc) Dial(ctx context.Context, opts realtime.SessionOptions, cb realtime.Callbacks) (SpeechConn, error) {
	return f(ctx, opts, cb)
}

// Backend is the narrow slice of the order-management API the registry
// needs: configuration lookup and order submission.
type Backend interface {
	GetOrgConfig(ctx context.Context, orgID string) *backend.OrgConfig
	SubmitOrder(ctx context.Context, order backend.OrderSubmission) backend.SubmitResult
}

// Session is one active phone call. It owns at most one telephony
// socket and at most one speech backend connection at a time, and
// lives in the registry from creation until explicit close.
type Session struct {
	ID        string
	CreatedAt time.Time

	// lastActivity and closed are guarded by the registry mutex so the
	// sweep sees a consistent view across all sessions.
	lastActivity time.Time
	closed       bool

	// mu guards the mutable per-session state below.
	mu        sync.Mutex
	telephony TelephonyContext
	carrier   MediaSender
	speech    SpeechConn
	config    *backend.OrgConfig
	order     *OrderState

	// toolMu serializes tool executions. The backend protocol opens one
	// tool call per generation pause, but that is not assumed here.
	toolMu sync.Mutex
}

// Telephony returns a copy of the session's call metadata.
func (s *Session) Telephony() TelephonyContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephony
}

// Config returns the loaded tenant configuration, nil until loaded.
func (s *Session) Config() *backend.OrgConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// OrderSnapshot returns a deep copy of the current order state.
func (s *Session) OrderSnapshot() OrderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.snapshot()
}

// SpeechReady reports whether the speech backend connection is open.
func (s *Session) SpeechReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speech != nil
}
