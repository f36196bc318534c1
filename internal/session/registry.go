package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxtable/voicebridge/internal/realtime"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrNoTenantConfig = errors.New("tenant config not loaded")
	ErrSpeechNotReady = errors.New("speech backend not connected")
)

// Registry creates, indexes and tears down one Session per call. It is
// explicit, injectable state; nothing in this package is reachable as
// a package-level singleton.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	byCallSID   map[string]string
	byStreamSID map[string]string

	idleTimeout time.Duration
	backend     Backend
	dialer      SpeechDialer

	onEvent func(event string)
	onTool  func(tool, outcome string)
}

func NewRegistry(api Backend, dialer SpeechDialer, idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		byCallSID:   make(map[string]string),
		byStreamSID: make(map[string]string),
		idleTimeout: idleTimeout,
		backend:     api,
		dialer:      dialer,
	}
}

// SetEventHook installs an observer for session lifecycle events
// (created, closed, idle_expired). Used for metrics.
func (r *Registry) SetEventHook(hook func(event string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = hook
}

// SetToolHook installs an observer for tool executions by outcome.
func (r *Registry) SetToolHook(hook func(tool, outcome string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTool = hook
}

func (r *Registry) emit(event string) {
	r.mu.RLock()
	hook := r.onEvent
	r.mu.RUnlock()
	if hook != nil {
		hook(event)
	}
}

func (r *Registry) emitTool(tool, outcome string) {
	r.mu.RLock()
	hook := r.onTool
	r.mu.RUnlock()
	if hook != nil {
		hook(tool, outcome)
	}
}

// Create registers a new session for an opened telephony socket.
// Metadata may still be incomplete until the stream's start frame
// arrives; FinalizeStart fills in the rest.
func (r *Registry) Create(carrier MediaSender, tc TelephonyContext) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		lastActivity: now,
		telephony:    tc,
		carrier:      carrier,
		order:        &OrderState{CustomerPhone: tc.CallerNumber},
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	if tc.CallSID != "" {
		r.byCallSID[tc.CallSID] = s.ID
	}
	r.mu.Unlock()

	r.emit("created")
	return s
}

// Get returns the session by its locally generated id.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// GetByCallSID returns the session for a carrier call id.
func (r *Registry) GetByCallSID(callSID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCallSID[callSID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.sessions[id], nil
}

// GetByStreamSID returns the session for a carrier stream id.
func (r *Registry) GetByStreamSID(streamSID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byStreamSID[streamSID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.sessions[id], nil
}

// Touch refreshes the session's idle clock.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.lastActivity = time.Now().UTC()
	}
}

// FinalizeStart reconciles the session with the identifiers carried by
// the stream's start frame and indexes the stream id.
func (r *Registry) FinalizeStart(sessionID, callSID, streamSID string, custom map[string]string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if callSID != "" {
		r.byCallSID[callSID] = s.ID
	}
	if streamSID != "" {
		r.byStreamSID[streamSID] = s.ID
	}
	s.lastActivity = time.Now().UTC()
	r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if callSID != "" {
		s.telephony.CallSID = callSID
	}
	if streamSID != "" {
		s.telephony.StreamSID = streamSID
	}
	if len(custom) > 0 {
		if s.telephony.CustomParams == nil {
			s.telephony.CustomParams = make(map[string]string, len(custom))
		}
		for k, v := range custom {
			s.telephony.CustomParams[k] = v
		}
		if org := custom["orgId"]; org != "" {
			s.telephony.OrgID = org
		}
		if from := custom["from"]; from != "" {
			s.telephony.CallerNumber = from
			if s.order.CustomerPhone == "" {
				s.order.CustomerPhone = from
			}
		}
	}
	return nil
}

// LoadTenantConfig fetches and attaches the tenant configuration.
// Returns an error when the backend cannot serve it; the caller is
// expected to fail closed and end the call.
func (r *Registry) LoadTenantConfig(ctx context.Context, sessionID string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	cfg := r.backend.GetOrgConfig(ctx, s.Telephony().OrgID)
	if cfg == nil {
		return fmt.Errorf("org config unavailable for %q", s.Telephony().OrgID)
	}
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	return nil
}

// InitializeSpeech opens and configures the speech backend connection
// for a session whose tenant configuration has been loaded. The dynamic
// system prompt is recomputed from the live menu and order state.
func (r *Registry) InitializeSpeech(ctx context.Context, sessionID string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.config == nil {
		s.mu.Unlock()
		return ErrNoTenantConfig
	}
	instructions := BuildInstructions(s.config, s.order)
	s.mu.Unlock()

	conn, err := r.dialer.Dial(ctx, realtime.SessionOptions{
		Instructions: instructions,
		Tools:        ToolSchema(),
	}, realtime.Callbacks{
		OnAudioDelta: func(pcm []byte) {
			r.Touch(s.ID)
			s.mu.Lock()
			carrier := s.carrier
			s.mu.Unlock()
			if carrier != nil {
				_ = carrier.SendAudio(pcm)
			}
		},
		OnTranscript: func(text string, final bool) {
			if final && text != "" {
				log.Printf("[Session %s] assistant: %s", shortID(s.ID), text)
			}
		},
		OnToolCall: func(callID, name, argsJSON string) {
			result := r.ExecuteTool(s, name, argsJSON)
			s.mu.Lock()
			speech := s.speech
			s.mu.Unlock()
			if speech != nil {
				if err := speech.SendFunctionResult(callID, result); err != nil {
					log.Printf("[Session %s] send tool result: %v", shortID(s.ID), err)
				}
			}
		},
		OnSpeechStarted: func() {
			// Barge-in: stop the in-flight response and flush any audio
			// the carrier has buffered.
			r.Touch(s.ID)
			s.mu.Lock()
			speech, carrier := s.speech, s.carrier
			s.mu.Unlock()
			if speech != nil {
				_ = speech.Interrupt()
			}
			if carrier != nil {
				_ = carrier.SendClear()
			}
		},
		OnError: func(code, message string) {
			log.Printf("[Session %s] speech backend error %s: %s", shortID(s.ID), code, message)
			r.emit("speech_error")
		},
		OnClose: func(err error) {
			if err != nil {
				log.Printf("[Session %s] speech backend closed: %v", shortID(s.ID), err)
			}
			r.Close(s.ID)
		},
	})
	if err != nil {
		return fmt.Errorf("dial speech backend: %w", err)
	}

	// The caller may have hung up while the dial was in flight. Once the
	// session is closed nothing will ever tear this connection down, so
	// close it here instead of attaching it.
	r.mu.Lock()
	if s.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return ErrNotFound
	}
	s.mu.Lock()
	s.speech = conn
	s.mu.Unlock()
	r.mu.Unlock()
	return nil
}

// ForwardCallerAudio pushes one transcoded caller chunk to the speech
// backend. Chunks arriving before the connection is ready are dropped,
// not buffered; the protocol tolerates lost frames.
func (r *Registry) ForwardCallerAudio(sessionID string, pcm []byte) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	speech := s.speech
	s.mu.Unlock()
	if speech == nil {
		return ErrSpeechNotReady
	}
	r.Touch(sessionID)
	return speech.SendAudio(pcm)
}

// Close tears the session down: both sockets are closed at most once
// and the session leaves the registry exactly once. Safe to call from
// either socket's error path and the sweep concurrently.
func (r *Registry) Close(sessionID string) {
	r.closeWithReason(sessionID, "closed")
}

func (r *Registry) closeWithReason(sessionID, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok || s.closed {
		r.mu.Unlock()
		return
	}
	s.closed = true
	delete(r.sessions, sessionID)
	s.mu.Lock()
	tc := s.telephony
	carrier := s.carrier
	speech := s.speech
	s.carrier = nil
	s.speech = nil
	s.mu.Unlock()
	if tc.CallSID != "" {
		delete(r.byCallSID, tc.CallSID)
	}
	if tc.StreamSID != "" {
		delete(r.byStreamSID, tc.StreamSID)
	}
	r.mu.Unlock()

	if speech != nil {
		_ = speech.Close()
	}
	if carrier != nil {
		_ = carrier.Close()
	}
	r.emit(reason)
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Info is a read-only projection of one session for operators.
type Info struct {
	SessionID    string    `json:"session_id"`
	CallSID      string    `json:"call_sid,omitempty"`
	StreamSID    string    `json:"stream_sid,omitempty"`
	OrgID        string    `json:"org_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	IdleFor      string    `json:"idle_for"`
	ItemCount    int       `json:"item_count"`
	SpeechActive bool      `json:"speech_active"`
}

// Snapshot lists active sessions for the operator endpoint.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	idle := make(map[string]time.Duration, len(r.sessions))
	now := time.Now().UTC()
	for _, s := range r.sessions {
		sessions = append(sessions, s)
		idle[s.ID] = now.Sub(s.lastActivity)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		info := Info{
			SessionID:    s.ID,
			CallSID:      s.telephony.CallSID,
			StreamSID:    s.telephony.StreamSID,
			OrgID:        s.telephony.OrgID,
			CreatedAt:    s.CreatedAt,
			IdleFor:      idle[s.ID].Round(time.Second).String(),
			ItemCount:    len(s.order.Items),
			SpeechActive: s.speech != nil,
		}
		s.mu.Unlock()
		infos = append(infos, info)
	}
	return infos
}

// StartSweeper runs the idle sweep on a fixed interval until ctx is
// done. Cost is bounded to one scan per interval rather than one timer
// per session.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepIdle()
			}
		}
	}()
}

func (r *Registry) sweepIdle() {
	now := time.Now().UTC()
	var expired []string

	r.mu.RLock()
	for id, s := range r.sessions {
		if now.Sub(s.lastActivity) >= r.idleTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		log.Printf("[Session %s] idle for over %s, reclaiming", shortID(id), r.idleTimeout)
		r.closeWithReason(id, "idle_expired")
	}
}

// CloseAll ends every live session, used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Close(id)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
