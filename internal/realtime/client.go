package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// State tracks the connection lifecycle of a realtime session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConfigured   State = "configured"
	StateStreaming    State = "streaming"
	StateClosed       State = "closed"
)

// Fixed server-side VAD and generation parameters. Tuned for phone
// audio; callers interrupt often, so silence detection stays short.
const (
	vadThreshold      = 0.5
	vadPrefixMS       = 300
	vadSilenceMS      = 500
	temperature       = 0.8
	maxOutputTokens   = 4096
	defaultBaseURL    = "wss://api.openai.com/v1/realtime"
	defaultModel      = "gpt-4o-realtime-preview"
	defaultVoice      = "alloy"
	nativeAudioFormat = "pcm16"
)

// Config holds the transport-level settings shared by every call.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

// Dialer opens one realtime connection per call.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = defaultVoice
	}
	return &Dialer{cfg: cfg}
}

// Dial opens the websocket, sends the session configuration and an
// initial response request so the assistant greets the caller, then
// starts the read loop.
func (d *Dialer) Dial(ctx context.Context, opts SessionOptions, cb Callbacks) (*Client, error) {
	u := strings.TrimRight(d.cfg.BaseURL, "/")
	if !strings.Contains(u, "model=") {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "model=" + d.cfg.Model
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, headers)
	if err != nil {
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	voice := opts.Voice
	if strings.TrimSpace(voice) == "" {
		voice = d.cfg.Voice
	}

	c := &Client{
		conn:    conn,
		cb:      cb,
		state:   StateConnecting,
		argBufs: make(map[string]*strings.Builder),
	}

	update := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:        []string{"text", "audio"},
			Instructions:      opts.Instructions,
			Voice:             voice,
			InputAudioFormat:  nativeAudioFormat,
			OutputAudioFormat: nativeAudioFormat,
			TurnDetection: &turnDetection{
				Type:              "server_vad",
				Threshold:         vadThreshold,
				PrefixPaddingMS:   vadPrefixMS,
				SilenceDurationMS: vadSilenceMS,
			},
			Tools:                   opts.Tools,
			ToolChoice:              "auto",
			Temperature:             temperature,
			MaxResponseOutputTokens: maxOutputTokens,
		},
	}
	if err := c.writeJSON(update); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session config: %w", err)
	}
	c.setState(StateConfigured)

	// Ask for an opening response so the caller is not greeted with
	// silence while waiting to speak first.
	if err := c.writeJSON(map[string]string{"type": "response.create"}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("request greeting: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Client is one live realtime connection. Writes are serialized with a
// mutex; all inbound events are handled on a single read loop.
type Client struct {
	conn      *websocket.Conn
	cb        Callbacks
	writeMu   sync.Mutex
	closeOnce sync.Once

	mu      sync.Mutex
	state   State
	argBufs map[string]*strings.Builder
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SendAudio forwards one PCM16 24 kHz chunk to the input audio buffer.
// It is a logged no-op when the connection is not ready; live audio
// must never fail the call over a transient state gap.
func (c *Client) SendAudio(pcm []byte) error {
	switch c.State() {
	case StateConfigured, StateStreaming:
	default:
		log.Printf("[Realtime] dropping audio chunk, connection not ready")
		return nil
	}
	return c.writeJSON(audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendFunctionResult appends a function-call-output item for callID and
// immediately requests a new response, continuing the conversation
// after a tool has run.
func (c *Client) SendFunctionResult(callID, resultJSON string) error {
	if err := c.writeJSON(itemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: resultJSON,
		},
	}); err != nil {
		return err
	}
	return c.writeJSON(map[string]string{"type": "response.create"})
}

// Interrupt cancels the in-flight response and clears the input buffer.
// Used for barge-in: the caller started speaking over the assistant.
func (c *Client) Interrupt() error {
	if err := c.writeJSON(map[string]string{"type": "response.cancel"}); err != nil {
		return err
	}
	return c.writeJSON(map[string]string{"type": "input_audio_buffer.clear"})
}

// Close shuts the connection down. Safe to call from any goroutine and
// any number of times.
func (c *Client) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		retErr = c.conn.Close()
	})
	return retErr
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	var loopErr error
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			loopErr = err
			break
		}
		c.handleEvent(data)
	}

	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		_ = c.conn.Close()
	})
	if c.cb.OnClose != nil {
		c.cb.OnClose(loopErr)
	}
}

func (c *Client) handleEvent(data []byte) {
	var event serverEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("[Realtime] unparseable server event: %v", err)
		return
	}

	switch event.Type {
	case "session.created", "session.updated":
		// Configuration acknowledged; audio may flow.

	case "response.created":
		c.setState(StateStreaming)

	case "response.audio.delta":
		if c.cb.OnAudioDelta == nil || event.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(event.Delta)
		if err != nil {
			log.Printf("[Realtime] bad audio delta: %v", err)
			return
		}
		c.cb.OnAudioDelta(pcm)

	case "response.audio.done":
		// Audio for this response has finished streaming.

	case "response.audio_transcript.delta":
		if c.cb.OnTranscript != nil && event.Delta != "" {
			c.cb.OnTranscript(event.Delta, false)
		}

	case "response.audio_transcript.done":
		if c.cb.OnTranscript != nil {
			c.cb.OnTranscript(event.Transcript, true)
		}

	case "response.function_call_arguments.delta":
		c.appendArgs(event.CallID, event.Delta)

	case "response.function_call_arguments.done":
		args := c.takeArgs(event.CallID)
		if args == "" {
			// Some servers deliver the full document only on the
			// terminal event.
			args = event.Arguments
		}
		if c.cb.OnToolCall != nil {
			c.cb.OnToolCall(event.CallID, event.Name, args)
		}

	case "input_audio_buffer.speech_started":
		if c.cb.OnSpeechStarted != nil {
			c.cb.OnSpeechStarted()
		}

	case "input_audio_buffer.speech_stopped", "input_audio_buffer.committed", "input_audio_buffer.cleared":
		// VAD bookkeeping, no action needed.

	case "conversation.item.created":

	case "response.done":
		if event.Response != nil && event.Response.Usage != nil {
			u := event.Response.Usage
			log.Printf("[Realtime] response done: status=%s tokens total=%d in=%d out=%d",
				event.Response.Status, u.TotalTokens, u.InputTokens, u.OutputTokens)
		}

	case "error":
		code, msg := "unknown", ""
		if event.Error != nil {
			code, msg = event.Error.Code, event.Error.Message
		}
		if c.cb.OnError != nil {
			c.cb.OnError(code, msg)
		}

	default:
		// Unhandled event types are expected as the protocol evolves.
	}
}

// appendArgs accumulates streamed function-call argument fragments
// keyed by call id, so interleaved tool calls cannot corrupt each
// other's documents.
func (c *Client) appendArgs(callID, delta string) {
	if callID == "" || delta == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.argBufs[callID]
	if !ok {
		buf = &strings.Builder{}
		c.argBufs[callID] = buf
	}
	buf.WriteString(delta)
}

// takeArgs returns and discards the accumulated arguments for callID.
// The buffer is cleared whether or not the eventual dispatch succeeds.
func (c *Client) takeArgs(callID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.argBufs[callID]
	if !ok {
		return ""
	}
	delete(c.argBufs, callID)
	return buf.String()
}
