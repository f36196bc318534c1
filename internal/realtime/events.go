package realtime

// Tool describes one function the speech model may call mid-conversation.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// SessionOptions carries the per-call parts of the session
// configuration; transport-level settings live on the Dialer.
type SessionOptions struct {
	Instructions string
	Voice        string
	Tools        []Tool
}

// Callbacks receive demultiplexed server events. All callbacks are
// invoked from the connection's single read loop; a nil callback
// means the event is dropped.
type Callbacks struct {
	// OnAudioDelta receives decoded PCM16 24 kHz audio chunks.
	OnAudioDelta func(pcm []byte)
	// OnTranscript receives assistant transcript text; final marks the
	// end of one spoken turn.
	OnTranscript func(text string, final bool)
	// OnToolCall fires once a complete tool call has been assembled
	// from its argument deltas.
	OnToolCall func(callID, name, argsJSON string)
	// OnSpeechStarted fires when server-side VAD detects caller speech,
	// including while the assistant is still speaking (barge-in).
	OnSpeechStarted func()
	// OnError receives protocol-level error events. The connection
	// stays open; the owner decides whether to tear down.
	OnError func(code, message string)
	// OnClose fires exactly once when the read loop exits.
	OnClose func(err error)
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions"`
	Voice                   string         `json:"voice"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	TurnDetection           *turnDetection `json:"turn_detection"`
	Tools                   []Tool         `json:"tools"`
	ToolChoice              string         `json:"tool_choice"`
	Temperature             float64        `json:"temperature"`
	MaxResponseOutputTokens int            `json:"max_response_output_tokens"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

type serverEvent struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	CallID     string          `json:"call_id"`
	Name       string          `json:"name"`
	Arguments  string          `json:"arguments"`
	Error      *serverError    `json:"error"`
	Response   *serverResponse `json:"response"`
}

type serverError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type serverResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Usage  *serverUsage `json:"usage"`
}

type serverUsage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
