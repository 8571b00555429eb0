package records

// CreditPhase names a sub-run of the benchmark.
type CreditPhase string

const (
	PhaseWarmup    CreditPhase = "warmup"
	PhaseProfiling CreditPhase = "profiling"
)

// Media is one named group of contents of a single modality. For text the
// contents are prompt strings; for images/videos they are URLs or data URIs;
// for audio they are "format,base64data" pairs.
type Media struct {
	Name     string   `json:"name,omitempty"`
	Contents []string `json:"contents"`
}

// Turn is one exchange of a conversation.
type Turn struct {
	Model     string  `json:"model,omitempty"`
	Role      string  `json:"role,omitempty"`
	MaxTokens int     `json:"max_tokens,omitempty"`
	Texts     []Media `json:"texts,omitempty"`
	Images    []Media `json:"images,omitempty"`
	Audios    []Media `json:"audios,omitempty"`
	Videos    []Media `json:"videos,omitempty"`
	// TimestampMS schedules this turn on a fixed-schedule run, in ms from
	// the schedule zero point.
	TimestampMS int64 `json:"timestamp,omitempty"`
	// DelayMS is the simulated user think time before this turn is sent.
	DelayMS int64 `json:"delay,omitempty"`
}

// Conversation is an ordered list of turns identified by a session id.
type Conversation struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
}
