package records

import "encoding/json"

// RawResponse is one response chunk exactly as it arrived: the whole body for
// unary requests, one SSE data payload per message for streaming. PerfNS is
// the monotonic arrival instant of the chunk that completed it.
type RawResponse struct {
	PerfNS int64  `json:"perf_ns"`
	Text   string `json:"text"`
}

// RequestRecord captures one HTTP attempt end to end.
type RequestRecord struct {
	ConversationID string      `json:"conversation_id,omitempty"`
	TurnIndex      int         `json:"turn_index,omitempty"`
	ModelName      string      `json:"model_name,omitempty"`
	CreditPhase    CreditPhase `json:"credit_phase,omitempty"`

	// TimestampNS is the wall clock of the request start, for reporting
	// only; latency math uses the monotonic fields.
	TimestampNS     int64 `json:"timestamp_ns"`
	StartPerfNS     int64 `json:"start_perf_ns"`
	EndPerfNS       int64 `json:"end_perf_ns"`
	RecvStartPerfNS int64 `json:"recv_start_perf_ns,omitempty"`

	Status    int           `json:"status,omitempty"`
	Responses []RawResponse `json:"responses,omitempty"`
	Error     *ErrorDetails `json:"error,omitempty"`

	// DelayedNS is how late the request was sent versus its scheduled
	// instant; zero when on time or unscheduled.
	DelayedNS           int64 `json:"delayed_ns,omitempty"`
	CreditDropLatencyNS int64 `json:"credit_drop_latency,omitempty"`

	XRequestID     string `json:"x_request_id,omitempty"`
	XCorrelationID string `json:"x_correlation_id,omitempty"`

	WasCancelled       bool  `json:"was_cancelled,omitempty"`
	CancelAfterNS      int64 `json:"cancel_after_ns,omitempty"`
	CancellationPerfNS int64 `json:"cancellation_perf_ns,omitempty"`

	RequestHeaders map[string]string `json:"request_headers,omitempty"`
}

// Valid reports whether the record can contribute metric values: it must
// have succeeded, carry at least one response, and its timestamps must be
// coherent.
func (r *RequestRecord) Valid() bool {
	if r.Error != nil || len(r.Responses) == 0 {
		return false
	}
	if r.StartPerfNS < 0 || r.StartPerfNS >= r.EndPerfNS {
		return false
	}
	for _, resp := range r.Responses {
		if resp.PerfNS <= 0 {
			return false
		}
	}
	return true
}

// ResponseData is the structured content extracted from one response chunk.
type ResponseData interface {
	// OutputText is the user-visible completion text of this chunk, not
	// counting reasoning content. Empty for embeddings and rankings.
	OutputText() string
}

// TextResponseData is plain completion text.
type TextResponseData struct {
	Text string `json:"text"`
}

func (d *TextResponseData) OutputText() string { return d.Text }

// ReasoningResponseData carries completion text alongside reasoning content.
type ReasoningResponseData struct {
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

func (d *ReasoningResponseData) OutputText() string { return d.Content }

// EmbeddingResponseData is a batch of embedding vectors.
type EmbeddingResponseData struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (d *EmbeddingResponseData) OutputText() string { return "" }

// RankingsResponseData carries the server's rankings array verbatim.
type RankingsResponseData struct {
	Rankings []json.RawMessage `json:"rankings"`
}

func (d *RankingsResponseData) OutputText() string { return "" }

// Usage is the server-reported token accounting, when present.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
}

// ParsedResponse is one structured response chunk.
type ParsedResponse struct {
	PerfNS int64
	Data   ResponseData
	Usage  *Usage
}

// IsReasoningOnly reports whether this chunk carried reasoning content and no
// completion text. Time-to-first-output-token skips such chunks.
func (p *ParsedResponse) IsReasoningOnly() bool {
	r, ok := p.Data.(*ReasoningResponseData)
	return ok && r.Content == "" && r.Reasoning != ""
}

// ParsedResponseRecord is a RequestRecord plus its parsed responses and
// derived token counts.
type ParsedResponseRecord struct {
	RequestRecord
	Parsed          []ParsedResponse
	InputTokens     int
	OutputTokens    int
	ReasoningTokens int
}
