package metrics

import (
	"encoding/json"
	"fmt"

	"github.com/aiperf/aiperf/pkg/records"
)

// Value is a metric observation for one record: either a scalar or a list of
// scalars (for sequence metrics such as inter-chunk latency).
type Value struct {
	Scalar float64
	Seq    []float64
}

// Scalar wraps a single observation.
func ScalarValue(v float64) Value { return Value{Scalar: v} }

// SeqValue wraps a sequence observation.
func SeqValue(vs []float64) Value { return Value{Seq: vs} }

// IsSeq reports whether the value is a sequence.
func (v Value) IsSeq() bool { return v.Seq != nil }

// Flatten returns the observations as a slice, one element for scalars.
func (v Value) Flatten() []float64 {
	if v.Seq != nil {
		return v.Seq
	}
	return []float64{v.Scalar}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Seq != nil {
		return json.Marshal(v.Seq)
	}
	return json.Marshal(v.Scalar)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &v.Seq)
	}
	return json.Unmarshal(data, &v.Scalar)
}

// Values is the flat tag → value map computed for one record.
type Values map[string]Value

// Get returns the scalar value for a tag, or ErrNoMetricValue if the tag is
// absent. Sequence values cannot satisfy a scalar dependency.
func (m Values) Get(tag string) (float64, error) {
	v, ok := m[tag]
	if !ok || v.IsSeq() {
		return 0, fmt.Errorf("%w: %s", ErrNoMetricValue, tag)
	}
	return v.Scalar, nil
}

// Flags mark how a metric participates in reporting.
type Flags uint8

const (
	// FlagNoConsole hides the metric from console summaries.
	FlagNoConsole Flags = 1 << iota
	// FlagStreamingTokensOnly restricts the metric to streaming token runs.
	FlagStreamingTokensOnly
	// FlagSupportsReasoning marks metrics aware of reasoning content.
	FlagSupportsReasoning
	// FlagExperimental marks metrics excluded from stable exports.
	FlagExperimental
	// FlagInternal marks metrics used only by the pipeline itself.
	FlagInternal
	// FlagErrorOnly marks metrics computed for failed records instead of
	// valid ones.
	FlagErrorOnly
)

// Has reports whether all given flags are set.
func (f Flags) Has(flags Flags) bool { return f&flags == flags }

// RecordMetadata accompanies the metric values of one record.
type RecordMetadata struct {
	ConversationID string              `json:"conversation_id,omitempty"`
	TurnIndex      int                 `json:"turn_index,omitempty"`
	ModelName      string              `json:"model_name,omitempty"`
	XRequestID     string              `json:"x_request_id,omitempty"`
	XCorrelationID string              `json:"x_correlation_id,omitempty"`
	WasCancelled   bool                `json:"was_cancelled,omitempty"`
	Error          *records.ErrorDetails `json:"error,omitempty"`
}
