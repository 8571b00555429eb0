// Package endpoints adapts conversation turns to the request and response
// shapes of each supported inference API. An adapter owns both directions:
// shaping the HTTP payload from turns, and extracting structured data from
// each response chunk.
package endpoints

import (
	"fmt"
	"sort"

	"github.com/aiperf/aiperf/pkg/records"
)

// Metadata describes the fixed capabilities of one endpoint type.
type Metadata struct {
	EndpointPath      string
	SupportsStreaming bool
	ProducesTokens    bool
	TokenizesInput    bool
	SupportsAudio     bool
	SupportsImages    bool
	SupportsVideos    bool
	MetricsTitle      string
}

// RequestInfo carries everything an adapter needs to shape one payload.
type RequestInfo struct {
	// Turns holds the conversation history to send, most recent last.
	Turns []records.Turn
	// ModelName is the endpoint's primary model, used when a turn does not
	// name its own.
	ModelName string
	Streaming bool
	// Extra parameters are merged into the payload after construction and
	// win on key conflicts.
	Extra map[string]any
}

// model resolves the model for a payload: the last turn's model wins over
// the endpoint's primary model.
func (r *RequestInfo) model() string {
	for i := len(r.Turns) - 1; i >= 0; i-- {
		if r.Turns[i].Model != "" {
			return r.Turns[i].Model
		}
	}
	return r.ModelName
}

// Adapter shapes payloads and parses response chunks for one endpoint type.
type Adapter interface {
	Metadata() Metadata
	// FormatPayload builds the JSON-ready HTTP body.
	FormatPayload(req *RequestInfo) (map[string]any, error)
	// ParseResponse extracts structured data from one raw response chunk:
	// the whole body for unary requests, one SSE data payload for
	// streaming. A (nil, nil) return means the chunk carries no content,
	// such as the stream terminator.
	ParseResponse(raw string) (*records.ParsedResponse, error)
}

var adapters = map[string]func() Adapter{
	"chat":        func() Adapter { return &chatAdapter{} },
	"completions": func() Adapter { return &completionsAdapter{} },
	"embeddings":  func() Adapter { return &embeddingsAdapter{} },
	"rankings":    func() Adapter { return &rankingsAdapter{} },
}

// NewAdapter returns the adapter for an endpoint type.
func NewAdapter(endpointType string) (Adapter, error) {
	create, ok := adapters[endpointType]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint type %q (known: %v)", endpointType, Types())
	}
	return create(), nil
}

// Types lists the supported endpoint types, sorted.
func Types() []string {
	types := make([]string, 0, len(adapters))
	for t := range adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// mergeExtra folds user-supplied extra parameters into the payload; extras
// win on conflict.
func mergeExtra(payload map[string]any, extra map[string]any) map[string]any {
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

// textContents flattens a turn's non-empty text contents.
func textContents(turn *records.Turn) []string {
	var out []string
	for _, media := range turn.Texts {
		for _, text := range media.Contents {
			if text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}
