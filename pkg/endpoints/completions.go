package endpoints

import (
	"fmt"
	"strings"

	"github.com/aiperf/aiperf/pkg/records"
)

// completionsAdapter speaks the legacy OpenAI completions API.
type completionsAdapter struct{}

func (a *completionsAdapter) Metadata() Metadata {
	return Metadata{
		EndpointPath:      "/v1/completions",
		SupportsStreaming: true,
		ProducesTokens:    true,
		TokenizesInput:    true,
		MetricsTitle:      "LLM Metrics",
	}
}

func (a *completionsAdapter) FormatPayload(req *RequestInfo) (map[string]any, error) {
	if len(req.Turns) != 1 {
		return nil, fmt.Errorf("completions supports exactly one turn, got %d", len(req.Turns))
	}
	turn := &req.Turns[0]

	payload := map[string]any{
		"model":  req.model(),
		"prompt": strings.Join(textContents(turn), " "),
		"stream": req.Streaming,
	}
	if turn.MaxTokens > 0 {
		payload["max_tokens"] = turn.MaxTokens
	}
	return mergeExtra(payload, req.Extra), nil
}

type completionsResponseWire struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Usage *usageWire `json:"usage"`
}

func (a *completionsAdapter) ParseResponse(raw string) (*records.ParsedResponse, error) {
	if raw == "" || raw == doneSentinel {
		return nil, nil
	}

	var resp completionsResponseWire
	if err := jsonFast.UnmarshalFromString(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding completions response: %w", err)
	}

	parsed := &records.ParsedResponse{Usage: resp.Usage.toUsage()}
	if len(resp.Choices) > 0 && resp.Choices[0].Text != "" {
		parsed.Data = &records.TextResponseData{Text: resp.Choices[0].Text}
	} else if parsed.Usage == nil {
		return nil, nil
	}
	return parsed, nil
}
