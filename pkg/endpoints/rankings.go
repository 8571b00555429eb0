package endpoints

import (
	"encoding/json"
	"fmt"

	"github.com/aiperf/aiperf/pkg/records"
)

// rankingsAdapter speaks the NVIDIA reranking API. The query and passages
// come from text media named "query" and "passages".
type rankingsAdapter struct{}

func (a *rankingsAdapter) Metadata() Metadata {
	return Metadata{
		EndpointPath: "/v1/ranking",
		MetricsTitle: "Rankings Metrics",
	}
}

func (a *rankingsAdapter) FormatPayload(req *RequestInfo) (map[string]any, error) {
	if len(req.Turns) != 1 {
		return nil, fmt.Errorf("rankings supports exactly one turn, got %d", len(req.Turns))
	}
	turn := &req.Turns[0]

	var query string
	var passages []map[string]any
	for _, media := range turn.Texts {
		switch media.Name {
		case "query":
			for _, text := range media.Contents {
				if text != "" && query == "" {
					query = text
				}
			}
		case "passages":
			for _, text := range media.Contents {
				if text != "" {
					passages = append(passages, map[string]any{"text": text})
				}
			}
		}
	}
	if query == "" {
		return nil, fmt.Errorf("rankings requires a text media named \"query\"")
	}

	payload := map[string]any{
		"model":    req.model(),
		"query":    map[string]any{"text": query},
		"passages": passages,
	}
	return mergeExtra(payload, req.Extra), nil
}

type rankingsResponseWire struct {
	Rankings []json.RawMessage `json:"rankings"`
	Usage    *usageWire        `json:"usage"`
}

func (a *rankingsAdapter) ParseResponse(raw string) (*records.ParsedResponse, error) {
	if raw == "" {
		return nil, nil
	}

	var resp rankingsResponseWire
	if err := jsonFast.UnmarshalFromString(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding rankings response: %w", err)
	}
	return &records.ParsedResponse{
		Data:  &records.RankingsResponseData{Rankings: resp.Rankings},
		Usage: resp.Usage.toUsage(),
	}, nil
}
