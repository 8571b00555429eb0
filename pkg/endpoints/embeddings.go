package endpoints

import (
	"fmt"

	"github.com/aiperf/aiperf/pkg/records"
)

// embeddingsAdapter speaks the OpenAI embeddings API. Unary only; produces
// no tokens.
type embeddingsAdapter struct{}

func (a *embeddingsAdapter) Metadata() Metadata {
	return Metadata{
		EndpointPath: "/v1/embeddings",
		MetricsTitle: "Embeddings Metrics",
	}
}

func (a *embeddingsAdapter) FormatPayload(req *RequestInfo) (map[string]any, error) {
	if len(req.Turns) != 1 {
		return nil, fmt.Errorf("embeddings supports exactly one turn, got %d", len(req.Turns))
	}
	turn := &req.Turns[0]
	if turn.MaxTokens > 0 {
		return nil, fmt.Errorf("embeddings does not accept max_tokens")
	}

	payload := map[string]any{
		"model": req.model(),
		"input": textContents(turn),
	}
	return mergeExtra(payload, req.Extra), nil
}

type embeddingsResponseWire struct {
	Data []struct {
		Object    string    `json:"object"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage *usageWire `json:"usage"`
}

func (a *embeddingsAdapter) ParseResponse(raw string) (*records.ParsedResponse, error) {
	if raw == "" {
		return nil, nil
	}

	var resp embeddingsResponseWire
	if err := jsonFast.UnmarshalFromString(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding embeddings response: %w", err)
	}

	data := &records.EmbeddingResponseData{}
	for i, item := range resp.Data {
		if item.Object != "embedding" {
			return nil, fmt.Errorf("data[%d] has object %q, want \"embedding\"", i, item.Object)
		}
		if item.Embedding != nil {
			data.Embeddings = append(data.Embeddings, item.Embedding)
		}
	}
	return &records.ParsedResponse{Data: data, Usage: resp.Usage.toUsage()}, nil
}
