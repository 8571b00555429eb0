package endpoints

import (
	"fmt"
	"strings"

	"github.com/aiperf/aiperf/pkg/records"
)

// chatAdapter speaks the OpenAI chat completions API, streaming or unary,
// with multimodal content parts and reasoning-aware parsing.
type chatAdapter struct{}

func (a *chatAdapter) Metadata() Metadata {
	return Metadata{
		EndpointPath:      "/v1/chat/completions",
		SupportsStreaming: true,
		ProducesTokens:    true,
		TokenizesInput:    true,
		SupportsAudio:     true,
		SupportsImages:    true,
		SupportsVideos:    true,
		MetricsTitle:      "LLM Metrics",
	}
}

func (a *chatAdapter) FormatPayload(req *RequestInfo) (map[string]any, error) {
	msgs := make([]map[string]any, 0, len(req.Turns))
	for i := range req.Turns {
		msg, err := chatMessage(&req.Turns[i])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	payload := map[string]any{
		"model":    req.model(),
		"messages": msgs,
		"stream":   req.Streaming,
	}
	if len(req.Turns) > 0 {
		if mt := req.Turns[len(req.Turns)-1].MaxTokens; mt > 0 {
			payload["max_tokens"] = mt
		}
	}
	return mergeExtra(payload, req.Extra), nil
}

func chatMessage(turn *records.Turn) (map[string]any, error) {
	role := turn.Role
	if role == "" {
		role = "user"
	}

	var parts []map[string]any
	for _, text := range textContents(turn) {
		parts = append(parts, map[string]any{"type": "text", "text": text})
	}
	for _, media := range turn.Images {
		for _, url := range media.Contents {
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": url},
			})
		}
	}
	for _, media := range turn.Audios {
		for _, audio := range media.Contents {
			format, data, found := strings.Cut(audio, ",")
			if !found || format == "" || data == "" {
				return nil, fmt.Errorf(`audio content must be "format,base64data", got %q`, audio)
			}
			parts = append(parts, map[string]any{
				"type":        "input_audio",
				"input_audio": map[string]any{"data": data, "format": format},
			})
		}
	}
	for _, media := range turn.Videos {
		for _, url := range media.Contents {
			parts = append(parts, map[string]any{
				"type":      "video_url",
				"video_url": map[string]any{"url": url},
			})
		}
	}

	// Single plain-text turns use the flat string form: some servers
	// (Dynamo among them) reject one-element content-part arrays.
	if len(parts) == 1 && parts[0]["type"] == "text" {
		return map[string]any{"role": role, "content": parts[0]["text"]}, nil
	}
	return map[string]any{"role": role, "content": parts}, nil
}

type chatMessageWire struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
}

type chatResponseWire struct {
	Object  string `json:"object"`
	Choices []struct {
		Message chatMessageWire `json:"message"`
		Delta   chatMessageWire `json:"delta"`
	} `json:"choices"`
	Usage *usageWire `json:"usage"`
}

func (a *chatAdapter) ParseResponse(raw string) (*records.ParsedResponse, error) {
	if raw == "" || raw == doneSentinel {
		return nil, nil
	}

	var resp chatResponseWire
	if err := jsonFast.UnmarshalFromString(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}

	var msg chatMessageWire
	if len(resp.Choices) > 0 {
		switch resp.Object {
		case "chat.completion":
			msg = resp.Choices[0].Message
		case "chat.completion.chunk":
			msg = resp.Choices[0].Delta
		}
	}

	reasoning := msg.ReasoningContent
	if reasoning == "" {
		reasoning = msg.Reasoning
	}

	parsed := &records.ParsedResponse{Usage: resp.Usage.toUsage()}
	switch {
	case reasoning != "":
		parsed.Data = &records.ReasoningResponseData{Content: msg.Content, Reasoning: reasoning}
	case msg.Content != "":
		parsed.Data = &records.TextResponseData{Text: msg.Content}
	case parsed.Usage == nil:
		return nil, nil
	}
	return parsed, nil
}
