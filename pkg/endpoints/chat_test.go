package endpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiperf/aiperf/pkg/records"
)

func textTurn(role, text string) records.Turn {
	return records.Turn{Role: role, Texts: []records.Media{{Contents: []string{text}}}}
}

func TestChatFormatPayloadFlatContent(t *testing.T) {
	a, err := NewAdapter("chat")
	require.NoError(t, err)

	payload, err := a.FormatPayload(&RequestInfo{
		Turns:     []records.Turn{textTurn("user", "hello")},
		ModelName: "test-model",
		Streaming: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "test-model", payload["model"])
	assert.Equal(t, true, payload["stream"])

	msgs := payload["messages"].([]map[string]any)
	require.Len(t, msgs, 1)
	// A single plain-text part collapses to the flat string form.
	assert.Equal(t, "user", msgs[0]["role"])
	assert.Equal(t, "hello", msgs[0]["content"])
}

func TestChatFormatPayloadMultimodalParts(t *testing.T) {
	a, _ := NewAdapter("chat")

	turn := records.Turn{
		Texts:  []records.Media{{Contents: []string{"describe this"}}},
		Images: []records.Media{{Contents: []string{"https://example.com/cat.png"}}},
		Audios: []records.Media{{Contents: []string{"wav,aGVsbG8="}}},
	}
	payload, err := a.FormatPayload(&RequestInfo{Turns: []records.Turn{turn}, ModelName: "m"})
	require.NoError(t, err)

	msgs := payload["messages"].([]map[string]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0]["role"])

	parts := msgs[0]["content"].([]map[string]any)
	require.Len(t, parts, 3)
	assert.Equal(t, "text", parts[0]["type"])
	assert.Equal(t, map[string]any{"url": "https://example.com/cat.png"}, parts[1]["image_url"])
	assert.Equal(t, map[string]any{"data": "aGVsbG8=", "format": "wav"}, parts[2]["input_audio"])
}

func TestChatFormatPayloadAudioValidation(t *testing.T) {
	a, _ := NewAdapter("chat")

	for _, audio := range []string{"noseparator", ",missingformat", "wav,"} {
		turn := records.Turn{Audios: []records.Media{{Contents: []string{audio}}}}
		_, err := a.FormatPayload(&RequestInfo{Turns: []records.Turn{turn}, ModelName: "m"})
		require.Error(t, err, "audio %q should be rejected", audio)
	}
}

func TestChatFormatPayloadLastTurnWins(t *testing.T) {
	a, _ := NewAdapter("chat")

	turns := []records.Turn{
		{Model: "first", Texts: []records.Media{{Contents: []string{"a"}}}},
		{Model: "second", MaxTokens: 64, Texts: []records.Media{{Contents: []string{"b"}}}},
	}
	payload, err := a.FormatPayload(&RequestInfo{Turns: turns, ModelName: "primary"})
	require.NoError(t, err)

	assert.Equal(t, "second", payload["model"])
	assert.Equal(t, 64, payload["max_tokens"])
}

func TestChatFormatPayloadExtraWins(t *testing.T) {
	a, _ := NewAdapter("chat")

	payload, err := a.FormatPayload(&RequestInfo{
		Turns:     []records.Turn{textTurn("", "hi")},
		ModelName: "m",
		Extra:     map[string]any{"temperature": 0.5, "model": "override"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.5, payload["temperature"])
	assert.Equal(t, "override", payload["model"])
}

func TestChatParseResponse(t *testing.T) {
	a, _ := NewAdapter("chat")

	for _, tc := range []struct {
		name string
		raw  string
		want *records.ParsedResponse
	}{
		{
			name: "empty chunk",
			raw:  "",
			want: nil,
		},
		{
			name: "done sentinel",
			raw:  "[DONE]",
			want: nil,
		},
		{
			name: "unary completion",
			raw:  `{"object":"chat.completion","choices":[{"message":{"content":"hi there"}}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
			want: &records.ParsedResponse{
				Data:  &records.TextResponseData{Text: "hi there"},
				Usage: &records.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
			},
		},
		{
			name: "streaming delta",
			raw:  `{"object":"chat.completion.chunk","choices":[{"delta":{"content":"tok"}}]}`,
			want: &records.ParsedResponse{Data: &records.TextResponseData{Text: "tok"}},
		},
		{
			name: "reasoning_content wins over reasoning",
			raw:  `{"object":"chat.completion.chunk","choices":[{"delta":{"content":"c","reasoning_content":"rc","reasoning":"r"}}]}`,
			want: &records.ParsedResponse{Data: &records.ReasoningResponseData{Content: "c", Reasoning: "rc"}},
		},
		{
			name: "reasoning fallback field",
			raw:  `{"object":"chat.completion.chunk","choices":[{"delta":{"reasoning":"thinking"}}]}`,
			want: &records.ParsedResponse{Data: &records.ReasoningResponseData{Reasoning: "thinking"}},
		},
		{
			name: "usage only chunk",
			raw:  `{"object":"chat.completion.chunk","choices":[],"usage":{"completion_tokens":10,"completion_tokens_details":{"reasoning_tokens":4}}}`,
			want: &records.ParsedResponse{Usage: &records.Usage{CompletionTokens: 10, ReasoningTokens: 4}},
		},
		{
			name: "empty delta without usage",
			raw:  `{"object":"chat.completion.chunk","choices":[{"delta":{}}]}`,
			want: nil,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.ParseResponse(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestChatParseResponseMalformed(t *testing.T) {
	a, _ := NewAdapter("chat")
	_, err := a.ParseResponse(`{"object":`)
	require.Error(t, err)
}
