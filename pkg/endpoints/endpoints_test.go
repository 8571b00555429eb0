package endpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiperf/aiperf/pkg/records"
)

func TestNewAdapter(t *testing.T) {
	for _, et := range Types() {
		a, err := NewAdapter(et)
		require.NoError(t, err)
		require.NotNil(t, a)
	}

	_, err := NewAdapter("bogus")
	require.Error(t, err)
}

func TestTypesSorted(t *testing.T) {
	assert.Equal(t, []string{"chat", "completions", "embeddings", "rankings"}, Types())
}

func TestRequestInfoModelResolution(t *testing.T) {
	for _, tc := range []struct {
		name string
		req  RequestInfo
		want string
	}{
		{
			name: "primary when no turn names one",
			req:  RequestInfo{ModelName: "primary", Turns: []records.Turn{{}, {}}},
			want: "primary",
		},
		{
			name: "last named turn wins",
			req: RequestInfo{ModelName: "primary", Turns: []records.Turn{
				{Model: "older"}, {Model: "newer"}, {},
			}},
			want: "newer",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.req.model())
		})
	}
}

func TestCompletionsFormatPayload(t *testing.T) {
	a, _ := NewAdapter("completions")

	turn := records.Turn{
		MaxTokens: 32,
		Texts:     []records.Media{{Contents: []string{"once upon", "a time"}}},
	}
	payload, err := a.FormatPayload(&RequestInfo{Turns: []records.Turn{turn}, ModelName: "m", Streaming: true})
	require.NoError(t, err)

	assert.Equal(t, "once upon a time", payload["prompt"])
	assert.Equal(t, 32, payload["max_tokens"])
	assert.Equal(t, true, payload["stream"])

	_, err = a.FormatPayload(&RequestInfo{Turns: []records.Turn{turn, turn}, ModelName: "m"})
	require.Error(t, err, "multi-turn must be rejected")
}

func TestCompletionsParseResponse(t *testing.T) {
	a, _ := NewAdapter("completions")

	got, err := a.ParseResponse(`{"choices":[{"text":"out"}],"usage":{"completion_tokens":1}}`)
	require.NoError(t, err)
	assert.Equal(t, &records.ParsedResponse{
		Data:  &records.TextResponseData{Text: "out"},
		Usage: &records.Usage{CompletionTokens: 1},
	}, got)

	got, err = a.ParseResponse("[DONE]")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = a.ParseResponse(`{"choices":[{"text":""}]}`)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEmbeddingsFormatPayload(t *testing.T) {
	a, _ := NewAdapter("embeddings")

	turn := records.Turn{Texts: []records.Media{{Contents: []string{"embed me", "and me"}}}}
	payload, err := a.FormatPayload(&RequestInfo{Turns: []records.Turn{turn}, ModelName: "m"})
	require.NoError(t, err)
	assert.Equal(t, []string{"embed me", "and me"}, payload["input"])

	turn.MaxTokens = 16
	_, err = a.FormatPayload(&RequestInfo{Turns: []records.Turn{turn}, ModelName: "m"})
	require.Error(t, err, "max_tokens must be rejected")
}

func TestEmbeddingsParseResponse(t *testing.T) {
	a, _ := NewAdapter("embeddings")

	got, err := a.ParseResponse(`{"data":[{"object":"embedding","embedding":[0.1,0.2]}],"usage":{"prompt_tokens":3}}`)
	require.NoError(t, err)
	assert.Equal(t, &records.ParsedResponse{
		Data:  &records.EmbeddingResponseData{Embeddings: [][]float64{{0.1, 0.2}}},
		Usage: &records.Usage{PromptTokens: 3},
	}, got)

	_, err = a.ParseResponse(`{"data":[{"object":"list","embedding":[0.1]}]}`)
	require.Error(t, err, "wrong object type must be rejected")
}

func TestRankingsFormatPayload(t *testing.T) {
	a, _ := NewAdapter("rankings")

	turn := records.Turn{Texts: []records.Media{
		{Name: "query", Contents: []string{"what is go"}},
		{Name: "passages", Contents: []string{"go is a language", "", "go is fast"}},
	}}
	payload, err := a.FormatPayload(&RequestInfo{Turns: []records.Turn{turn}, ModelName: "ranker"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"text": "what is go"}, payload["query"])
	assert.Equal(t, []map[string]any{
		{"text": "go is a language"},
		{"text": "go is fast"},
	}, payload["passages"])

	noQuery := records.Turn{Texts: []records.Media{{Name: "passages", Contents: []string{"p"}}}}
	_, err = a.FormatPayload(&RequestInfo{Turns: []records.Turn{noQuery}, ModelName: "ranker"})
	require.Error(t, err, "missing query must be rejected")
}

func TestRankingsParseResponse(t *testing.T) {
	a, _ := NewAdapter("rankings")

	got, err := a.ParseResponse(`{"rankings":[{"index":1,"logit":3.5},{"index":0,"logit":1.2}]}`)
	require.NoError(t, err)
	data, ok := got.Data.(*records.RankingsResponseData)
	require.True(t, ok)
	assert.Len(t, data.Rankings, 2)
}
