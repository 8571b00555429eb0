package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	res := Summarize("request_latency", []float64{4, 1, 3, 2})

	assert.Equal(t, "request_latency", res.Tag)
	assert.Equal(t, 4, res.Count)
	assert.Equal(t, 2.5, res.Avg)
	assert.Equal(t, 1.0, res.Min)
	assert.Equal(t, 4.0, res.Max)
	assert.InDelta(t, 1.1180, res.Std, 1e-4)

	// Linear interpolation between closest ranks.
	assert.Equal(t, 2.5, res.P50)
	assert.Equal(t, 1.75, res.P25)
	assert.InDelta(t, 3.7, res.P90, 1e-9)
	assert.InDelta(t, 3.97, res.P99, 1e-9)
}

func TestSummarizeSingleValue(t *testing.T) {
	res := Summarize("ttft", []float64{42})

	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 42.0, res.Avg)
	assert.Equal(t, 42.0, res.P1)
	assert.Equal(t, 42.0, res.P50)
	assert.Equal(t, 42.0, res.P99)
	assert.Equal(t, 0.0, res.Std)
}

func TestSummarizeEmpty(t *testing.T) {
	res := Summarize("empty", nil)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, 0.0, res.Avg)
}

func TestPercentileExactRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}
	assert.Equal(t, 30.0, percentile(sorted, 50))
	assert.Equal(t, 10.0, percentile(sorted, 0))
	assert.Equal(t, 50.0, percentile(sorted, 100))
	assert.Equal(t, 20.0, percentile(sorted, 25))
}

func TestProcessingStats(t *testing.T) {
	var s ProcessingStats
	s.Add(ProcessingStats{Processed: 3, Errors: 1})
	s.Add(ProcessingStats{Processed: 2})

	require.Equal(t, 5, s.Processed)
	require.Equal(t, 1, s.Errors)
	require.Equal(t, 6, s.Total())
}
