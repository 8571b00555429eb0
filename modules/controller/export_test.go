package controller

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiperf/aiperf/pkg/metrics"
	"github.com/aiperf/aiperf/pkg/records"
)

func sampleResults() *metrics.ProfileResults {
	return &metrics.ProfileResults{
		Completed: 2,
		StartNS:   100,
		EndNS:     900,
		Records: []metrics.MetricResult{
			{Tag: "request_latency", Header: "Request Latency", Unit: "ns", Count: 2, Avg: 150, Min: 100, Max: 200, P50: 150, P90: 190, P99: 199},
			{Tag: "min_request_timestamp", Count: 2, Avg: 5},
		},
		ErrorSummary: []records.ErrorDetailsCount{
			{Error: records.ErrorDetails{Code: 504, Message: "deadline exceeded"}, Count: 3},
		},
	}
}

func TestWriteResultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, WriteResults(path, sampleResults()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var back metrics.ProfileResults
	require.NoError(t, jsonFast.Unmarshal(data, &back))
	assert.Equal(t, *sampleResults(), back)
}

func TestWriteResultsBadPath(t *testing.T) {
	err := WriteResults(filepath.Join(t.TempDir(), "missing", "results.json"), sampleResults())
	require.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, sampleResults())
	out := buf.String()

	assert.Contains(t, out, "Request Latency")
	assert.Contains(t, out, "ns")
	// Internal metrics carry no header and are skipped.
	assert.NotContains(t, out, "min_request_timestamp")
	assert.Contains(t, out, "deadline exceeded")
	assert.Contains(t, out, "504")
}

func TestPrintSummaryNoErrors(t *testing.T) {
	results := sampleResults()
	results.ErrorSummary = nil

	var buf bytes.Buffer
	PrintSummary(&buf, results)
	assert.NotContains(t, buf.String(), "Error")
}
