package recordsmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiperf/aiperf/pkg/messages"
	"github.com/aiperf/aiperf/pkg/metrics"
	"github.com/aiperf/aiperf/pkg/records"
	"github.com/aiperf/aiperf/pkg/telemetry"
)

func TestDurationFilter(t *testing.T) {
	// 10s duration, 2s grace, started at t=1000s.
	f := newDurationFilter(1000e9, 10, 2)

	inWindow := metrics.Values{
		metrics.TagMinRequestTimestamp: metrics.ScalarValue(1005e9),
		metrics.TagRequestLatency:      metrics.ScalarValue(3e9),
	}
	assert.True(t, f.include(inWindow))

	atBoundary := metrics.Values{
		metrics.TagMinRequestTimestamp: metrics.ScalarValue(1010e9),
		metrics.TagRequestLatency:      metrics.ScalarValue(2e9),
	}
	assert.True(t, f.include(atBoundary))

	pastWindow := metrics.Values{
		metrics.TagMinRequestTimestamp: metrics.ScalarValue(1011e9),
		metrics.TagRequestLatency:      metrics.ScalarValue(2e9),
	}
	assert.False(t, f.include(pastWindow))

	// Records missing either input are included, never dropped.
	assert.True(t, f.include(metrics.Values{
		metrics.TagRequestLatency: metrics.ScalarValue(1e9),
	}))
	assert.True(t, f.include(metrics.Values{
		metrics.TagMinRequestTimestamp: metrics.ScalarValue(2000e9),
	}))
	assert.True(t, f.include(metrics.Values{}))
}

func metricMsg(vals ...metrics.Values) *messages.MetricRecordsMessage {
	return &messages.MetricRecordsMessage{Results: vals, Valid: true}
}

func TestPrimaryProcessorSummarize(t *testing.T) {
	p := newPrimaryProcessor()

	p.Process(metricMsg(metrics.Values{
		metrics.TagRequestLatency:   metrics.ScalarValue(100),
		metrics.TagInterChunkLatency: metrics.SeqValue([]float64{10, 20}),
	}))
	p.Process(metricMsg(metrics.Values{
		metrics.TagRequestLatency: metrics.ScalarValue(300),
	}))

	results := p.Summarize()
	byTag := map[string]metrics.MetricResult{}
	for _, r := range results {
		byTag[r.Tag] = r
	}

	latency := byTag[metrics.TagRequestLatency]
	assert.Equal(t, 2, latency.Count)
	assert.Equal(t, 200.0, latency.Avg)
	assert.Equal(t, "Request Latency", latency.Header)
	assert.Equal(t, "ns", latency.Unit)

	// Sequence values flatten into individual observations.
	icl := byTag[metrics.TagInterChunkLatency]
	assert.Equal(t, 2, icl.Count)
	assert.Equal(t, 15.0, icl.Avg)
}

func TestPrimaryProcessorSummarizeSortedTags(t *testing.T) {
	p := newPrimaryProcessor()
	p.Process(metricMsg(metrics.Values{
		"zeta":  metrics.ScalarValue(1),
		"alpha": metrics.ScalarValue(1),
		"mid":   metrics.ScalarValue(1),
	}))

	results := p.Summarize()
	require.Len(t, results, 3)
	assert.Equal(t, "alpha", results[0].Tag)
	assert.Equal(t, "mid", results[1].Tag)
	assert.Equal(t, "zeta", results[2].Tag)
}

func TestPrimaryProcessorDurationFilterApplied(t *testing.T) {
	p := newPrimaryProcessor()
	p.setDurationFilter(newDurationFilter(0, 10, 0))

	p.Process(metricMsg(
		metrics.Values{
			metrics.TagMinRequestTimestamp: metrics.ScalarValue(1e9),
			metrics.TagRequestLatency:      metrics.ScalarValue(2e9),
		},
		metrics.Values{
			metrics.TagMinRequestTimestamp: metrics.ScalarValue(20e9),
			metrics.TagRequestLatency:      metrics.ScalarValue(2e9),
		},
	))

	results := p.Summarize()
	for _, r := range results {
		if r.Tag == metrics.TagRequestLatency {
			assert.Equal(t, 1, r.Count, "out-of-window record must be dropped")
		}
	}
}

func TestPrimaryProcessorErrorSummary(t *testing.T) {
	p := newPrimaryProcessor()

	timeout := &records.ErrorDetails{Code: 504, Type: "timeout", Message: "deadline exceeded"}
	refused := &records.ErrorDetails{Type: "OpError", Message: "connection refused"}

	p.Process(&messages.MetricRecordsMessage{Error: timeout})
	p.Process(&messages.MetricRecordsMessage{Error: refused})
	p.Process(&messages.MetricRecordsMessage{Error: timeout})

	summary := p.errorSummary()
	require.Len(t, summary, 2)
	// First-seen order, aggregated on the (code, type, message) triple.
	assert.Equal(t, *timeout, summary[0].Error)
	assert.Equal(t, 2, summary[0].Count)
	assert.Equal(t, *refused, summary[1].Error)
	assert.Equal(t, 1, summary[1].Count)
}

func TestTelemetryProcessorSummarize(t *testing.T) {
	p := newTelemetryProcessor()

	power1, power2, util := 300.0, 320.0, 85.0
	p.Add(&messages.TelemetryRecordsMessage{Records: []telemetry.Record{
		{
			TimestampNS: 1, DCGMURL: "http://node:9400/metrics", GPUUUID: "GPU-aaa",
			Metrics: telemetry.Metrics{GPUPowerUsage: &power1},
		},
		{
			TimestampNS: 2, DCGMURL: "http://node:9400/metrics", GPUUUID: "GPU-aaa",
			Metrics: telemetry.Metrics{GPUPowerUsage: &power2, GPUUtilization: &util},
		},
	}})

	results := p.Summarize()
	require.Len(t, results, 2)

	assert.Equal(t, "telemetry/http://node:9400/metrics/GPU-aaa/gpu_power_usage", results[0].Tag)
	assert.Equal(t, 2, results[0].Count)
	assert.Equal(t, 310.0, results[0].Avg)

	assert.Equal(t, "telemetry/http://node:9400/metrics/GPU-aaa/gpu_utilization", results[1].Tag)
	assert.Equal(t, 1, results[1].Count)
}

func TestTelemetryProcessorEmpty(t *testing.T) {
	p := newTelemetryProcessor()
	assert.Empty(t, p.Summarize())
}
