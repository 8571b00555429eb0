package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiperf/aiperf/pkg/records"
)

func TestOrderedDependenciesFirst(t *testing.T) {
	ordered := Ordered()
	require.Len(t, ordered, len(registry))

	position := map[string]int{}
	for i, m := range ordered {
		position[m.Tag()] = i
	}
	for _, m := range ordered {
		for _, dep := range m.Dependencies() {
			require.Less(t, position[dep], position[m.Tag()],
				"%s must come after its dependency %s", m.Tag(), dep)
		}
	}
}

func TestOrderedDeterministic(t *testing.T) {
	first := Ordered()
	second := Ordered()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Tag(), second[i].Tag())
	}
}

// streamingRecord is a valid three-chunk streaming response: start at 100,
// chunks at 200/400/700, end at 1100, 10 output tokens.
func streamingRecord() *records.ParsedResponseRecord {
	return &records.ParsedResponseRecord{
		RequestRecord: records.RequestRecord{
			TimestampNS: 5_000_000,
			StartPerfNS: 100,
			EndPerfNS:   1100,
			Responses: []records.RawResponse{
				{PerfNS: 200, Text: "a"},
				{PerfNS: 400, Text: "b"},
				{PerfNS: 700, Text: "c"},
			},
		},
		Parsed: []records.ParsedResponse{
			{PerfNS: 200, Data: &records.TextResponseData{Text: "a"}},
			{PerfNS: 400, Data: &records.TextResponseData{Text: "b"}},
			{PerfNS: 700, Data: &records.TextResponseData{Text: "c"}},
		},
		InputTokens:  20,
		OutputTokens: 10,
	}
}

func TestComputeAllValidRecord(t *testing.T) {
	vals, err := ComputeAll(streamingRecord())
	require.NoError(t, err)

	latency, err := vals.Get(TagRequestLatency)
	require.NoError(t, err)
	assert.Equal(t, float64(1000), latency)

	ttft, err := vals.Get(TagTimeToFirstToken)
	require.NoError(t, err)
	assert.Equal(t, float64(100), ttft)

	ttst, err := vals.Get(TagTimeToSecondToken)
	require.NoError(t, err)
	assert.Equal(t, float64(200), ttst)

	itl, err := vals.Get(TagInterTokenLatency)
	require.NoError(t, err)
	assert.Equal(t, (latency-ttft)/9, itl)

	icl := vals[TagInterChunkLatency]
	require.True(t, icl.IsSeq())
	assert.Equal(t, []float64{200, 300}, icl.Seq)

	throughput, err := vals.Get(TagOutputTokenThroughputUser)
	require.NoError(t, err)
	assert.InDelta(t, 10/(1000/1e9), throughput, 1e-6)

	isl, err := vals.Get(TagInputSequenceLength)
	require.NoError(t, err)
	assert.Equal(t, float64(20), isl)

	minTS, err := vals.Get(TagMinRequestTimestamp)
	require.NoError(t, err)
	assert.Equal(t, float64(5_000_000), minTS)

	// Error metrics never run on a valid record.
	_, hasErr := vals[TagErrorRequestCount]
	assert.False(t, hasErr)
	_, hasCancel := vals[TagCancelledRequestCount]
	assert.False(t, hasCancel)
}

func TestComputeAllSkipsUndefinedMetrics(t *testing.T) {
	rec := streamingRecord()
	rec.Parsed = rec.Parsed[:1]
	rec.OutputTokens = 1

	vals, err := ComputeAll(rec)
	require.NoError(t, err)

	// Single-chunk, single-token: no second token, no gaps, no inter-token
	// latency. Skips, not failures.
	_, ok := vals[TagTimeToSecondToken]
	assert.False(t, ok)
	_, ok = vals[TagInterChunkLatency]
	assert.False(t, ok)
	_, ok = vals[TagInterTokenLatency]
	assert.False(t, ok)

	_, err = vals.Get(TagRequestLatency)
	assert.NoError(t, err)
}

func TestComputeAllErrorRecord(t *testing.T) {
	rec := &records.ParsedResponseRecord{
		RequestRecord: records.RequestRecord{
			TimestampNS: 1,
			StartPerfNS: 100,
			EndPerfNS:   200,
			Error:       &records.ErrorDetails{Code: 503, Message: "overloaded"},
		},
	}

	vals, err := ComputeAll(rec)
	require.NoError(t, err)

	count, err := vals.Get(TagErrorRequestCount)
	require.NoError(t, err)
	assert.Equal(t, float64(1), count)

	// Normal metrics never run on a failed record.
	_, ok := vals[TagRequestLatency]
	assert.False(t, ok)
	_, ok = vals[TagMinRequestTimestamp]
	assert.False(t, ok)
}

func TestComputeAllCancelledRecord(t *testing.T) {
	rec := &records.ParsedResponseRecord{
		RequestRecord: records.RequestRecord{
			StartPerfNS:  100,
			EndPerfNS:    200,
			WasCancelled: true,
			Error:        &records.ErrorDetails{Type: "cancelled", Message: "deadline"},
		},
	}

	vals, err := ComputeAll(rec)
	require.NoError(t, err)

	errCount, err := vals.Get(TagErrorRequestCount)
	require.NoError(t, err)
	assert.Equal(t, float64(1), errCount)

	cancelled, err := vals.Get(TagCancelledRequestCount)
	require.NoError(t, err)
	assert.Equal(t, float64(1), cancelled)
}

func TestTimeToFirstOutputTokenSkipsReasoning(t *testing.T) {
	rec := streamingRecord()
	rec.Parsed[0].Data = &records.ReasoningResponseData{Reasoning: "thinking"}

	vals, err := ComputeAll(rec)
	require.NoError(t, err)

	ttft, err := vals.Get(TagTimeToFirstToken)
	require.NoError(t, err)
	assert.Equal(t, float64(100), ttft)

	ttfot, err := vals.Get(TagTimeToFirstOutputToken)
	require.NoError(t, err)
	assert.Equal(t, float64(300), ttfot)
}

func TestOutputSequenceLengthIncludesReasoning(t *testing.T) {
	rec := streamingRecord()
	rec.ReasoningTokens = 5

	vals, err := ComputeAll(rec)
	require.NoError(t, err)

	osl, err := vals.Get(TagOutputSequenceLength)
	require.NoError(t, err)
	assert.Equal(t, float64(15), osl)
}

func TestValuesGet(t *testing.T) {
	vals := Values{
		"scalar": ScalarValue(3),
		"seq":    SeqValue([]float64{1, 2}),
	}

	v, err := vals.Get("scalar")
	require.NoError(t, err)
	assert.Equal(t, float64(3), v)

	_, err = vals.Get("missing")
	require.ErrorIs(t, err, ErrNoMetricValue)

	_, err = vals.Get("seq")
	require.ErrorIs(t, err, ErrNoMetricValue)
}

func TestFlagsHas(t *testing.T) {
	f := FlagStreamingTokensOnly | FlagNoConsole
	assert.True(t, f.Has(FlagNoConsole))
	assert.True(t, f.Has(FlagStreamingTokensOnly|FlagNoConsole))
	assert.False(t, f.Has(FlagErrorOnly))
}
