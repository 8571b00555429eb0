package metrics

import (
	"github.com/aiperf/aiperf/pkg/records"
)

// Metric tags. Time metrics are expressed in nanoseconds; exporters convert
// for display.
const (
	TagRequestLatency            = "request_latency"
	TagTimeToFirstToken          = "time_to_first_token"
	TagTimeToSecondToken         = "time_to_second_token"
	TagTimeToFirstOutputToken    = "time_to_first_output_token"
	TagInterTokenLatency         = "inter_token_latency"
	TagInterChunkLatency         = "inter_chunk_latency"
	TagOutputTokenCount          = "output_token_count"
	TagInputSequenceLength       = "input_sequence_length"
	TagOutputSequenceLength      = "output_sequence_length"
	TagOutputTokenThroughputUser = "output_token_throughput_per_user"
	TagRequestDelay              = "request_delay"
	TagMinRequestTimestamp       = "min_request_timestamp"
	TagErrorRequestCount         = "error_request_count"
	TagCancelledRequestCount     = "cancelled_request_count"
)

// metricInfo supplies the descriptive half of RecordMetric; concrete metrics
// embed it and add Compute.
type metricInfo struct {
	tag    string
	header string
	unit   string
	deps   []string
	flags  Flags
}

func (m metricInfo) Tag() string            { return m.tag }
func (m metricInfo) Header() string         { return m.header }
func (m metricInfo) Unit() string           { return m.unit }
func (m metricInfo) Dependencies() []string { return m.deps }
func (m metricInfo) Flags() Flags           { return m.flags }

func init() {
	RegisterMetric(&requestLatencyMetric{metricInfo{
		tag: TagRequestLatency, header: "Request Latency", unit: "ns",
	}})
	RegisterMetric(&timeToFirstTokenMetric{metricInfo{
		tag: TagTimeToFirstToken, header: "Time to First Token", unit: "ns",
		flags: FlagStreamingTokensOnly,
	}})
	RegisterMetric(&timeToSecondTokenMetric{metricInfo{
		tag: TagTimeToSecondToken, header: "Time to Second Token", unit: "ns",
		flags: FlagStreamingTokensOnly,
	}})
	RegisterMetric(&timeToFirstOutputTokenMetric{metricInfo{
		tag: TagTimeToFirstOutputToken, header: "Time to First Output Token", unit: "ns",
		flags: FlagStreamingTokensOnly | FlagSupportsReasoning,
	}})
	RegisterMetric(&interTokenLatencyMetric{metricInfo{
		tag: TagInterTokenLatency, header: "Inter Token Latency", unit: "ns",
		deps:  []string{TagRequestLatency, TagTimeToFirstToken, TagOutputTokenCount},
		flags: FlagStreamingTokensOnly,
	}})
	RegisterMetric(&interChunkLatencyMetric{metricInfo{
		tag: TagInterChunkLatency, header: "Inter Chunk Latency", unit: "ns",
		flags: FlagStreamingTokensOnly | FlagNoConsole,
	}})
	RegisterMetric(&outputTokenCountMetric{metricInfo{
		tag: TagOutputTokenCount, header: "Output Token Count", unit: "tokens",
	}})
	RegisterMetric(&inputSequenceLengthMetric{metricInfo{
		tag: TagInputSequenceLength, header: "Input Sequence Length", unit: "tokens",
	}})
	RegisterMetric(&outputSequenceLengthMetric{metricInfo{
		tag: TagOutputSequenceLength, header: "Output Sequence Length", unit: "tokens",
		flags: FlagSupportsReasoning,
	}})
	RegisterMetric(&outputTokenThroughputPerUserMetric{metricInfo{
		tag: TagOutputTokenThroughputUser, header: "Output Token Throughput Per User", unit: "tokens/sec",
		deps:  []string{TagOutputTokenCount, TagRequestLatency},
		flags: FlagStreamingTokensOnly,
	}})
	RegisterMetric(&requestDelayMetric{metricInfo{
		tag: TagRequestDelay, header: "Request Delay", unit: "ns",
		flags: FlagNoConsole,
	}})
	RegisterMetric(&minRequestTimestampMetric{metricInfo{
		tag: TagMinRequestTimestamp, header: "Min Request Timestamp", unit: "ns",
		flags: FlagInternal | FlagNoConsole,
	}})
	RegisterMetric(&errorRequestCountMetric{metricInfo{
		tag: TagErrorRequestCount, header: "Error Request Count", unit: "requests",
		flags: FlagErrorOnly | FlagNoConsole,
	}})
	RegisterMetric(&cancelledRequestCountMetric{metricInfo{
		tag: TagCancelledRequestCount, header: "Cancelled Request Count", unit: "requests",
		flags: FlagErrorOnly | FlagNoConsole,
	}})
}

type requestLatencyMetric struct{ metricInfo }

func (m *requestLatencyMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	return ScalarValue(float64(rec.EndPerfNS - rec.StartPerfNS)), nil
}

type timeToFirstTokenMetric struct{ metricInfo }

func (m *timeToFirstTokenMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	if len(rec.Parsed) == 0 {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue(float64(rec.Parsed[0].PerfNS - rec.StartPerfNS)), nil
}

type timeToSecondTokenMetric struct{ metricInfo }

func (m *timeToSecondTokenMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	if len(rec.Parsed) < 2 {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue(float64(rec.Parsed[1].PerfNS - rec.Parsed[0].PerfNS)), nil
}

// timeToFirstOutputTokenMetric measures to the first chunk carrying visible
// completion text, skipping reasoning-only chunks.
type timeToFirstOutputTokenMetric struct{ metricInfo }

func (m *timeToFirstOutputTokenMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	for i := range rec.Parsed {
		if rec.Parsed[i].IsReasoningOnly() {
			continue
		}
		return ScalarValue(float64(rec.Parsed[i].PerfNS - rec.StartPerfNS)), nil
	}
	return Value{}, ErrNoMetricValue
}

type interTokenLatencyMetric struct{ metricInfo }

func (m *interTokenLatencyMetric) Compute(_ *records.ParsedResponseRecord, vals Values) (Value, error) {
	latency, err := vals.Get(TagRequestLatency)
	if err != nil {
		return Value{}, err
	}
	ttft, err := vals.Get(TagTimeToFirstToken)
	if err != nil {
		return Value{}, err
	}
	tokens, err := vals.Get(TagOutputTokenCount)
	if err != nil {
		return Value{}, err
	}
	if tokens <= 1 {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue((latency - ttft) / (tokens - 1)), nil
}

type interChunkLatencyMetric struct{ metricInfo }

func (m *interChunkLatencyMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	if len(rec.Parsed) < 2 {
		return Value{}, ErrNoMetricValue
	}
	gaps := make([]float64, 0, len(rec.Parsed)-1)
	for i := 1; i < len(rec.Parsed); i++ {
		gaps = append(gaps, float64(rec.Parsed[i].PerfNS-rec.Parsed[i-1].PerfNS))
	}
	return SeqValue(gaps), nil
}

type outputTokenCountMetric struct{ metricInfo }

func (m *outputTokenCountMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	if rec.OutputTokens <= 0 {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue(float64(rec.OutputTokens)), nil
}

type inputSequenceLengthMetric struct{ metricInfo }

func (m *inputSequenceLengthMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	if rec.InputTokens <= 0 {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue(float64(rec.InputTokens)), nil
}

// outputSequenceLengthMetric counts every generated token, reasoning
// included.
type outputSequenceLengthMetric struct{ metricInfo }

func (m *outputSequenceLengthMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	total := rec.OutputTokens + rec.ReasoningTokens
	if total <= 0 {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue(float64(total)), nil
}

type outputTokenThroughputPerUserMetric struct{ metricInfo }

func (m *outputTokenThroughputPerUserMetric) Compute(_ *records.ParsedResponseRecord, vals Values) (Value, error) {
	tokens, err := vals.Get(TagOutputTokenCount)
	if err != nil {
		return Value{}, err
	}
	latency, err := vals.Get(TagRequestLatency)
	if err != nil {
		return Value{}, err
	}
	if latency <= 0 {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue(tokens / (latency / 1e9)), nil
}

type requestDelayMetric struct{ metricInfo }

func (m *requestDelayMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	if rec.DelayedNS <= 0 {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue(float64(rec.DelayedNS)), nil
}

// minRequestTimestampMetric records the wall-clock start of the request so
// the aggregator can window records by benchmark duration.
type minRequestTimestampMetric struct{ metricInfo }

func (m *minRequestTimestampMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	if rec.TimestampNS <= 0 {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue(float64(rec.TimestampNS)), nil
}

type errorRequestCountMetric struct{ metricInfo }

func (m *errorRequestCountMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	if rec.Error == nil {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue(1), nil
}

type cancelledRequestCountMetric struct{ metricInfo }

func (m *cancelledRequestCountMetric) Compute(rec *records.ParsedResponseRecord, _ Values) (Value, error) {
	if !rec.WasCancelled {
		return Value{}, ErrNoMetricValue
	}
	return ScalarValue(1), nil
}
