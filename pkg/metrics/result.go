package metrics

import (
	"math"
	"sort"

	"github.com/aiperf/aiperf/pkg/records"
)

// MetricResult is the statistical summary of one metric tag over a run.
type MetricResult struct {
	Tag    string  `json:"tag"`
	Header string  `json:"header,omitempty"`
	Unit   string  `json:"unit,omitempty"`
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Std    float64 `json:"std"`
	P1     float64 `json:"p1"`
	P5     float64 `json:"p5"`
	P10    float64 `json:"p10"`
	P25    float64 `json:"p25"`
	P50    float64 `json:"p50"`
	P75    float64 `json:"p75"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// Summarize computes the full statistical summary over the collected values.
func Summarize(tag string, values []float64) MetricResult {
	res := MetricResult{Tag: tag, Count: len(values)}
	if len(values) == 0 {
		return res
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	res.Avg = sum / float64(len(sorted))
	res.Min = sorted[0]
	res.Max = sorted[len(sorted)-1]

	varSum := 0.0
	for _, v := range sorted {
		d := v - res.Avg
		varSum += d * d
	}
	res.Std = math.Sqrt(varSum / float64(len(sorted)))

	res.P1 = percentile(sorted, 1)
	res.P5 = percentile(sorted, 5)
	res.P10 = percentile(sorted, 10)
	res.P25 = percentile(sorted, 25)
	res.P50 = percentile(sorted, 50)
	res.P75 = percentile(sorted, 75)
	res.P90 = percentile(sorted, 90)
	res.P95 = percentile(sorted, 95)
	res.P99 = percentile(sorted, 99)
	return res
}

// percentile interpolates linearly between closest ranks, matching
// numpy's default behaviour. The input must be sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ProcessingStats tracks record throughput per worker and globally.
type ProcessingStats struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Add accumulates the other stats into this one.
func (s *ProcessingStats) Add(other ProcessingStats) {
	s.Processed += other.Processed
	s.Errors += other.Errors
}

// Total is the number of records seen, valid or not.
func (s ProcessingStats) Total() int { return s.Processed + s.Errors }

// ProfileResults is the final envelope of a profiling run.
type ProfileResults struct {
	Records      []MetricResult              `json:"records"`
	Completed    int                         `json:"completed"`
	StartNS      int64                       `json:"start_ns"`
	EndNS        int64                       `json:"end_ns"`
	WasCancelled bool                        `json:"was_cancelled,omitempty"`
	ErrorSummary []records.ErrorDetailsCount `json:"error_summary,omitempty"`
}
