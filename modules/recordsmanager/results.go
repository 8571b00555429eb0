package recordsmanager

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aiperf/aiperf/pkg/messages"
	"github.com/aiperf/aiperf/pkg/metrics"
	"github.com/aiperf/aiperf/pkg/records"
	"github.com/aiperf/aiperf/pkg/telemetry"
)

// durationFilter windows records of a time-bounded phase: a record counts
// iff its request completed within duration plus grace of the phase start.
// Records missing the needed inputs are included, never dropped.
type durationFilter struct {
	startNS  int64
	windowNS int64
}

func newDurationFilter(startNS int64, durationSec, graceSec float64) *durationFilter {
	return &durationFilter{
		startNS:  startNS,
		windowNS: int64((durationSec + graceSec) * 1e9),
	}
}

func (f *durationFilter) include(vals metrics.Values) bool {
	ts, err := vals.Get(metrics.TagMinRequestTimestamp)
	if err != nil {
		return true
	}
	latency, err := vals.Get(metrics.TagRequestLatency)
	if err != nil {
		return true
	}
	return int64(ts+latency) <= f.startNS+f.windowNS
}

// resultsProcessor aggregates metric record streams into summaries. Record
// processing is streaming; Summarize runs once at the end of the run.
type resultsProcessor interface {
	Process(msg *messages.MetricRecordsMessage)
	Summarize() []metrics.MetricResult
}

// primaryProcessor collects every metric tag's values across the run.
type primaryProcessor struct {
	mtx    sync.Mutex
	values map[string][]float64
	filter *durationFilter

	errorCounts map[records.ErrorDetails]int
	errorOrder  []records.ErrorDetails
}

func newPrimaryProcessor() *primaryProcessor {
	return &primaryProcessor{
		values:      map[string][]float64{},
		errorCounts: map[records.ErrorDetails]int{},
	}
}

// setDurationFilter installs the window once the phase bounds are known.
func (p *primaryProcessor) setDurationFilter(f *durationFilter) {
	p.mtx.Lock()
	p.filter = f
	p.mtx.Unlock()
}

func (p *primaryProcessor) Process(msg *messages.MetricRecordsMessage) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for _, vals := range msg.Results {
		if p.filter != nil && !p.filter.include(vals) {
			continue
		}
		for tag, v := range vals {
			p.values[tag] = append(p.values[tag], v.Flatten()...)
		}
	}

	if msg.Error != nil {
		key := *msg.Error
		if _, seen := p.errorCounts[key]; !seen {
			p.errorOrder = append(p.errorOrder, key)
		}
		p.errorCounts[key]++
	}
}

func (p *primaryProcessor) Summarize() []metrics.MetricResult {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	tags := make([]string, 0, len(p.values))
	for tag := range p.values {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	results := make([]metrics.MetricResult, 0, len(tags))
	for _, tag := range tags {
		res := metrics.Summarize(tag, p.values[tag])
		if m, ok := metrics.Lookup(tag); ok {
			res.Header = m.Header()
			res.Unit = m.Unit()
		}
		results = append(results, res)
	}
	return results
}

// errorSummary aggregates the (code, type, message) triples seen so far.
func (p *primaryProcessor) errorSummary() []records.ErrorDetailsCount {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	out := make([]records.ErrorDetailsCount, 0, len(p.errorOrder))
	for _, key := range p.errorOrder {
		out = append(out, records.ErrorDetailsCount{Error: key, Count: p.errorCounts[key]})
	}
	return out
}

// telemetryProcessor accumulates GPU snapshots and summarizes each
// (dcgm_url, gpu_uuid, metric) series under a hierarchical tag.
type telemetryProcessor struct {
	mtx       sync.Mutex
	hierarchy *telemetry.Hierarchy
}

func newTelemetryProcessor() *telemetryProcessor {
	return &telemetryProcessor{hierarchy: telemetry.NewHierarchy()}
}

func (p *telemetryProcessor) Process(_ *messages.MetricRecordsMessage) {}

// Add stores one poll's records.
func (p *telemetryProcessor) Add(msg *messages.TelemetryRecordsMessage) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for i := range msg.Records {
		p.hierarchy.Add(&msg.Records[i])
	}
}

func (p *telemetryProcessor) Summarize() []metrics.MetricResult {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	var results []metrics.MetricResult
	p.hierarchy.Each(func(dcgmURL, gpuUUID string, data *telemetry.GPUData) {
		seen := map[string]bool{}
		for _, snap := range data.TimeSeries {
			for name := range snap.Metrics {
				seen[name] = true
			}
		}
		names := make([]string, 0, len(seen))
		for name := range seen {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			tag := fmt.Sprintf("telemetry/%s/%s/%s", dcgmURL, gpuUUID, name)
			results = append(results, metrics.Summarize(tag, data.MetricValues(name)))
		}
	})
	return results
}
