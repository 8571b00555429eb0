// Package metrics computes per-record metric values and aggregates them into
// run summaries. Metrics form a dependency graph: each metric declares the
// tags it reads, and the registry resolves a compute order so dependents
// always run after their inputs.
package metrics

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aiperf/aiperf/pkg/records"
)

// ErrNoMetricValue signals that a metric produced no value for this record.
// It is a skip, not a failure: dependents that read the missing tag are
// skipped in turn.
var ErrNoMetricValue = errors.New("no metric value")

// RecordMetric computes one metric value from a parsed record and the values
// already computed for it.
type RecordMetric interface {
	// Tag is the stable snake_case identity of the metric.
	Tag() string
	// Header is the human-facing name used in summaries.
	Header() string
	// Unit is the unit the computed value is expressed in.
	Unit() string
	// Dependencies lists the tags this metric reads from Values. The
	// registry orders computation so dependencies run first.
	Dependencies() []string
	Flags() Flags
	Compute(rec *records.ParsedResponseRecord, vals Values) (Value, error)
}

var registry = map[string]RecordMetric{}

// RegisterMetric adds a metric to the global registry. Called from init;
// duplicate tags are a programming error.
func RegisterMetric(m RecordMetric) {
	if _, ok := registry[m.Tag()]; ok {
		panic(fmt.Sprintf("metrics: duplicate metric tag %q", m.Tag()))
	}
	registry[m.Tag()] = m
}

// Lookup returns the registered metric for a tag.
func Lookup(tag string) (RecordMetric, bool) {
	m, ok := registry[tag]
	return m, ok
}

// Ordered returns every registered metric in dependency order, ties broken
// alphabetically so the order is deterministic.
func Ordered() []RecordMetric {
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	ordered := make([]RecordMetric, 0, len(registry))
	state := map[string]int{} // 0 unseen, 1 visiting, 2 done

	var visit func(tag string)
	visit = func(tag string) {
		m, ok := registry[tag]
		if !ok {
			return
		}
		switch state[tag] {
		case 2:
			return
		case 1:
			panic(fmt.Sprintf("metrics: dependency cycle through %q", tag))
		}
		state[tag] = 1
		deps := append([]string(nil), m.Dependencies()...)
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		state[tag] = 2
		ordered = append(ordered, m)
	}

	for _, tag := range tags {
		visit(tag)
	}
	return ordered
}

// ComputeAll runs every applicable metric over one record and returns the
// computed values. Valid records run the normal metrics; failed records run
// only the error metrics. Metrics that decline (ErrNoMetricValue) are
// skipped silently; any other compute error is joined into the returned
// error, and computation continues.
func ComputeAll(rec *records.ParsedResponseRecord) (Values, error) {
	vals := Values{}
	failed := rec.Error != nil || !rec.Valid()

	var errs []error
	for _, m := range Ordered() {
		if m.Flags().Has(FlagErrorOnly) != failed {
			continue
		}
		v, err := m.Compute(rec, vals)
		if err != nil {
			if !errors.Is(err, ErrNoMetricValue) {
				errs = append(errs, fmt.Errorf("computing %s: %w", m.Tag(), err))
			}
			continue
		}
		vals[m.Tag()] = v
	}
	return vals, errors.Join(errs...)
}
