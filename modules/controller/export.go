package controller

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"

	"github.com/aiperf/aiperf/pkg/metrics"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteResults writes the full profile results as indented JSON.
func WriteResults(path string, results *metrics.ProfileResults) error {
	data, err := jsonFast.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing results to %s: %w", path, err)
	}
	return nil
}

// PrintSummary renders the headline statistics of every metric as an aligned
// console table. Internal metrics carry no header and are skipped.
func PrintSummary(w io.Writer, results *metrics.ProfileResults) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "Metric\tUnit\tCount\tAvg\tMin\tMax\tP50\tP90\tP99\n")
	for _, r := range results.Records {
		name := r.Header
		if name == "" {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			name, r.Unit, r.Count, r.Avg, r.Min, r.Max, r.P50, r.P90, r.P99)
	}

	if len(results.ErrorSummary) > 0 {
		fmt.Fprintf(tw, "\nError\tCode\tCount\n")
		for _, e := range results.ErrorSummary {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", e.Error.Message, e.Error.Code, e.Count)
		}
	}
}
