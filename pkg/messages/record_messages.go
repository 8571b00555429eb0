package messages

import (
	"github.com/aiperf/aiperf/pkg/metrics"
	"github.com/aiperf/aiperf/pkg/records"
)

// InferenceResultsMessage carries one RequestRecord from a worker to the
// record processor pool. After the push the processor owns the record.
type InferenceResultsMessage struct {
	ServiceMessage
	Record records.RequestRecord `json:"record"`
}

// MetricRecordsMessage carries the per-record metric values computed by a
// record processor to the records manager.
type MetricRecordsMessage struct {
	ServiceMessage
	WorkerID    string                 `json:"worker_id,omitempty"`
	CreditPhase CreditPhase            `json:"credit_phase"`
	Results     []metrics.Values       `json:"results"`
	Metadata    metrics.RecordMetadata `json:"metadata"`
	Valid       bool                   `json:"valid"`
	Error       *ErrorDetails          `json:"error,omitempty"`
}

// ProcessingStatsMessage reports records-manager progress.
type ProcessingStatsMessage struct {
	ServiceMessage
	Stats     metrics.ProcessingStats            `json:"stats"`
	PerWorker map[string]metrics.ProcessingStats `json:"per_worker,omitempty"`
	Expected  int                                `json:"expected,omitempty"`
}

// AllRecordsReceivedMessage signals that the expected record count arrived.
type AllRecordsReceivedMessage struct {
	ServiceMessage
	FinalRequestCount int `json:"final_request_count"`
}

// ProcessRecordsResultMessage publishes the final profile results.
type ProcessRecordsResultMessage struct {
	ServiceMessage
	Results metrics.ProfileResults `json:"results"`
}

// WorkerTaskStats counts credit tasks per phase on one worker.
type WorkerTaskStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	InFlight  int `json:"in_flight"`
}

// WorkerHealthMessage reports worker process health for progress display.
type WorkerHealthMessage struct {
	ServiceMessage
	PID        int                              `json:"pid,omitempty"`
	CPUPercent float64                          `json:"cpu_percent,omitempty"`
	MemoryMB   float64                          `json:"memory_mb,omitempty"`
	TaskStats  map[CreditPhase]WorkerTaskStats  `json:"task_stats,omitempty"`
}
