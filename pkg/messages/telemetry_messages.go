package messages

import "github.com/aiperf/aiperf/pkg/telemetry"

// TelemetryRecordsMessage carries one poll's GPU records to the records
// manager. It travels on the same PUSH channel as metric records.
type TelemetryRecordsMessage struct {
	ServiceMessage
	CollectorID string             `json:"collector_id,omitempty"`
	Records     []telemetry.Record `json:"records"`
	Error       *ErrorDetails      `json:"error,omitempty"`
}

// TelemetryStatusMessage reports telemetry availability at startup.
type TelemetryStatusMessage struct {
	ServiceMessage
	Enabled            bool     `json:"enabled"`
	Reason             string   `json:"reason,omitempty"`
	EndpointsTested    []string `json:"endpoints_tested,omitempty"`
	EndpointsReachable []string `json:"endpoints_reachable,omitempty"`
}
