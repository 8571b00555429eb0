package messages

import "github.com/aiperf/aiperf/pkg/records"

// MessageType discriminates every payload that crosses the bus.
type MessageType string

const (
	TypeUnknown MessageType = "unknown"

	TypeRegistration    MessageType = "registration"
	TypeHeartbeat       MessageType = "heartbeat"
	TypeStatus          MessageType = "status"
	TypeCommand         MessageType = "command"
	TypeCommandResponse MessageType = "command_response"
	TypeError           MessageType = "error"

	TypeCreditDrop                 MessageType = "credit_drop"
	TypeCreditReturn               MessageType = "credit_return"
	TypeCreditsComplete            MessageType = "credits_complete"
	TypeCreditPhaseStart           MessageType = "credit_phase_start"
	TypeCreditPhaseProgress        MessageType = "credit_phase_progress"
	TypeCreditPhaseSendingComplete MessageType = "credit_phase_sending_complete"
	TypeCreditPhaseComplete        MessageType = "credit_phase_complete"

	TypeConversationRequest   MessageType = "conversation_request"
	TypeConversationResponse  MessageType = "conversation_response"
	TypeDatasetTimingRequest  MessageType = "dataset_timing_request"
	TypeDatasetTimingResponse MessageType = "dataset_timing_response"
	TypeDatasetConfigured     MessageType = "dataset_configured"

	TypeInferenceResults     MessageType = "inference_results"
	TypeMetricRecords        MessageType = "metric_records"
	TypeProcessingStats      MessageType = "processing_stats"
	TypeAllRecordsReceived   MessageType = "all_records_received"
	TypeProcessRecordsResult MessageType = "process_records_result"
	TypeWorkerHealth         MessageType = "worker_health"

	TypeTelemetryRecords MessageType = "telemetry_records"
	TypeTelemetryStatus  MessageType = "telemetry_status"
)

// CommandType further routes messages of TypeCommand.
type CommandType string

const (
	CommandProfileConfigure CommandType = "profile_configure"
	CommandProfileStart     CommandType = "profile_start"
	CommandProfileCancel    CommandType = "profile_cancel"
	CommandProcessRecords   CommandType = "process_records"
	CommandShutdown         CommandType = "shutdown"
	CommandRealtimeMetrics  CommandType = "realtime_metrics"
)

// ServiceType identifies the role of a service process.
type ServiceType string

const (
	ServiceSystemController ServiceType = "system_controller"
	ServiceDatasetManager   ServiceType = "dataset_manager"
	ServiceTimingManager    ServiceType = "timing_manager"
	ServiceRecordsManager   ServiceType = "records_manager"
	ServiceRecordProcessor  ServiceType = "record_processor"
	ServiceTelemetryManager ServiceType = "telemetry_manager"
	ServiceWorker           ServiceType = "worker"
)

// ServiceState is the lifecycle state reported over the bus.
type ServiceState string

const (
	StateUnknown      ServiceState = "unknown"
	StateInitializing ServiceState = "initializing"
	StateReady        ServiceState = "ready"
	StateStarting     ServiceState = "starting"
	StateRunning      ServiceState = "running"
	StateStopping     ServiceState = "stopping"
	StateStopped      ServiceState = "stopped"
	StateStale        ServiceState = "stale"
	StateError        ServiceState = "error"
)

// CreditPhase names a sub-run of the benchmark. The canonical definition
// lives with the record data model.
type CreditPhase = records.CreditPhase

const (
	PhaseWarmup    = records.PhaseWarmup
	PhaseProfiling = records.PhaseProfiling
)
