package messages

import "github.com/google/uuid"

// CommandMessage routes an instruction from the controller to one or more
// services. A nested discriminator selects the concrete command type.
type CommandMessage struct {
	ServiceMessage
	Command           CommandType `json:"command"`
	CommandID         string      `json:"command_id"`
	RequireResponse   bool        `json:"require_response,omitempty"`
	TargetServiceID   string      `json:"target_service_id,omitempty"`
	TargetServiceType ServiceType `json:"target_service_type,omitempty"`
}

func (c *CommandMessage) Target() (string, ServiceType) {
	return c.TargetServiceID, c.TargetServiceType
}

// CommandFields exposes the embedded command envelope; promotion makes every
// concrete command satisfy it.
func (c *CommandMessage) CommandFields() *CommandMessage { return c }

func newCommand(command CommandType, serviceID string) CommandMessage {
	m := CommandMessage{
		ServiceMessage: ServiceMessage{Base: Base{MessageType: TypeCommand}, ServiceID: serviceID},
		Command:        command,
		CommandID:      uuid.NewString()[:8],
	}
	m.Stamp()
	return m
}

// ProfileConfigureCommand asks every service to configure itself for the run
// and acknowledge.
type ProfileConfigureCommand struct {
	CommandMessage
}

func NewProfileConfigureCommand(serviceID string) *ProfileConfigureCommand {
	c := &ProfileConfigureCommand{CommandMessage: newCommand(CommandProfileConfigure, serviceID)}
	c.RequireResponse = true
	return c
}

// ProfileStartCommand begins the credit phases.
type ProfileStartCommand struct {
	CommandMessage
}

func NewProfileStartCommand(serviceID string) *ProfileStartCommand {
	return &ProfileStartCommand{CommandMessage: newCommand(CommandProfileStart, serviceID)}
}

// ProfileCancelCommand aborts the run: the timing manager stops issuing
// credits and the records manager summarizes what it has.
type ProfileCancelCommand struct {
	CommandMessage
}

func NewProfileCancelCommand(serviceID string) *ProfileCancelCommand {
	return &ProfileCancelCommand{CommandMessage: newCommand(CommandProfileCancel, serviceID)}
}

// ProcessRecordsCommand forces summarization of the records collected so far.
type ProcessRecordsCommand struct {
	CommandMessage
}

func NewProcessRecordsCommand(serviceID string) *ProcessRecordsCommand {
	return &ProcessRecordsCommand{CommandMessage: newCommand(CommandProcessRecords, serviceID)}
}

// ShutdownCommand triggers graceful teardown of a service.
type ShutdownCommand struct {
	CommandMessage
}

func NewShutdownCommand(serviceID string) *ShutdownCommand {
	return &ShutdownCommand{CommandMessage: newCommand(CommandShutdown, serviceID)}
}

// RealtimeMetricsCommand toggles periodic publication of live metric
// summaries while the run is in flight.
type RealtimeMetricsCommand struct {
	CommandMessage
	Enabled bool `json:"enabled"`
}

func NewRealtimeMetricsCommand(serviceID string, enabled bool) *RealtimeMetricsCommand {
	return &RealtimeMetricsCommand{CommandMessage: newCommand(CommandRealtimeMetrics, serviceID), Enabled: enabled}
}

// CommandResponseStatus reports the outcome of a command.
type CommandResponseStatus string

const (
	CommandAcknowledged CommandResponseStatus = "acknowledged"
	CommandFailed       CommandResponseStatus = "failure"
)

// CommandResponse acknowledges (or fails) a command that required a response.
// command_id matches the response to its request.
type CommandResponse struct {
	ServiceMessage
	Command   CommandType           `json:"command"`
	CommandID string                `json:"command_id"`
	Status    CommandResponseStatus `json:"status"`
	Error     *ErrorDetails         `json:"error,omitempty"`
}

// AcknowledgeCommand builds the success response for a command.
func AcknowledgeCommand(cmd *CommandMessage, serviceID string) *CommandResponse {
	m := &CommandResponse{
		ServiceMessage: ServiceMessage{Base: Base{MessageType: TypeCommandResponse}, ServiceID: serviceID},
		Command:        cmd.Command,
		CommandID:      cmd.CommandID,
		Status:         CommandAcknowledged,
	}
	m.Stamp()
	return m
}

// FailCommand builds the failure response for a command.
func FailCommand(cmd *CommandMessage, serviceID string, err error) *CommandResponse {
	m := AcknowledgeCommand(cmd, serviceID)
	m.Status = CommandFailed
	m.Error = ErrorDetailsFrom(err)
	return m
}
