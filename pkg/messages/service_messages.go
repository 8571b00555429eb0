package messages

// StatusFields are shared by the registration, heartbeat and status messages
// a service sends to the controller.
type StatusFields struct {
	State       ServiceState `json:"state"`
	ServiceType ServiceType  `json:"service_type"`
}

// RegistrationMessage announces a service to the controller's registry.
type RegistrationMessage struct {
	ServiceMessage
	StatusFields
}

// NewRegistrationMessage reports a service that has reached RUNNING.
func NewRegistrationMessage(serviceID string, serviceType ServiceType) *RegistrationMessage {
	m := &RegistrationMessage{
		ServiceMessage: ServiceMessage{Base: Base{MessageType: TypeRegistration}, ServiceID: serviceID},
		StatusFields:   StatusFields{State: StateReady, ServiceType: serviceType},
	}
	m.Stamp()
	return m
}

// HeartbeatMessage keeps a service's registry entry fresh.
type HeartbeatMessage struct {
	ServiceMessage
	StatusFields
}

// NewHeartbeatMessage reports liveness of a running service.
func NewHeartbeatMessage(serviceID string, serviceType ServiceType) *HeartbeatMessage {
	m := &HeartbeatMessage{
		ServiceMessage: ServiceMessage{Base: Base{MessageType: TypeHeartbeat}, ServiceID: serviceID},
		StatusFields:   StatusFields{State: StateRunning, ServiceType: serviceType},
	}
	m.Stamp()
	return m
}

// StatusMessage reports a lifecycle state transition.
type StatusMessage struct {
	ServiceMessage
	StatusFields
}

// NewStatusMessage reports the current state of a service.
func NewStatusMessage(serviceID string, serviceType ServiceType, state ServiceState) *StatusMessage {
	m := &StatusMessage{
		ServiceMessage: ServiceMessage{Base: Base{MessageType: TypeStatus}, ServiceID: serviceID},
		StatusFields:   StatusFields{State: state, ServiceType: serviceType},
	}
	m.Stamp()
	return m
}
