package messages

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aiperf/aiperf/pkg/records"
)

// Message is any payload that can cross the bus. Concrete messages embed Base
// (or ServiceMessage) and register a constructor in this package's registry.
type Message interface {
	Type() MessageType
	// CorrelationID returns the request_id used to match responses to
	// requests on the DEALER/ROUTER pattern. Empty if unset.
	CorrelationID() string
	SetCorrelationID(id string)
}

// Addressed is implemented by messages routed to a specific service instead
// of broadcast. The bus appends the target to the pub topic.
type Addressed interface {
	Target() (serviceID string, serviceType ServiceType)
}

// ErrorDetails aliases the record data model's wire error form.
type ErrorDetails = records.ErrorDetails

// ErrorDetailsFrom captures an error for the wire.
var ErrorDetailsFrom = records.ErrorDetailsFrom

// Base carries the envelope fields common to every message.
type Base struct {
	MessageType MessageType `json:"message_type"`
	RequestNS   int64       `json:"request_ns,omitempty"`
	RequestID   string      `json:"request_id,omitempty"`
}

func (b *Base) Type() MessageType          { return b.MessageType }
func (b *Base) CorrelationID() string      { return b.RequestID }
func (b *Base) SetCorrelationID(id string) { b.RequestID = id }

// Stamp fills in the request id and wall-clock timestamp if unset.
func (b *Base) Stamp() {
	if b.RequestID == "" {
		b.RequestID = uuid.NewString()
	}
	if b.RequestNS == 0 {
		b.RequestNS = time.Now().UnixNano()
	}
}

// ServiceMessage is a message originating from a service.
type ServiceMessage struct {
	Base
	ServiceID string `json:"service_id"`
}

// ErrNoResponse is sent back by a router responder whose handler produced no
// reply for a request that required one.
var ErrNoResponse = errors.New("handler returned no response")

// NoResponseType is the error type carried when a handler returns nil.
const NoResponseType = "NO_RESPONSE"

// ErrorMessage reports an error over the bus.
type ErrorMessage struct {
	ServiceMessage
	Error *ErrorDetails `json:"error"`
}

// NewErrorMessage builds an error message correlated to the given request.
func NewErrorMessage(serviceID, requestID string, err error) *ErrorMessage {
	details := ErrorDetailsFrom(err)
	if errors.Is(err, ErrNoResponse) {
		details = &ErrorDetails{Type: NoResponseType, Message: err.Error()}
	}
	return &ErrorMessage{
		ServiceMessage: ServiceMessage{
			Base:      Base{MessageType: TypeError, RequestID: requestID},
			ServiceID: serviceID,
		},
		Error: details,
	}
}
