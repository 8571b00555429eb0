package messages

// CreditDropMessage authorizes one request. Pushed by the timing manager to
// the worker pool; its request_id doubles as the X-Correlation-ID header of
// the resulting HTTP request.
type CreditDropMessage struct {
	ServiceMessage
	Phase          CreditPhase `json:"phase"`
	ConversationID string      `json:"conversation_id,omitempty"`
	// CreditDropNS is the scheduled send instant (wall clock). Zero means
	// send as soon as possible.
	CreditDropNS  int64 `json:"credit_drop_ns,omitempty"`
	ShouldCancel  bool  `json:"should_cancel,omitempty"`
	CancelAfterNS int64 `json:"cancel_after_ns,omitempty"`
}

// CreditReturnMessage reports one completed credit back to the timing
// manager. Returns arrive in arbitrary order.
type CreditReturnMessage struct {
	ServiceMessage
	Phase          CreditPhase `json:"phase"`
	ConversationID string      `json:"conversation_id,omitempty"`
	CreditDropNS   int64       `json:"credit_drop_ns,omitempty"`
	// DelayedNS is how late the request went out relative to its scheduled
	// instant. Zero when the credit was sent on time or unscheduled.
	DelayedNS int64 `json:"delayed_ns,omitempty"`
	// PreInferenceNS is time spent between credit receipt and the HTTP send,
	// mostly the dataset round trip.
	PreInferenceNS int64 `json:"pre_inference_ns,omitempty"`
}

// CreditPhaseStartMessage announces a phase with its schedule bounds. Exactly
// one of TotalExpectedRequests / ExpectedDurationSec is set.
type CreditPhaseStartMessage struct {
	ServiceMessage
	Phase                 CreditPhase `json:"phase"`
	StartNS               int64       `json:"start_ns"`
	TotalExpectedRequests int         `json:"total_expected_requests,omitempty"`
	ExpectedDurationSec   float64     `json:"expected_duration_sec,omitempty"`
}

// CreditPhaseProgressMessage reports sent/completed counts periodically.
type CreditPhaseProgressMessage struct {
	ServiceMessage
	Phase     CreditPhase `json:"phase"`
	Sent      int         `json:"sent"`
	Completed int         `json:"completed"`
}

// CreditPhaseSendingCompleteMessage marks the end of credit issuing for a
// phase; in-flight credits may still be outstanding.
type CreditPhaseSendingCompleteMessage struct {
	ServiceMessage
	Phase     CreditPhase `json:"phase"`
	SentEndNS int64       `json:"sent_end_ns"`
	Sent      int         `json:"sent"`
}

// CreditPhaseCompleteMessage marks a fully drained phase.
type CreditPhaseCompleteMessage struct {
	ServiceMessage
	Phase     CreditPhase `json:"phase"`
	Completed int         `json:"completed"`
	EndNS     int64       `json:"end_ns"`
	// TimeoutTriggered is true when the phase was force-completed by the
	// grace-period deadline with credits still in flight.
	TimeoutTriggered  bool `json:"timeout_triggered,omitempty"`
	FinalRequestCount int  `json:"final_request_count"`
}

// CreditsCompleteMessage signals that every phase has finished.
type CreditsCompleteMessage struct {
	ServiceMessage
}
