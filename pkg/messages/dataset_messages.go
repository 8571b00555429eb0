package messages

import "github.com/aiperf/aiperf/pkg/records"

// ConversationRequestMessage asks the dataset manager for a conversation
// turn. With an empty ConversationID the dataset picks one by its own
// selection strategy.
type ConversationRequestMessage struct {
	ServiceMessage
	ConversationID string      `json:"conversation_id,omitempty"`
	TurnIndex      int         `json:"turn_index,omitempty"`
	CreditPhase    CreditPhase `json:"credit_phase,omitempty"`
}

// ConversationResponseMessage returns the resolved conversation.
type ConversationResponseMessage struct {
	ServiceMessage
	Conversation records.Conversation `json:"conversation"`
}

// TimingEntry is one scheduled instant of a fixed-schedule dataset.
type TimingEntry struct {
	TimestampMS    int64  `json:"timestamp"`
	ConversationID string `json:"conversation_id"`
}

// DatasetTimingRequestMessage asks the dataset manager for the fixed
// schedule, if the dataset provides one.
type DatasetTimingRequestMessage struct {
	ServiceMessage
}

// DatasetTimingResponseMessage returns the dataset's schedule. Empty when
// the dataset is not schedule-driven.
type DatasetTimingResponseMessage struct {
	ServiceMessage
	Entries []TimingEntry `json:"entries,omitempty"`
}

// DatasetConfiguredMessage announces that the dataset manager has finished
// loading and knows its conversation population.
type DatasetConfiguredMessage struct {
	ServiceMessage
	ConversationCount int `json:"conversation_count"`
}
