package messages

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// The registries are filled at init time and read-only afterwards, so lookups
// on the receive path need no locking.
var (
	constructors        = map[MessageType]func() Message{}
	commandConstructors = map[CommandType]func() Message{}
)

// Register installs a constructor for a message type. Called from init
// functions; duplicate registration is a programming error and panics.
func Register(t MessageType, fn func() Message) {
	if _, ok := constructors[t]; ok {
		panic(fmt.Sprintf("message type %q registered twice", t))
	}
	constructors[t] = fn
}

// RegisterCommand installs a constructor for a command message. Command
// messages all share MessageType "command" and route on the nested
// discriminator.
func RegisterCommand(c CommandType, fn func() Message) {
	if _, ok := commandConstructors[c]; ok {
		panic(fmt.Sprintf("command type %q registered twice", c))
	}
	commandConstructors[c] = fn
}

type envelope struct {
	MessageType MessageType `json:"message_type"`
	Command     CommandType `json:"command"`
}

// Unmarshal reads the envelope, resolves the concrete type from the registry
// and validates the full payload into it.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("reading message envelope: %w", err)
	}

	var fn func() Message
	if env.MessageType == TypeCommand && env.Command != "" {
		fn = commandConstructors[env.Command]
		if fn == nil {
			return nil, fmt.Errorf("unknown command type %q", env.Command)
		}
	} else {
		fn = constructors[env.MessageType]
		if fn == nil {
			return nil, fmt.Errorf("unknown message type %q", env.MessageType)
		}
	}

	msg := fn()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decoding %q message: %w", env.MessageType, err)
	}
	return msg, nil
}

// Marshal encodes a message as UTF-8 JSON, the only wire format.
func Marshal(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func init() {
	Register(TypeRegistration, func() Message { return &RegistrationMessage{} })
	Register(TypeHeartbeat, func() Message { return &HeartbeatMessage{} })
	Register(TypeStatus, func() Message { return &StatusMessage{} })
	Register(TypeCommandResponse, func() Message { return &CommandResponse{} })
	Register(TypeError, func() Message { return &ErrorMessage{} })

	Register(TypeCreditDrop, func() Message { return &CreditDropMessage{} })
	Register(TypeCreditReturn, func() Message { return &CreditReturnMessage{} })
	Register(TypeCreditsComplete, func() Message { return &CreditsCompleteMessage{} })
	Register(TypeCreditPhaseStart, func() Message { return &CreditPhaseStartMessage{} })
	Register(TypeCreditPhaseProgress, func() Message { return &CreditPhaseProgressMessage{} })
	Register(TypeCreditPhaseSendingComplete, func() Message { return &CreditPhaseSendingCompleteMessage{} })
	Register(TypeCreditPhaseComplete, func() Message { return &CreditPhaseCompleteMessage{} })

	Register(TypeConversationRequest, func() Message { return &ConversationRequestMessage{} })
	Register(TypeConversationResponse, func() Message { return &ConversationResponseMessage{} })
	Register(TypeDatasetTimingRequest, func() Message { return &DatasetTimingRequestMessage{} })
	Register(TypeDatasetTimingResponse, func() Message { return &DatasetTimingResponseMessage{} })
	Register(TypeDatasetConfigured, func() Message { return &DatasetConfiguredMessage{} })

	Register(TypeInferenceResults, func() Message { return &InferenceResultsMessage{} })
	Register(TypeMetricRecords, func() Message { return &MetricRecordsMessage{} })
	Register(TypeProcessingStats, func() Message { return &ProcessingStatsMessage{} })
	Register(TypeAllRecordsReceived, func() Message { return &AllRecordsReceivedMessage{} })
	Register(TypeProcessRecordsResult, func() Message { return &ProcessRecordsResultMessage{} })
	Register(TypeWorkerHealth, func() Message { return &WorkerHealthMessage{} })

	Register(TypeTelemetryRecords, func() Message { return &TelemetryRecordsMessage{} })
	Register(TypeTelemetryStatus, func() Message { return &TelemetryStatusMessage{} })

	// Commands share MessageType "command"; they register under their nested
	// discriminator instead.
	Register(TypeCommand, func() Message { return &CommandMessage{} })
	RegisterCommand(CommandProfileConfigure, func() Message { return &ProfileConfigureCommand{} })
	RegisterCommand(CommandProfileStart, func() Message { return &ProfileStartCommand{} })
	RegisterCommand(CommandProfileCancel, func() Message { return &ProfileCancelCommand{} })
	RegisterCommand(CommandProcessRecords, func() Message { return &ProcessRecordsCommand{} })
	RegisterCommand(CommandShutdown, func() Message { return &ShutdownCommand{} })
	RegisterCommand(CommandRealtimeMetrics, func() Message { return &RealtimeMetricsCommand{} })
}
