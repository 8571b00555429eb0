package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalRoundTrip(t *testing.T) {
	drop := &CreditDropMessage{
		ServiceMessage: ServiceMessage{Base: Base{MessageType: TypeCreditDrop}, ServiceID: "timing_manager-1"},
		Phase:          PhaseProfiling,
		ConversationID: "session-0001",
		CreditDropNS:   1234567890,
	}
	drop.Stamp()

	buf, err := Marshal(drop)
	require.NoError(t, err)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	back, ok := got.(*CreditDropMessage)
	require.True(t, ok, "expected *CreditDropMessage, got %T", got)
	assert.Equal(t, drop, back)
}

func TestUnmarshalRoutesCommandOnNestedDiscriminator(t *testing.T) {
	cmd := NewProfileConfigureCommand("system_controller")
	buf, err := Marshal(cmd)
	require.NoError(t, err)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	back, ok := got.(*ProfileConfigureCommand)
	require.True(t, ok, "expected *ProfileConfigureCommand, got %T", got)
	assert.Equal(t, CommandProfileConfigure, back.Command)
	assert.Equal(t, cmd.CommandID, back.CommandID)
	assert.True(t, back.RequireResponse)
}

func TestUnmarshalStampedFields(t *testing.T) {
	reg := NewRegistrationMessage("worker-0001", ServiceWorker)
	require.NotEmpty(t, reg.RequestID)
	require.NotZero(t, reg.RequestNS)

	buf, err := Marshal(reg)
	require.NoError(t, err)
	got, err := Unmarshal(buf)
	require.NoError(t, err)

	back := got.(*RegistrationMessage)
	assert.Equal(t, reg.RequestID, back.CorrelationID())
	assert.Equal(t, StateReady, back.State)
	assert.Equal(t, ServiceWorker, back.ServiceType)
}

func TestUnmarshalErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		payload string
	}{
		{"unknown message type", `{"message_type":"no_such_type"}`},
		{"unknown command type", `{"message_type":"command","command":"no_such_command"}`},
		{"empty message type", `{}`},
		{"not json", `{`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.payload))
			require.Error(t, err)
		})
	}
}

func TestStampIsIdempotent(t *testing.T) {
	b := Base{MessageType: TypeHeartbeat}
	b.Stamp()
	id, ns := b.RequestID, b.RequestNS
	b.Stamp()
	assert.Equal(t, id, b.RequestID)
	assert.Equal(t, ns, b.RequestNS)
}
