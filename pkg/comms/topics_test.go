package comms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiperf/aiperf/pkg/messages"
)

func TestEncodeTopic(t *testing.T) {
	broadcast := &messages.HeartbeatMessage{}
	broadcast.MessageType = messages.TypeHeartbeat
	assert.Equal(t, "heartbeat\x00", EncodeTopic(broadcast))

	addressed := messages.NewShutdownCommand("controller")
	addressed.TargetServiceID = "worker-1234"
	assert.Equal(t, "command\x01worker-1234\x00", EncodeTopic(addressed))

	byType := messages.NewShutdownCommand("controller")
	byType.TargetServiceType = messages.ServiceWorker
	assert.Equal(t, "command\x01worker\x00", EncodeTopic(byType))
}

func TestEncodeTopicServiceIDWinsOverType(t *testing.T) {
	cmd := messages.NewShutdownCommand("controller")
	cmd.TargetServiceID = "worker-1234"
	cmd.TargetServiceType = messages.ServiceWorker
	assert.Equal(t, "command\x01worker-1234\x00", EncodeTopic(cmd))
}

// A broadcast subscription must never match an addressed topic and vice
// versa, even when one target is a prefix of another.
func TestSubscriptionPrefixIsolation(t *testing.T) {
	broadcastSub := SubscriptionTopic(messages.TypeCommand)
	workerSub := AddressedSubscriptionTopic(messages.TypeCommand, "worker-1")
	worker10Sub := AddressedSubscriptionTopic(messages.TypeCommand, "worker-10")

	broadcast := messages.NewShutdownCommand("controller")
	addressed := messages.NewShutdownCommand("controller")
	addressed.TargetServiceID = "worker-1"
	addressedLonger := messages.NewShutdownCommand("controller")
	addressedLonger.TargetServiceID = "worker-10"

	for _, tc := range []struct {
		name  string
		sub   string
		topic string
		match bool
	}{
		{"broadcast sub matches broadcast", broadcastSub, EncodeTopic(broadcast), true},
		{"broadcast sub skips addressed", broadcastSub, EncodeTopic(addressed), false},
		{"addressed sub skips broadcast", workerSub, EncodeTopic(broadcast), false},
		{"addressed sub matches own target", workerSub, EncodeTopic(addressed), true},
		{"prefix target does not leak", workerSub, EncodeTopic(addressedLonger), false},
		{"longer target sub matches", worker10Sub, EncodeTopic(addressedLonger), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.match, strings.HasPrefix(tc.topic, tc.sub))
		})
	}
}

func TestDecodeTopic(t *testing.T) {
	require.Equal(t, messages.TypeHeartbeat, DecodeTopic("heartbeat\x00"))
	require.Equal(t, messages.TypeCommand, DecodeTopic("command\x01worker-1234\x00"))
}
