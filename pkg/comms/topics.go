package comms

import (
	"strings"

	"github.com/aiperf/aiperf/pkg/messages"
)

// Topic sentinels. END terminates every topic; DELIM separates the message
// type from an address qualifier. They are distinct single bytes so that a
// prefix subscription to "<type><END>" can never match an addressed topic
// "<type><DELIM>...", and vice versa.
const (
	topicEnd   = "\x00"
	topicDelim = "\x01"
)

// EncodeTopic builds the pub topic for a message: "<type><END>" for
// broadcast, "<type><DELIM><target><END>" for addressed messages. The target
// service id wins over the service type when both are set.
func EncodeTopic(msg messages.Message) string {
	if addressed, ok := msg.(messages.Addressed); ok {
		id, serviceType := addressed.Target()
		if id != "" {
			return string(msg.Type()) + topicDelim + id + topicEnd
		}
		if serviceType != "" {
			return string(msg.Type()) + topicDelim + string(serviceType) + topicEnd
		}
	}
	return string(msg.Type()) + topicEnd
}

// SubscriptionTopic is the prefix a subscriber uses to receive broadcast
// messages of one type.
func SubscriptionTopic(t messages.MessageType) string {
	return string(t) + topicEnd
}

// AddressedSubscriptionTopic is the prefix for messages of one type addressed
// to the given target (a service id or service type).
func AddressedSubscriptionTopic(t messages.MessageType, target string) string {
	return string(t) + topicDelim + target + topicEnd
}

// DecodeTopic strips the sentinels and returns the message type portion of a
// received topic.
func DecodeTopic(topic string) messages.MessageType {
	topic = strings.TrimSuffix(topic, topicEnd)
	if i := strings.Index(topic, topicDelim); i >= 0 {
		topic = topic[:i]
	}
	return messages.MessageType(topic)
}
