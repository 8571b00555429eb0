// Package comms is the ZeroMQ message fabric coupling aiperf services. All
// services connect to proxy endpoints hosted by the broker; no service binds
// and no two services talk directly.
//
// Four interaction patterns are offered: fan-out PUB/SUB, load-balanced
// PUSH/PULL, and async request/response over DEALER/ROUTER (one client type
// per side). Payloads are UTF-8 JSON envelopes from pkg/messages.
package comms

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-zeromq/zmq4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aiperf/aiperf/pkg/messages"
)

// Handler consumes one message. Handlers run as goroutines; a handler that
// blocks does not stall the receive loop.
type Handler func(ctx context.Context, msg messages.Message)

// RequestHandler produces the response for one request. Returning (nil, nil)
// yields a NO_RESPONSE error message to the requester.
type RequestHandler func(ctx context.Context, msg messages.Message) (messages.Message, error)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("comms: client closed")

// ErrRequestTimeout is returned when a synchronous request's deadline lapses.
var ErrRequestTimeout = errors.New("comms: request timed out")

// DefaultRequestTimeout bounds synchronous dealer requests.
const DefaultRequestTimeout = 5 * time.Second

var (
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aiperf",
		Name:      "comms_messages_sent_total",
		Help:      "Messages sent to the bus per client kind.",
	}, []string{"client"})
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aiperf",
		Name:      "comms_messages_received_total",
		Help:      "Messages received from the bus per client kind.",
	}, []string{"client"})
	commsErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aiperf",
		Name:      "comms_errors_total",
		Help:      "Bus send/receive/decode errors per client kind.",
	}, []string{"client"})
)

// dial connects a socket to a proxy endpoint, retrying with backoff so that
// services may come up before the broker.
func dial(ctx context.Context, socket zmq4.Socket, endpoint string) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 20), ctx)
	return backoff.Retry(func() error {
		return socket.Dial(endpoint)
	}, bo)
}

func socketOptions(id string) []zmq4.Option {
	opts := []zmq4.Option{
		zmq4.WithAutomaticReconnect(true),
		zmq4.WithDialerRetry(250 * time.Millisecond),
	}
	if id != "" {
		opts = append(opts, zmq4.WithID(zmq4.SocketIdentity(id)))
	}
	return opts
}
