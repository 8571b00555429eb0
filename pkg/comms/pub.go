package comms

import (
	"context"
	"fmt"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-zeromq/zmq4"

	"github.com/aiperf/aiperf/pkg/messages"
)

// PubClient publishes messages to the bus. Publishing is fire and forget: no
// confirmation is given, and publishing into a shut-down bus is swallowed.
type PubClient struct {
	socket zmq4.Socket
	logger kitlog.Logger
	closed chan struct{}
}

// NewPubClient connects a PUB socket to the broker's pub/sub frontend.
func NewPubClient(ctx context.Context, cfg *Config, logger kitlog.Logger) (*PubClient, error) {
	socket := zmq4.NewPub(ctx, socketOptions("")...)
	if err := dial(ctx, socket, cfg.PubSubFrontend()); err != nil {
		return nil, fmt.Errorf("dialing pub/sub frontend: %w", err)
	}
	return &PubClient{socket: socket, logger: logger, closed: make(chan struct{})}, nil
}

// Publish sends a message under its type topic. Non-blocking from the
// caller's perspective; errors after shutdown are swallowed.
func (p *PubClient) Publish(msg messages.Message) error {
	select {
	case <-p.closed:
		return nil
	default:
	}

	payload, err := messages.Marshal(msg)
	if err != nil {
		commsErrors.WithLabelValues("pub").Inc()
		return fmt.Errorf("encoding %q message: %w", msg.Type(), err)
	}

	topic := EncodeTopic(msg)
	if err := p.socket.Send(zmq4.NewMsgFrom([]byte(topic), payload)); err != nil {
		select {
		case <-p.closed:
			return nil
		default:
		}
		commsErrors.WithLabelValues("pub").Inc()
		level.Debug(p.logger).Log("msg", "publish failed", "type", msg.Type(), "err", err)
		return fmt.Errorf("publishing %q message: %w", msg.Type(), err)
	}
	messagesSent.WithLabelValues("pub").Inc()
	return nil
}

// Close closes the socket without lingering.
func (p *PubClient) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
		close(p.closed)
	}
	return p.socket.Close()
}
