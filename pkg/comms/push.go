package comms

import (
	"context"
	"fmt"

	kitlog "github.com/go-kit/log"
	"github.com/go-zeromq/zmq4"

	"github.com/aiperf/aiperf/pkg/messages"
)

// PushClient produces messages onto one work-queue channel. The broker's
// proxy load-balances each message to exactly one puller.
type PushClient struct {
	socket  zmq4.Socket
	logger  kitlog.Logger
	channel PushChannel
	closed  chan struct{}
}

// NewPushClient connects a PUSH socket to a work-queue frontend.
func NewPushClient(ctx context.Context, cfg *Config, channel PushChannel, logger kitlog.Logger) (*PushClient, error) {
	socket := zmq4.NewPush(ctx, socketOptions("")...)
	if err := dial(ctx, socket, cfg.PushFrontend(channel)); err != nil {
		return nil, fmt.Errorf("dialing push frontend %q: %w", channel, err)
	}
	return &PushClient{socket: socket, logger: logger, channel: channel, closed: make(chan struct{})}, nil
}

// Push sends one message into the queue.
func (p *PushClient) Push(msg messages.Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	payload, err := messages.Marshal(msg)
	if err != nil {
		commsErrors.WithLabelValues("push").Inc()
		return fmt.Errorf("encoding %q message: %w", msg.Type(), err)
	}
	if err := p.socket.Send(zmq4.NewMsg(payload)); err != nil {
		commsErrors.WithLabelValues("push").Inc()
		return fmt.Errorf("pushing %q message to %q: %w", msg.Type(), p.channel, err)
	}
	messagesSent.WithLabelValues("push").Inc()
	return nil
}

// Close closes the socket without lingering.
func (p *PushClient) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
		close(p.closed)
	}
	return p.socket.Close()
}
