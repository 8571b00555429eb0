package comms

import (
	"context"
	"fmt"
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-zeromq/zmq4"
	"golang.org/x/sync/semaphore"

	"github.com/aiperf/aiperf/pkg/messages"
)

// DefaultPullConcurrency bounds in-flight handler goroutines per PullClient.
const DefaultPullConcurrency = 500

// PullClient consumes messages from one work-queue channel. Each message is
// handled by one callback goroutine; a weighted semaphore bounds in-flight
// handlers. The semaphore is acquired before the socket receive so that an
// at-capacity puller stops pulling and the proxy balances work to its peers.
type PullClient struct {
	socket  zmq4.Socket
	logger  kitlog.Logger
	channel PushChannel
	sem     *semaphore.Weighted

	mtx       sync.Mutex
	callbacks map[messages.MessageType]Handler

	wg     sync.WaitGroup
	closed chan struct{}
}

// NewPullClient connects a PULL socket to a work-queue backend. concurrency
// caps in-flight handlers; <= 0 uses DefaultPullConcurrency.
func NewPullClient(ctx context.Context, cfg *Config, channel PushChannel, concurrency int, logger kitlog.Logger) (*PullClient, error) {
	if concurrency <= 0 {
		concurrency = DefaultPullConcurrency
	}
	socket := zmq4.NewPull(ctx, socketOptions("")...)
	if err := dial(ctx, socket, cfg.PushBackend(channel)); err != nil {
		return nil, fmt.Errorf("dialing push backend %q: %w", channel, err)
	}
	return &PullClient{
		socket:    socket,
		logger:    logger,
		channel:   channel,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		callbacks: map[messages.MessageType]Handler{},
		closed:    make(chan struct{}),
	}, nil
}

// Register installs the callback for one message type. At most one callback
// per type; registering twice is a programming error.
func (p *PullClient) Register(t messages.MessageType, h Handler) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if _, ok := p.callbacks[t]; ok {
		panic(fmt.Sprintf("comms: duplicate pull callback for message type %q", t))
	}
	p.callbacks[t] = h
}

// Start runs the receive loop until the context is cancelled or the client
// is closed.
func (p *PullClient) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			// Acquire capacity before receiving so a saturated puller backs
			// off and the proxy routes to peers with free slots.
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return
			}

			m, err := p.socket.Recv()
			if err != nil {
				p.sem.Release(1)
				select {
				case <-ctx.Done():
					return
				case <-p.closed:
					return
				default:
				}
				commsErrors.WithLabelValues("pull").Inc()
				level.Warn(p.logger).Log("msg", "pull receive failed", "channel", p.channel, "err", err)
				continue
			}
			messagesReceived.WithLabelValues("pull").Inc()

			p.wg.Add(1)
			go func(payload []byte) {
				defer p.wg.Done()
				defer p.sem.Release(1)
				defer func() {
					if r := recover(); r != nil {
						level.Error(p.logger).Log("msg", "pull callback panicked", "channel", p.channel, "panic", r)
					}
				}()
				p.handle(ctx, payload)
			}(m.Bytes())
		}
	}()
}

func (p *PullClient) handle(ctx context.Context, payload []byte) {
	msg, err := messages.Unmarshal(payload)
	if err != nil {
		commsErrors.WithLabelValues("pull").Inc()
		level.Warn(p.logger).Log("msg", "dropping undecodable message", "channel", p.channel, "err", err)
		return
	}

	p.mtx.Lock()
	h, ok := p.callbacks[msg.Type()]
	p.mtx.Unlock()
	if !ok {
		commsErrors.WithLabelValues("pull").Inc()
		level.Warn(p.logger).Log("msg", "no callback for pulled message", "channel", p.channel, "type", msg.Type())
		return
	}
	h(ctx, msg)
}

// Close stops the receive loop, waits for in-flight handlers, and closes the
// socket.
func (p *PullClient) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
		close(p.closed)
	}
	err := p.socket.Close()
	p.wg.Wait()
	return err
}
