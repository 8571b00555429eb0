package comms

import (
	"context"
	"fmt"
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-zeromq/zmq4"

	"github.com/aiperf/aiperf/pkg/messages"
)

// SubClient receives pub/sub messages and dispatches them to registered
// callbacks. A background loop deserializes each message and invokes every
// callback for its topic concurrently; callback panics or errors never stop
// the loop.
type SubClient struct {
	socket zmq4.Socket
	logger kitlog.Logger

	mtx       sync.Mutex
	callbacks map[messages.MessageType][]Handler

	wg     sync.WaitGroup
	closed chan struct{}
}

// NewSubClient connects a SUB socket to the broker's pub/sub backend.
func NewSubClient(ctx context.Context, cfg *Config, logger kitlog.Logger) (*SubClient, error) {
	socket := zmq4.NewSub(ctx, socketOptions("")...)
	if err := dial(ctx, socket, cfg.PubSubBackend()); err != nil {
		return nil, fmt.Errorf("dialing pub/sub backend: %w", err)
	}
	return &SubClient{
		socket:    socket,
		logger:    logger,
		callbacks: map[messages.MessageType][]Handler{},
		closed:    make(chan struct{}),
	}, nil
}

// Subscribe registers a callback for broadcast messages of one type. Multiple
// callbacks per type are allowed; each receives every message.
func (s *SubClient) Subscribe(t messages.MessageType, h Handler) error {
	return s.subscribe(t, SubscriptionTopic(t), h)
}

// SubscribeAddressed registers a callback for messages of one type addressed
// to the given target (service id or service type). Subscribers that accept
// both broadcast and addressed forms must subscribe to both.
func (s *SubClient) SubscribeAddressed(t messages.MessageType, target string, h Handler) error {
	return s.subscribe(t, AddressedSubscriptionTopic(t, target), h)
}

// SubscribeAll registers one callback per type from the given map.
func (s *SubClient) SubscribeAll(handlers map[messages.MessageType]Handler) error {
	for t, h := range handlers {
		if err := s.Subscribe(t, h); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubClient) subscribe(t messages.MessageType, topic string, h Handler) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.socket.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		return fmt.Errorf("subscribing to topic %q: %w", topic, err)
	}
	s.callbacks[t] = append(s.callbacks[t], h)
	return nil
}

// Start runs the receive loop until the context is cancelled or the client
// is closed.
func (s *SubClient) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			m, err := s.socket.Recv()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-s.closed:
					return
				default:
				}
				commsErrors.WithLabelValues("sub").Inc()
				level.Warn(s.logger).Log("msg", "sub receive failed", "err", err)
				continue
			}
			if len(m.Frames) < 2 {
				commsErrors.WithLabelValues("sub").Inc()
				level.Warn(s.logger).Log("msg", "sub message missing payload frame", "frames", len(m.Frames))
				continue
			}
			messagesReceived.WithLabelValues("sub").Inc()
			s.dispatch(ctx, string(m.Frames[0]), m.Frames[1])
		}
	}()
}

func (s *SubClient) dispatch(ctx context.Context, topic string, payload []byte) {
	msg, err := messages.Unmarshal(payload)
	if err != nil {
		commsErrors.WithLabelValues("sub").Inc()
		level.Warn(s.logger).Log("msg", "dropping undecodable message", "topic", topic, "err", err)
		return
	}

	t := DecodeTopic(topic)
	s.mtx.Lock()
	handlers := s.callbacks[t]
	s.mtx.Unlock()

	for _, h := range handlers {
		h := h
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					level.Error(s.logger).Log("msg", "subscriber callback panicked", "type", t, "panic", r)
				}
			}()
			h(ctx, msg)
		}()
	}
}

// Close stops the receive loop and closes the socket.
func (s *SubClient) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	err := s.socket.Close()
	s.wg.Wait()
	return err
}
