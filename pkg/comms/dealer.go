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

// DealerClient issues requests over the DEALER/ROUTER pattern. Responses are
// correlated to requests by request_id; a background loop resolves pending
// requests as replies arrive.
type DealerClient struct {
	socket zmq4.Socket
	logger kitlog.Logger

	mtx     sync.Mutex
	pending map[string]chan messages.Message

	wg     sync.WaitGroup
	closed chan struct{}
}

// NewDealerClient connects a DEALER socket to the broker's dealer frontend.
// id is the socket identity, normally the service id.
func NewDealerClient(ctx context.Context, cfg *Config, id string, logger kitlog.Logger) (*DealerClient, error) {
	socket := zmq4.NewDealer(ctx, socketOptions(id)...)
	if err := dial(ctx, socket, cfg.DealerFrontend()); err != nil {
		return nil, fmt.Errorf("dialing dealer frontend: %w", err)
	}
	return &DealerClient{
		socket:  socket,
		logger:  logger,
		pending: map[string]chan messages.Message{},
		closed:  make(chan struct{}),
	}, nil
}

// Start runs the response loop until the context is cancelled or the client
// is closed.
func (d *DealerClient) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			m, err := d.socket.Recv()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-d.closed:
					return
				default:
				}
				commsErrors.WithLabelValues("dealer").Inc()
				level.Warn(d.logger).Log("msg", "dealer receive failed", "err", err)
				continue
			}
			messagesReceived.WithLabelValues("dealer").Inc()
			d.resolve(m.Bytes())
		}
	}()
}

func (d *DealerClient) resolve(payload []byte) {
	msg, err := messages.Unmarshal(payload)
	if err != nil {
		commsErrors.WithLabelValues("dealer").Inc()
		level.Warn(d.logger).Log("msg", "dropping undecodable response", "err", err)
		return
	}

	d.mtx.Lock()
	ch, ok := d.pending[msg.CorrelationID()]
	if ok {
		delete(d.pending, msg.CorrelationID())
	}
	d.mtx.Unlock()

	if !ok {
		level.Debug(d.logger).Log("msg", "response with no pending request", "type", msg.Type(), "request_id", msg.CorrelationID())
		return
	}
	ch <- msg
}

// RequestAsync sends a request and returns a channel that will yield exactly
// one response. The request is stamped with a request_id if it has none.
func (d *DealerClient) RequestAsync(msg messages.Message) (<-chan messages.Message, error) {
	select {
	case <-d.closed:
		return nil, ErrClosed
	default:
	}

	if stamper, ok := msg.(interface{ Stamp() }); ok {
		stamper.Stamp()
	}
	payload, err := messages.Marshal(msg)
	if err != nil {
		commsErrors.WithLabelValues("dealer").Inc()
		return nil, fmt.Errorf("encoding %q request: %w", msg.Type(), err)
	}

	ch := make(chan messages.Message, 1)
	d.mtx.Lock()
	d.pending[msg.CorrelationID()] = ch
	d.mtx.Unlock()

	if err := d.socket.Send(zmq4.NewMsg(payload)); err != nil {
		d.mtx.Lock()
		delete(d.pending, msg.CorrelationID())
		d.mtx.Unlock()
		commsErrors.WithLabelValues("dealer").Inc()
		return nil, fmt.Errorf("sending %q request: %w", msg.Type(), err)
	}
	messagesSent.WithLabelValues("dealer").Inc()
	return ch, nil
}

// Request sends a request and blocks for its response. The context bounds the
// wait; callers without a deadline should wrap in DefaultRequestTimeout. An
// ErrorMessage response is surfaced as an error.
func (d *DealerClient) Request(ctx context.Context, msg messages.Message) (messages.Message, error) {
	ch, err := d.RequestAsync(msg)
	if err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		if em, ok := resp.(*messages.ErrorMessage); ok {
			return nil, fmt.Errorf("request %q failed: %w", msg.Type(), em.Error)
		}
		return resp, nil
	case <-ctx.Done():
		d.mtx.Lock()
		delete(d.pending, msg.CorrelationID())
		d.mtx.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("request %q: %w", msg.Type(), ErrRequestTimeout)
		}
		return nil, ctx.Err()
	case <-d.closed:
		return nil, ErrClosed
	}
}

// Close stops the response loop and closes the socket. Pending requests are
// abandoned.
func (d *DealerClient) Close() error {
	select {
	case <-d.closed:
		return nil
	default:
		close(d.closed)
	}
	err := d.socket.Close()
	d.wg.Wait()
	return err
}
