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

// RouterClient serves requests on the DEALER/ROUTER pattern. Each request is
// handled on its own goroutine and answered with exactly one reply routed
// back through the requester's identity frame. Handler errors become
// ErrorMessage replies; a nil response becomes a NO_RESPONSE ErrorMessage.
type RouterClient struct {
	socket    zmq4.Socket
	logger    kitlog.Logger
	serviceID string

	mtx      sync.Mutex
	handlers map[messages.MessageType]RequestHandler

	sendMtx sync.Mutex
	wg      sync.WaitGroup
	closed  chan struct{}
}

// NewRouterClient connects a ROUTER socket to the broker's dealer backend.
func NewRouterClient(ctx context.Context, cfg *Config, serviceID string, logger kitlog.Logger) (*RouterClient, error) {
	socket := zmq4.NewRouter(ctx, socketOptions(serviceID)...)
	if err := dial(ctx, socket, cfg.DealerBackend()); err != nil {
		return nil, fmt.Errorf("dialing dealer backend: %w", err)
	}
	return &RouterClient{
		socket:    socket,
		logger:    logger,
		serviceID: serviceID,
		handlers:  map[messages.MessageType]RequestHandler{},
		closed:    make(chan struct{}),
	}, nil
}

// RegisterHandler installs the handler for one request type. At most one
// handler per type; registering twice is a programming error.
func (r *RouterClient) RegisterHandler(t messages.MessageType, h RequestHandler) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.handlers[t]; ok {
		panic(fmt.Sprintf("comms: duplicate request handler for message type %q", t))
	}
	r.handlers[t] = h
}

// Start runs the serve loop until the context is cancelled or the client is
// closed.
func (r *RouterClient) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			m, err := r.socket.Recv()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-r.closed:
					return
				default:
				}
				commsErrors.WithLabelValues("router").Inc()
				level.Warn(r.logger).Log("msg", "router receive failed", "err", err)
				continue
			}
			if len(m.Frames) < 2 {
				commsErrors.WithLabelValues("router").Inc()
				level.Warn(r.logger).Log("msg", "router message missing payload frame", "frames", len(m.Frames))
				continue
			}
			messagesReceived.WithLabelValues("router").Inc()

			identity := m.Frames[0]
			payload := m.Frames[len(m.Frames)-1]
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				defer func() {
					if rec := recover(); rec != nil {
						level.Error(r.logger).Log("msg", "request handler panicked", "panic", rec)
					}
				}()
				r.serve(ctx, identity, payload)
			}()
		}
	}()
}

func (r *RouterClient) serve(ctx context.Context, identity, payload []byte) {
	req, err := messages.Unmarshal(payload)
	if err != nil {
		commsErrors.WithLabelValues("router").Inc()
		level.Warn(r.logger).Log("msg", "dropping undecodable request", "err", err)
		return
	}

	r.mtx.Lock()
	h, ok := r.handlers[req.Type()]
	r.mtx.Unlock()

	var resp messages.Message
	switch {
	case !ok:
		resp = messages.NewErrorMessage(r.serviceID, req.CorrelationID(),
			fmt.Errorf("no handler for request type %q", req.Type()))
	default:
		out, err := h(ctx, req)
		switch {
		case err != nil:
			resp = messages.NewErrorMessage(r.serviceID, req.CorrelationID(), err)
		case out == nil:
			resp = messages.NewErrorMessage(r.serviceID, req.CorrelationID(), messages.ErrNoResponse)
		default:
			out.SetCorrelationID(req.CorrelationID())
			resp = out
		}
	}

	r.reply(identity, resp)
}

func (r *RouterClient) reply(identity []byte, resp messages.Message) {
	payload, err := messages.Marshal(resp)
	if err != nil {
		commsErrors.WithLabelValues("router").Inc()
		level.Error(r.logger).Log("msg", "encoding reply failed", "type", resp.Type(), "err", err)
		return
	}

	// zmq4 router sends are not safe for concurrent use.
	r.sendMtx.Lock()
	err = r.socket.Send(zmq4.NewMsgFrom(identity, payload))
	r.sendMtx.Unlock()
	if err != nil {
		commsErrors.WithLabelValues("router").Inc()
		level.Warn(r.logger).Log("msg", "sending reply failed", "type", resp.Type(), "err", err)
		return
	}
	messagesSent.WithLabelValues("router").Inc()
}

// Close stops the serve loop, waits for in-flight handlers, and closes the
// socket.
func (r *RouterClient) Close() error {
	select {
	case <-r.closed:
		return nil
	default:
		close(r.closed)
	}
	err := r.socket.Close()
	r.wg.Wait()
	return err
}
