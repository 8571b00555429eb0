package comms

import (
	"context"
	"fmt"
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-zeromq/zmq4"
	"go.uber.org/atomic"
)

// Proxy pumps messages between two bound sockets, one goroutine per
// direction. It is the building block for every broker proxy: XSUB/XPUB for
// pub/sub (subscription frames flow upstream), ROUTER/DEALER for
// request/response, and PULL/PUSH per work queue.
type Proxy struct {
	name     string
	frontend zmq4.Socket
	backend  zmq4.Socket
	logger   kitlog.Logger

	forwarded atomic.Int64

	wg     sync.WaitGroup
	closed chan struct{}
}

func newProxy(name string, frontend, backend zmq4.Socket, frontendEndpoint, backendEndpoint string, logger kitlog.Logger) (*Proxy, error) {
	if err := frontend.Listen(frontendEndpoint); err != nil {
		return nil, fmt.Errorf("binding %s frontend %q: %w", name, frontendEndpoint, err)
	}
	if err := backend.Listen(backendEndpoint); err != nil {
		frontend.Close()
		return nil, fmt.Errorf("binding %s backend %q: %w", name, backendEndpoint, err)
	}
	return &Proxy{
		name:     name,
		frontend: frontend,
		backend:  backend,
		logger:   logger,
		closed:   make(chan struct{}),
	}, nil
}

// NewPubSubProxy binds the XSUB frontend (publishers connect) and XPUB
// backend (subscribers connect).
func NewPubSubProxy(ctx context.Context, cfg *Config, logger kitlog.Logger) (*Proxy, error) {
	return newProxy("pubsub",
		zmq4.NewXSub(ctx), zmq4.NewXPub(ctx),
		cfg.PubSubFrontend(), cfg.PubSubBackend(), logger)
}

// NewDealerRouterProxy binds the ROUTER frontend (requesters connect as
// DEALER) and DEALER backend (responders connect as ROUTER).
func NewDealerRouterProxy(ctx context.Context, cfg *Config, logger kitlog.Logger) (*Proxy, error) {
	return newProxy("dealer",
		zmq4.NewRouter(ctx), zmq4.NewDealer(ctx),
		cfg.DealerFrontend(), cfg.DealerBackend(), logger)
}

// NewPushPullProxy binds the PULL frontend (producers connect as PUSH) and
// PUSH backend (consumers connect as PULL) for one work queue.
func NewPushPullProxy(ctx context.Context, cfg *Config, channel PushChannel, logger kitlog.Logger) (*Proxy, error) {
	return newProxy("push_"+string(channel),
		zmq4.NewPull(ctx), zmq4.NewPush(ctx),
		cfg.PushFrontend(channel), cfg.PushBackend(channel), logger)
}

// Start runs both pump directions until the context is cancelled or the
// proxy is closed.
func (p *Proxy) Start(ctx context.Context) {
	p.pump(ctx, p.frontend, p.backend, "frontend")
	p.pump(ctx, p.backend, p.frontend, "backend")
}

func (p *Proxy) pump(ctx context.Context, from, to zmq4.Socket, side string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			m, err := from.Recv()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-p.closed:
					return
				default:
				}
				commsErrors.WithLabelValues("proxy").Inc()
				level.Warn(p.logger).Log("msg", "proxy receive failed", "proxy", p.name, "side", side, "err", err)
				continue
			}
			if err := to.Send(m); err != nil {
				select {
				case <-ctx.Done():
					return
				case <-p.closed:
					return
				default:
				}
				commsErrors.WithLabelValues("proxy").Inc()
				level.Warn(p.logger).Log("msg", "proxy send failed", "proxy", p.name, "side", side, "err", err)
				continue
			}
			p.forwarded.Inc()
		}
	}()
}

// Close closes both sockets and waits for the pumps to stop.
func (p *Proxy) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
		close(p.closed)
	}
	ferr := p.frontend.Close()
	berr := p.backend.Close()
	p.wg.Wait()
	level.Debug(p.logger).Log("msg", "proxy stopped", "proxy", p.name, "forwarded", p.forwarded.Load())
	if ferr != nil {
		return ferr
	}
	return berr
}
