// Package broker hosts the message fabric's proxies. The broker is the only
// process that binds bus endpoints; every other service connects.
package broker

import (
	"context"
	"fmt"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"

	"github.com/aiperf/aiperf/pkg/comms"
)

// Broker runs the pub/sub, request/response and work-queue proxies.
type Broker struct {
	services.Service

	cfg    *comms.Config
	logger kitlog.Logger

	proxies []*comms.Proxy
	cancel  context.CancelFunc
}

// New builds the broker service.
func New(cfg *comms.Config, logger kitlog.Logger) *Broker {
	b := &Broker{
		cfg:    cfg,
		logger: kitlog.With(logger, "service", "broker"),
	}
	b.Service = services.NewBasicService(b.starting, b.running, b.stopping)
	return b
}

func (b *Broker) starting(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	pubsub, err := comms.NewPubSubProxy(ctx, b.cfg, b.logger)
	if err != nil {
		return fmt.Errorf("starting pub/sub proxy: %w", err)
	}
	b.proxies = append(b.proxies, pubsub)

	dealer, err := comms.NewDealerRouterProxy(ctx, b.cfg, b.logger)
	if err != nil {
		return fmt.Errorf("starting dealer/router proxy: %w", err)
	}
	b.proxies = append(b.proxies, dealer)

	for _, channel := range comms.PushChannels {
		push, err := comms.NewPushPullProxy(ctx, b.cfg, channel, b.logger)
		if err != nil {
			return fmt.Errorf("starting %s work-queue proxy: %w", channel, err)
		}
		b.proxies = append(b.proxies, push)
	}

	for _, proxy := range b.proxies {
		proxy.Start(ctx)
	}
	level.Info(b.logger).Log("msg", "broker proxies bound", "protocol", b.cfg.Protocol, "proxies", len(b.proxies))
	return nil
}

func (b *Broker) running(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *Broker) stopping(_ error) error {
	for _, proxy := range b.proxies {
		_ = proxy.Close()
	}
	if b.cancel != nil {
		b.cancel()
	}
	level.Info(b.logger).Log("msg", "broker stopped")
	return nil
}
