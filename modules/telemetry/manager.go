// Package telemetrymanager scrapes GPU telemetry from DCGM exporters while a
// profile runs. At configure time it probes every configured endpoint and
// reports which are reachable; during the run one collector per reachable
// endpoint polls on the sample interval and pushes record batches onto the
// same work queue the metric records travel on.
package telemetrymanager

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aiperf/aiperf/pkg/comms"
	"github.com/aiperf/aiperf/pkg/config"
	"github.com/aiperf/aiperf/pkg/messages"
	"github.com/aiperf/aiperf/pkg/service"
	"github.com/aiperf/aiperf/pkg/telemetry"
)

var metricScrapes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aiperf",
	Name:      "telemetry_scrapes_total",
	Help:      "DCGM scrapes per outcome.",
}, []string{"outcome"})

const probeTimeout = 5 * time.Second

// Manager is the telemetry manager service.
type Manager struct {
	services.Service

	base    *service.Base
	userCfg *config.UserConfig
	logger  kitlog.Logger

	client *http.Client
	push   *comms.PushClient

	mtx        sync.Mutex
	reachable  []string
	collectors []*collector

	startCh   chan struct{}
	startOnce sync.Once

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New builds the telemetry manager.
func New(commsCfg *comms.Config, svcCfg *config.ServiceConfig, userCfg *config.UserConfig, logger kitlog.Logger) *Manager {
	m := &Manager{
		base:    service.NewBase(messages.ServiceTelemetryManager, commsCfg, svcCfg, logger),
		userCfg: userCfg,
		client:  &http.Client{Timeout: probeTimeout},
		startCh: make(chan struct{}),
	}
	m.logger = m.base.Logger()

	m.base.OnCommand(messages.CommandProfileConfigure, m.onConfigure)
	m.base.OnCommand(messages.CommandProfileStart, func(context.Context, *messages.CommandMessage, messages.Message) error {
		m.startOnce.Do(func() { close(m.startCh) })
		return nil
	})
	m.base.OnCommand(messages.CommandProfileCancel, func(context.Context, *messages.CommandMessage, messages.Message) error {
		if m.runCancel != nil {
			m.runCancel()
		}
		return nil
	})
	m.base.OnCommand(messages.CommandShutdown, func(context.Context, *messages.CommandMessage, messages.Message) error {
		m.StopAsync()
		return nil
	})
	m.Service = services.NewBasicService(m.starting, m.running, m.stopping)
	return m
}

func (m *Manager) starting(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.runCtx, m.runCancel = ctx, cancel

	if err := m.base.Connect(ctx); err != nil {
		return err
	}

	push, err := comms.NewPushClient(ctx, m.base.CommsConfig(), comms.ChannelRecords, m.logger)
	if err != nil {
		return fmt.Errorf("connecting records queue: %w", err)
	}
	m.push = push

	m.base.StartReceiving(ctx)
	return nil
}

func (m *Manager) running(ctx context.Context) error {
	if err := m.base.Announce(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case <-m.startCh:
	}

	m.mtx.Lock()
	collectors := m.collectors
	m.mtx.Unlock()

	var wg sync.WaitGroup
	for _, c := range collectors {
		wg.Add(1)
		go func(c *collector) {
			defer wg.Done()
			c.run(m.runCtx)
		}(c)
	}

	<-ctx.Done()
	m.runCancel()
	wg.Wait()
	return nil
}

func (m *Manager) stopping(_ error) error {
	if m.runCancel != nil {
		m.runCancel()
	}
	if m.push != nil {
		_ = m.push.Close()
	}
	m.base.Shutdown()
	return nil
}

// onConfigure probes every configured endpoint and reports which answered.
// With telemetry disabled, or nothing reachable, the service reports disabled
// and stops; the rest of the fleet runs on without GPU metrics.
func (m *Manager) onConfigure(ctx context.Context, _ *messages.CommandMessage, _ messages.Message) error {
	cfg := &m.userCfg.Telemetry
	if !cfg.Enabled {
		m.publishStatus(false, "telemetry disabled by configuration", nil, nil)
		m.StopAsync()
		return nil
	}

	tested := normalizeEndpoints(cfg.DefaultEndpoint, cfg.Endpoints)
	var reachable []string
	for _, url := range tested {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		ok := probe(probeCtx, m.client, url)
		cancel()
		if ok {
			reachable = append(reachable, url)
		} else {
			level.Debug(m.logger).Log("msg", "dcgm endpoint unreachable", "url", url)
		}
	}

	if len(reachable) == 0 {
		m.publishStatus(false, "no reachable dcgm endpoints", tested, nil)
		m.StopAsync()
		return nil
	}

	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = 330 * time.Millisecond
	}
	collectors := make([]*collector, 0, len(reachable))
	for _, url := range reachable {
		collectors = append(collectors, newCollector(url, interval, m.client, m.logger, m.pushBatch, m.pushError))
	}

	m.mtx.Lock()
	m.reachable = reachable
	m.collectors = collectors
	m.mtx.Unlock()

	m.publishStatus(true, "", tested, reachable)
	return nil
}

func (m *Manager) publishStatus(enabled bool, reason string, tested, reachable []string) {
	status := &messages.TelemetryStatusMessage{
		Enabled:            enabled,
		Reason:             reason,
		EndpointsTested:    tested,
		EndpointsReachable: reachable,
	}
	status.MessageType = messages.TypeTelemetryStatus
	status.ServiceID = m.base.ID()
	status.Stamp()
	if err := m.base.Pub.Publish(status); err != nil {
		level.Warn(m.logger).Log("msg", "telemetry status publish failed", "err", err)
	}
}

func (m *Manager) pushBatch(records []telemetry.Record) {
	metricScrapes.WithLabelValues("ok").Inc()
	msg := &messages.TelemetryRecordsMessage{
		CollectorID: m.base.ID(),
		Records:     records,
	}
	msg.MessageType = messages.TypeTelemetryRecords
	msg.ServiceID = m.base.ID()
	msg.Stamp()
	if err := m.push.Push(msg); err != nil {
		level.Warn(m.logger).Log("msg", "telemetry records push failed", "err", err)
	}
}

func (m *Manager) pushError(err error) {
	metricScrapes.WithLabelValues("error").Inc()
	msg := &messages.TelemetryRecordsMessage{
		CollectorID: m.base.ID(),
		Error:       messages.ErrorDetailsFrom(err),
	}
	msg.MessageType = messages.TypeTelemetryRecords
	msg.ServiceID = m.base.ID()
	msg.Stamp()
	if err := m.push.Push(msg); err != nil {
		level.Warn(m.logger).Log("msg", "telemetry error push failed", "err", err)
	}
}
