// Package recordsmanager aggregates the metric record stream into the final
// profile results. It owns the results processors, tracks processing stats
// per worker, watches the credit phase lifecycle, and runs the one-shot
// summarization pass that ends the run.
package recordsmanager

import (
	"context"
	"fmt"
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
	"github.com/aiperf/aiperf/pkg/metrics"
	"github.com/aiperf/aiperf/pkg/records"
	"github.com/aiperf/aiperf/pkg/service"
)

var metricRecordsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aiperf",
	Name:      "recordsmanager_records_total",
	Help:      "Metric record messages received per phase.",
}, []string{"phase"})

// Manager is the records manager service.
type Manager struct {
	services.Service

	base    *service.Base
	userCfg *config.UserConfig
	logger  kitlog.Logger

	pull *comms.PullClient

	primary    *primaryProcessor
	telemetryP *telemetryProcessor

	mtx           sync.Mutex
	stats         metrics.ProcessingStats
	perWorker     map[string]metrics.ProcessingStats
	startNS       int64
	endNS         int64
	expected      int
	wasCancelled  bool
	doneOnce      sync.Once
	summarizeOnce sync.Once

	runCancel context.CancelFunc
}

// New builds the records manager.
func New(commsCfg *comms.Config, svcCfg *config.ServiceConfig, userCfg *config.UserConfig, logger kitlog.Logger) *Manager {
	m := &Manager{
		base:       service.NewBase(messages.ServiceRecordsManager, commsCfg, svcCfg, logger),
		userCfg:    userCfg,
		primary:    newPrimaryProcessor(),
		telemetryP: newTelemetryProcessor(),
		perWorker:  map[string]metrics.ProcessingStats{},
	}
	m.logger = m.base.Logger()

	m.base.OnCommand(messages.CommandProfileConfigure, func(context.Context, *messages.CommandMessage, messages.Message) error {
		return nil
	})
	m.base.OnCommand(messages.CommandProcessRecords, func(context.Context, *messages.CommandMessage, messages.Message) error {
		m.summarize()
		return nil
	})
	m.base.OnCommand(messages.CommandProfileCancel, func(context.Context, *messages.CommandMessage, messages.Message) error {
		m.mtx.Lock()
		m.wasCancelled = true
		m.mtx.Unlock()
		m.summarize()
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
	m.runCancel = cancel

	if err := m.base.Connect(ctx); err != nil {
		return err
	}

	pull, err := comms.NewPullClient(ctx, m.base.CommsConfig(), comms.ChannelRecords, m.base.ServiceConfig().PullConcurrency, m.logger)
	if err != nil {
		return fmt.Errorf("connecting records queue: %w", err)
	}
	pull.Register(messages.TypeMetricRecords, m.handleMetricRecords)
	pull.Register(messages.TypeTelemetryRecords, m.handleTelemetryRecords)
	m.pull = pull

	if err := m.base.Sub.Subscribe(messages.TypeCreditPhaseStart, m.onPhaseStart); err != nil {
		return err
	}
	if err := m.base.Sub.Subscribe(messages.TypeCreditPhaseComplete, m.onPhaseComplete); err != nil {
		return err
	}

	m.base.StartReceiving(ctx)
	m.pull.Start(ctx)
	return nil
}

func (m *Manager) running(ctx context.Context) error {
	if err := m.base.Announce(ctx); err != nil {
		return err
	}
	go m.progressLoop(ctx)
	<-ctx.Done()
	return nil
}

func (m *Manager) stopping(_ error) error {
	if m.pull != nil {
		_ = m.pull.Close()
	}
	m.base.Shutdown()
	if m.runCancel != nil {
		m.runCancel()
	}
	return nil
}

func (m *Manager) onPhaseStart(_ context.Context, msg messages.Message) {
	start, ok := msg.(*messages.CreditPhaseStartMessage)
	if !ok || start.Phase != records.PhaseProfiling {
		return
	}

	m.mtx.Lock()
	m.startNS = start.StartNS
	m.expected = start.TotalExpectedRequests
	m.mtx.Unlock()

	if start.ExpectedDurationSec > 0 {
		m.primary.setDurationFilter(newDurationFilter(
			start.StartNS, start.ExpectedDurationSec, m.userCfg.LoadGen.BenchmarkGracePeriodSec))
	}
}

func (m *Manager) onPhaseComplete(_ context.Context, msg messages.Message) {
	complete, ok := msg.(*messages.CreditPhaseCompleteMessage)
	if !ok || complete.Phase != records.PhaseProfiling {
		return
	}

	m.mtx.Lock()
	m.endNS = complete.EndNS
	m.expected = complete.FinalRequestCount
	total := m.stats.Total()
	expected := m.expected
	m.mtx.Unlock()

	// The expected count can shrink below what already arrived.
	if expected > 0 && total >= expected {
		m.allRecordsReceived(expected)
	}
}

func (m *Manager) handleMetricRecords(_ context.Context, msg messages.Message) {
	rec, ok := msg.(*messages.MetricRecordsMessage)
	if !ok {
		level.Warn(m.logger).Log("msg", "unexpected message on records queue", "type", msg.Type())
		return
	}
	metricRecordsReceived.WithLabelValues(string(rec.CreditPhase)).Inc()
	if rec.CreditPhase != records.PhaseProfiling {
		return
	}

	m.primary.Process(rec)

	m.mtx.Lock()
	ws := m.perWorker[rec.WorkerID]
	if rec.Valid {
		m.stats.Processed++
		ws.Processed++
	} else {
		m.stats.Errors++
		ws.Errors++
	}
	m.perWorker[rec.WorkerID] = ws
	total := m.stats.Total()
	expected := m.expected
	m.mtx.Unlock()

	if expected > 0 && total >= expected {
		m.allRecordsReceived(expected)
	}
}

func (m *Manager) handleTelemetryRecords(_ context.Context, msg messages.Message) {
	rec, ok := msg.(*messages.TelemetryRecordsMessage)
	if !ok {
		level.Warn(m.logger).Log("msg", "unexpected message on records queue", "type", msg.Type())
		return
	}
	if rec.Error != nil {
		level.Debug(m.logger).Log("msg", "telemetry collector error", "collector", rec.CollectorID, "err", rec.Error.Message)
		return
	}
	m.telemetryP.Add(rec)
}

func (m *Manager) allRecordsReceived(finalCount int) {
	m.doneOnce.Do(func() {
		done := &messages.AllRecordsReceivedMessage{FinalRequestCount: finalCount}
		done.MessageType = messages.TypeAllRecordsReceived
		done.ServiceID = m.base.ID()
		done.Stamp()
		if err := m.base.Pub.Publish(done); err != nil {
			level.Warn(m.logger).Log("msg", "all-records publish failed", "err", err)
		}
		m.summarize()
	})
}

// summarize runs the one-shot aggregation pass and publishes the final
// results. Subsequent triggers are no-ops.
func (m *Manager) summarize() {
	m.summarizeOnce.Do(func() {
		m.mtx.Lock()
		results := metrics.ProfileResults{
			Completed:    m.stats.Processed,
			StartNS:      m.startNS,
			EndNS:        m.endNS,
			WasCancelled: m.wasCancelled,
		}
		m.mtx.Unlock()

		results.Records = append(m.primary.Summarize(), m.telemetryP.Summarize()...)
		results.ErrorSummary = m.primary.errorSummary()

		out := &messages.ProcessRecordsResultMessage{Results: results}
		out.MessageType = messages.TypeProcessRecordsResult
		out.ServiceID = m.base.ID()
		out.Stamp()
		if err := m.base.Pub.Publish(out); err != nil {
			level.Error(m.logger).Log("msg", "results publish failed", "err", err)
			return
		}
		level.Info(m.logger).Log("msg", "profile results published",
			"completed", results.Completed, "metrics", len(results.Records), "cancelled", results.WasCancelled)
	})
}

func (m *Manager) progressLoop(ctx context.Context) {
	interval := m.base.ServiceConfig().ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mtx.Lock()
			msg := &messages.ProcessingStatsMessage{
				Stats:    m.stats,
				Expected: m.expected,
			}
			msg.PerWorker = make(map[string]metrics.ProcessingStats, len(m.perWorker))
			for id, s := range m.perWorker {
				msg.PerWorker[id] = s
			}
			m.mtx.Unlock()

			msg.MessageType = messages.TypeProcessingStats
			msg.ServiceID = m.base.ID()
			msg.Stamp()
			if err := m.base.Pub.Publish(msg); err != nil {
				level.Debug(m.logger).Log("msg", "stats publish failed", "err", err)
			}
		}
	}
}
