// Package timing hosts the credit engine. The timing manager drives the
// run: it turns the configured schedule into credit drops, tracks returns,
// and walks the warmup and profiling phases through their lifecycle
// messages.
package timing

import (
	"context"
	"fmt"
	"math/rand"
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
	"github.com/aiperf/aiperf/pkg/records"
	"github.com/aiperf/aiperf/pkg/service"
)

var (
	metricCreditsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aiperf",
		Name:      "timing_credits_dropped_total",
		Help:      "Credits pushed to the worker pool per phase.",
	}, []string{"phase"})
	metricCreditsReturned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aiperf",
		Name:      "timing_credits_returned_total",
		Help:      "Credit returns received per phase.",
	}, []string{"phase"})
)

// Manager is the timing manager service.
type Manager struct {
	services.Service

	base    *service.Base
	userCfg *config.UserConfig
	logger  kitlog.Logger

	drop    *comms.PushClient
	returns *comms.PullClient
	dealer  *comms.DealerClient

	mtx       sync.Mutex
	cond      *sync.Cond
	stats     *PhaseStats
	cancelled bool
	schedule  *fixedScheduleStrategy
	rng       *rand.Rand

	startCh   chan struct{}
	startOnce sync.Once
	runCtx    context.Context
	runCancel context.CancelFunc
}

// New builds the timing manager.
func New(commsCfg *comms.Config, svcCfg *config.ServiceConfig, userCfg *config.UserConfig, logger kitlog.Logger) *Manager {
	m := &Manager{
		base:    service.NewBase(messages.ServiceTimingManager, commsCfg, svcCfg, logger),
		userCfg: userCfg,
		startCh: make(chan struct{}),
	}
	m.logger = m.base.Logger()
	m.cond = sync.NewCond(&m.mtx)

	seed := userCfg.LoadGen.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m.rng = rand.New(rand.NewSource(seed))

	m.base.OnCommand(messages.CommandProfileConfigure, m.onConfigure)
	m.base.OnCommand(messages.CommandProfileStart, m.onStart)
	m.base.OnCommand(messages.CommandProfileCancel, m.onCancel)
	m.base.OnCommand(messages.CommandShutdown, m.onShutdown)

	m.Service = services.NewBasicService(m.starting, m.running, m.stopping)
	return m
}

func (m *Manager) starting(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.runCtx, m.runCancel = ctx, cancel

	if err := m.base.Connect(ctx); err != nil {
		return err
	}

	drop, err := comms.NewPushClient(ctx, m.base.CommsConfig(), comms.ChannelCreditDrop, m.logger)
	if err != nil {
		return fmt.Errorf("connecting credit drop queue: %w", err)
	}
	m.drop = drop

	returns, err := comms.NewPullClient(ctx, m.base.CommsConfig(), comms.ChannelCreditReturn, m.base.ServiceConfig().PullConcurrency, m.logger)
	if err != nil {
		return fmt.Errorf("connecting credit return queue: %w", err)
	}
	returns.Register(messages.TypeCreditReturn, m.onCreditReturn)
	m.returns = returns

	dealer, err := comms.NewDealerClient(ctx, m.base.CommsConfig(), m.base.ID(), m.logger)
	if err != nil {
		return fmt.Errorf("connecting dataset dealer: %w", err)
	}
	m.dealer = dealer

	m.base.StartReceiving(ctx)
	m.returns.Start(ctx)
	m.dealer.Start(ctx)
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

	if err := m.run(m.runCtx); err != nil && m.runCtx.Err() == nil {
		level.Error(m.logger).Log("msg", "credit run failed", "err", err)
	}

	<-ctx.Done()
	return nil
}

func (m *Manager) stopping(_ error) error {
	if m.runCancel != nil {
		m.runCancel()
	}
	m.mtx.Lock()
	m.cancelled = true
	m.mtx.Unlock()
	m.cond.Broadcast()

	if m.dealer != nil {
		_ = m.dealer.Close()
	}
	if m.returns != nil {
		_ = m.returns.Close()
	}
	if m.drop != nil {
		_ = m.drop.Close()
	}
	m.base.Shutdown()
	return nil
}

// onConfigure builds the phase plan. Fixed-schedule runs fetch the timing
// entries from the dataset manager here, so start can begin immediately.
func (m *Manager) onConfigure(ctx context.Context, _ *messages.CommandMessage, _ messages.Message) error {
	lg := &m.userCfg.LoadGen
	if err := lg.Validate(); err != nil {
		return err
	}

	if lg.FixedSchedule {
		reqCtx, cancel := context.WithTimeout(ctx, comms.DefaultRequestTimeout)
		defer cancel()

		req := &messages.DatasetTimingRequestMessage{}
		req.MessageType = messages.TypeDatasetTimingRequest
		req.ServiceID = m.base.ID()
		resp, err := m.dealer.Request(reqCtx, req)
		if err != nil {
			return fmt.Errorf("fetching dataset schedule: %w", err)
		}
		timing, ok := resp.(*messages.DatasetTimingResponseMessage)
		if !ok {
			return fmt.Errorf("unexpected dataset timing response type %q", resp.Type())
		}
		if len(timing.Entries) == 0 {
			return fmt.Errorf("fixed schedule requested but dataset provides no timing entries")
		}

		m.mtx.Lock()
		m.schedule = newFixedScheduleStrategy(timing.Entries, lg.FixedScheduleAutoOffset, lg.FixedScheduleStartOffsetMS)
		m.mtx.Unlock()
	}

	level.Info(m.logger).Log("msg", "profile configured", "fixed_schedule", lg.FixedSchedule,
		"rate_mode", lg.RequestRateMode, "max_concurrency", lg.MaxConcurrency)
	return nil
}

func (m *Manager) onStart(context.Context, *messages.CommandMessage, messages.Message) error {
	m.startOnce.Do(func() { close(m.startCh) })
	return nil
}

func (m *Manager) onCancel(context.Context, *messages.CommandMessage, messages.Message) error {
	m.mtx.Lock()
	m.cancelled = true
	if m.stats != nil {
		m.stats.Cancelled = true
	}
	m.mtx.Unlock()
	m.cond.Broadcast()
	level.Info(m.logger).Log("msg", "profile cancelled, draining in-flight credits")
	return nil
}

func (m *Manager) onShutdown(context.Context, *messages.CommandMessage, messages.Message) error {
	m.StopAsync()
	return nil
}

// phasePlan derives the ordered phases from the user config.
func (m *Manager) phasePlan() ([]PhaseConfig, error) {
	lg := &m.userCfg.LoadGen
	var phases []PhaseConfig

	if lg.WarmupRequestCount > 0 {
		phases = append(phases, PhaseConfig{
			Phase:                 records.PhaseWarmup,
			TotalExpectedRequests: lg.WarmupRequestCount,
		})
	}

	profiling := PhaseConfig{
		Phase:                 records.PhaseProfiling,
		TotalExpectedRequests: lg.RequestCount,
		ExpectedDurationSec:   lg.BenchmarkDurationSec,
		GracePeriodSec:        lg.BenchmarkGracePeriodSec,
	}
	if lg.FixedSchedule {
		m.mtx.Lock()
		schedule := m.schedule
		m.mtx.Unlock()
		if schedule == nil {
			return nil, fmt.Errorf("fixed schedule not configured")
		}
		profiling.TotalExpectedRequests = schedule.Len()
	}
	if err := profiling.Validate(); err != nil {
		return nil, err
	}
	phases = append(phases, profiling)
	return phases, nil
}

func (m *Manager) run(ctx context.Context) error {
	phases, err := m.phasePlan()
	if err != nil {
		return err
	}

	for i := range phases {
		strat, err := m.strategyFor(&phases[i])
		if err != nil {
			return err
		}
		if err := m.runPhase(ctx, &phases[i], strat); err != nil {
			return err
		}
		m.mtx.Lock()
		cancelled := m.cancelled
		m.mtx.Unlock()
		if cancelled {
			break
		}
	}

	done := &messages.CreditsCompleteMessage{}
	done.MessageType = messages.TypeCreditsComplete
	done.ServiceID = m.base.ID()
	done.Stamp()
	return m.base.Pub.Publish(done)
}

func (m *Manager) strategyFor(cfg *PhaseConfig) (strategy, error) {
	if m.userCfg.LoadGen.FixedSchedule && cfg.Phase == records.PhaseProfiling {
		m.mtx.Lock()
		defer m.mtx.Unlock()
		return m.schedule, nil
	}
	return newRateStrategy(&m.userCfg.LoadGen)
}

func (m *Manager) runPhase(ctx context.Context, cfg *PhaseConfig, strat strategy) error {
	stats := &PhaseStats{Phase: cfg.Phase, StartNS: time.Now().UnixNano()}
	m.mtx.Lock()
	m.stats = stats
	stats.Cancelled = m.cancelled
	m.mtx.Unlock()

	start := &messages.CreditPhaseStartMessage{
		Phase:                 cfg.Phase,
		StartNS:               stats.StartNS,
		TotalExpectedRequests: cfg.TotalExpectedRequests,
		ExpectedDurationSec:   cfg.ExpectedDurationSec,
	}
	start.MessageType = messages.TypeCreditPhaseStart
	start.ServiceID = m.base.ID()
	start.Stamp()
	if err := m.base.Pub.Publish(start); err != nil {
		return err
	}

	progressCtx, stopProgress := context.WithCancel(ctx)
	go m.progressLoop(progressCtx, cfg.Phase)

	// Wake cond waiters when the run context dies.
	unwatch := m.watchContext(ctx)

	m.sendLoop(ctx, cfg, stats, strat)

	m.mtx.Lock()
	stats.SentEndNS = time.Now().UnixNano()
	sent := stats.Sent
	m.mtx.Unlock()

	sendingDone := &messages.CreditPhaseSendingCompleteMessage{
		Phase:     cfg.Phase,
		SentEndNS: stats.SentEndNS,
		Sent:      sent,
	}
	sendingDone.MessageType = messages.TypeCreditPhaseSendingComplete
	sendingDone.ServiceID = m.base.ID()
	sendingDone.Stamp()
	if err := m.base.Pub.Publish(sendingDone); err != nil {
		stopProgress()
		unwatch()
		return err
	}

	timedOut := m.drain(ctx, cfg, stats)
	stopProgress()
	unwatch()

	m.mtx.Lock()
	stats.EndNS = time.Now().UnixNano()
	complete := &messages.CreditPhaseCompleteMessage{
		Phase:             cfg.Phase,
		Completed:         stats.Completed,
		EndNS:             stats.EndNS,
		TimeoutTriggered:  timedOut,
		FinalRequestCount: stats.Completed,
	}
	m.mtx.Unlock()
	complete.MessageType = messages.TypeCreditPhaseComplete
	complete.ServiceID = m.base.ID()
	complete.Stamp()
	return m.base.Pub.Publish(complete)
}

func (m *Manager) sendLoop(ctx context.Context, cfg *PhaseConfig, stats *PhaseStats, strat strategy) {
	lg := &m.userCfg.LoadGen
	for {
		m.mtx.Lock()
		if !stats.ShouldSend(cfg) || ctx.Err() != nil {
			m.mtx.Unlock()
			return
		}
		// Concurrency admission: block on returns until a slot frees up.
		for lg.MaxConcurrency > 0 && stats.InFlight() >= lg.MaxConcurrency && !m.cancelled && ctx.Err() == nil {
			m.cond.Wait()
		}
		cancelled := m.cancelled
		m.mtx.Unlock()
		if cancelled || ctx.Err() != nil {
			return
		}

		slot, ok, err := strat.Next(ctx)
		if err != nil || !ok {
			return
		}

		drop := &messages.CreditDropMessage{
			Phase:          cfg.Phase,
			ConversationID: slot.ConversationID,
			CreditDropNS:   slot.DropNS,
		}
		if lg.RequestCancellationRate > 0 && m.rng.Float64() < lg.RequestCancellationRate {
			drop.ShouldCancel = true
			drop.CancelAfterNS = int64(lg.RequestCancellationDelaySec * 1e9)
		}
		drop.MessageType = messages.TypeCreditDrop
		drop.ServiceID = m.base.ID()
		drop.Stamp()

		if err := m.drop.Push(drop); err != nil {
			level.Warn(m.logger).Log("msg", "credit drop failed", "err", err)
			return
		}
		metricCreditsDropped.WithLabelValues(string(cfg.Phase)).Inc()

		m.mtx.Lock()
		stats.Sent++
		m.mtx.Unlock()
	}
}

// drain waits for every in-flight credit to return. Time-based phases are
// bounded by the grace period; cancelled runs by the shutdown deadline.
// Returns true when the wait was cut short with credits still outstanding.
func (m *Manager) drain(ctx context.Context, cfg *PhaseConfig, stats *PhaseStats) bool {
	var deadline time.Time
	if cfg.TimeBased() && cfg.GracePeriodSec > 0 {
		deadline = time.Now().Add(time.Duration(cfg.GracePeriodSec * float64(time.Second)))
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	for !stats.IsComplete() {
		if ctx.Err() != nil {
			return true
		}
		if m.cancelled && deadline.IsZero() {
			deadline = time.Now().Add(m.base.ServiceConfig().ShutdownDeadline)
		}
		if !deadline.IsZero() {
			if time.Now().After(deadline) {
				stats.Cancelled = true
				return true
			}
			// Re-check the deadline even without a return.
			go func() {
				time.Sleep(100 * time.Millisecond)
				m.cond.Broadcast()
			}()
		}
		m.cond.Wait()
	}
	return false
}

func (m *Manager) watchContext(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.cond.Broadcast()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (m *Manager) progressLoop(ctx context.Context, phase records.CreditPhase) {
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
			msg := &messages.CreditPhaseProgressMessage{
				Phase:     phase,
				Sent:      m.stats.Sent,
				Completed: m.stats.Completed,
			}
			m.mtx.Unlock()
			msg.MessageType = messages.TypeCreditPhaseProgress
			msg.ServiceID = m.base.ID()
			msg.Stamp()
			if err := m.base.Pub.Publish(msg); err != nil {
				level.Debug(m.logger).Log("msg", "progress publish failed", "err", err)
			}
		}
	}
}

func (m *Manager) onCreditReturn(_ context.Context, msg messages.Message) {
	ret, ok := msg.(*messages.CreditReturnMessage)
	if !ok {
		level.Warn(m.logger).Log("msg", "unexpected message on credit return queue", "type", msg.Type())
		return
	}

	m.mtx.Lock()
	if m.stats != nil && m.stats.Phase == ret.Phase {
		m.stats.Completed++
	}
	m.mtx.Unlock()
	metricCreditsReturned.WithLabelValues(string(ret.Phase)).Inc()
	m.cond.Broadcast()
}
