// Package controller orchestrates a benchmark run. The system controller
// spawns the fleet, waits for every service to register, drives the
// configure/start/shutdown command sequence, and collects the final profile
// results.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"

	"github.com/aiperf/aiperf/pkg/comms"
	"github.com/aiperf/aiperf/pkg/config"
	"github.com/aiperf/aiperf/pkg/messages"
	"github.com/aiperf/aiperf/pkg/metrics"
)

// staleMultiplier sets the heartbeat-lapse threshold relative to the
// heartbeat interval.
const staleMultiplier = 3

// Controller is the system controller service.
type Controller struct {
	services.Service

	commsCfg *comms.Config
	svcCfg   *config.ServiceConfig
	userCfg  *config.UserConfig
	logger   kitlog.Logger

	// procs is nil for the all-in-one target, where the fleet runs in-process.
	procs    *ProcessManager
	registry *Registry

	pub *comms.PubClient
	sub *comms.SubClient

	mtx       sync.Mutex
	acks      map[string]int
	ackErrs   map[string][]string
	ackNotify chan struct{}

	resultCh  chan metrics.ProfileResults
	results   *metrics.ProfileResults
	cancelled bool

	runCancel context.CancelFunc
}

// New builds the controller. procs may be nil when the fleet runs in the same
// process.
func New(commsCfg *comms.Config, svcCfg *config.ServiceConfig, userCfg *config.UserConfig, procs *ProcessManager, logger kitlog.Logger) *Controller {
	c := &Controller{
		commsCfg:  commsCfg,
		svcCfg:    svcCfg,
		userCfg:   userCfg,
		logger:    kitlog.With(logger, "service", "system_controller"),
		procs:     procs,
		registry:  NewRegistry(staleMultiplier * svcCfg.HeartbeatInterval),
		acks:      map[string]int{},
		ackErrs:   map[string][]string{},
		ackNotify: make(chan struct{}, 1),
		resultCh:  make(chan metrics.ProfileResults, 1),
	}
	c.Service = services.NewBasicService(c.starting, c.running, c.stopping)
	return c
}

func (c *Controller) starting(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel

	pub, err := comms.NewPubClient(ctx, c.commsCfg, c.logger)
	if err != nil {
		return fmt.Errorf("connecting publisher: %w", err)
	}
	sub, err := comms.NewSubClient(ctx, c.commsCfg, c.logger)
	if err != nil {
		pub.Close()
		return fmt.Errorf("connecting subscriber: %w", err)
	}
	c.pub, c.sub = pub, sub

	err = sub.SubscribeAll(map[messages.MessageType]comms.Handler{
		messages.TypeRegistration:         c.onStatus,
		messages.TypeHeartbeat:            c.onStatus,
		messages.TypeStatus:               c.onStatus,
		messages.TypeCommandResponse:      c.onCommandResponse,
		messages.TypeProcessRecordsResult: c.onResults,
		messages.TypeAllRecordsReceived:   c.onAllRecordsReceived,
		messages.TypeTelemetryStatus:      c.onTelemetryStatus,
		messages.TypeProcessingStats:      c.onProcessingStats,
	})
	if err != nil {
		return err
	}
	sub.Start(ctx)

	if c.procs != nil {
		if err := c.spawnFleet(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) spawnFleet() error {
	if err := c.procs.Spawn("broker", 1); err != nil {
		return err
	}
	for _, t := range []string{"timing-manager", "dataset-manager", "records-manager"} {
		if err := c.procs.Spawn(t, 1); err != nil {
			return err
		}
	}
	if err := c.procs.Spawn("record-processor", c.svcCfg.RecordProcessorCount); err != nil {
		return err
	}
	if err := c.procs.Spawn("worker", c.svcCfg.WorkerCount); err != nil {
		return err
	}
	if c.userCfg.Telemetry.Enabled {
		if err := c.procs.Spawn("telemetry-manager", 1); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) running(ctx context.Context) error {
	go c.staleLoop(ctx)

	if err := c.awaitRegistrations(); err != nil {
		return err
	}
	if err := c.configure(ctx); err != nil {
		return err
	}

	level.Info(c.logger).Log("msg", "starting profile run")
	if err := c.broadcast(messages.NewProfileStartCommand("system_controller")); err != nil {
		return fmt.Errorf("publishing profile start: %w", err)
	}

	select {
	case results := <-c.resultCh:
		c.setResults(&results, false)
	case <-ctx.Done():
		level.Info(c.logger).Log("msg", "run cancelled, draining")
		c.setResults(nil, true)
		if err := c.broadcast(messages.NewProfileCancelCommand("system_controller")); err != nil {
			level.Warn(c.logger).Log("msg", "profile cancel publish failed", "err", err)
		}
		select {
		case results := <-c.resultCh:
			c.setResults(&results, true)
		case <-time.After(c.svcCfg.ShutdownDeadline):
			level.Warn(c.logger).Log("msg", "no results before shutdown deadline")
		}
	}

	c.shutdownFleet()
	return nil
}

// awaitRegistrations blocks until the expected fleet has registered.
func (c *Controller) awaitRegistrations() error {
	deadline := time.Now().Add(c.svcCfg.RegistrationTimeout)
	workers, processors := c.svcCfg.WorkerCount, c.svcCfg.RecordProcessorCount
	if c.procs == nil {
		// In-process fleet runs one instance of each service.
		workers, processors = 1, 1
	}
	expected := map[messages.ServiceType]int{
		messages.ServiceTimingManager:   1,
		messages.ServiceDatasetManager:  1,
		messages.ServiceRecordsManager:  1,
		messages.ServiceRecordProcessor: processors,
		messages.ServiceWorker:          workers,
	}
	if c.userCfg.Telemetry.Enabled {
		expected[messages.ServiceTelemetryManager] = 1
	}

	ok := c.registry.WaitUntil(deadline, func(countByType func(messages.ServiceType) int) bool {
		for t, n := range expected {
			if countByType(t) < n {
				return false
			}
		}
		return true
	})
	if !ok {
		var missing []string
		for t, n := range expected {
			if got := c.registry.CountByType(t); got < n {
				missing = append(missing, fmt.Sprintf("%s (%d/%d)", t, got, n))
			}
		}
		return fmt.Errorf("services failed to register within %s: %v", c.svcCfg.RegistrationTimeout, missing)
	}
	level.Info(c.logger).Log("msg", "fleet registered", "services", c.registry.Len())
	return nil
}

// configure broadcasts PROFILE_CONFIGURE and waits for an acknowledgement
// from every registered service.
func (c *Controller) configure(ctx context.Context) error {
	cmd := messages.NewProfileConfigureCommand("system_controller")
	want := c.registry.Len()
	if err := c.broadcast(cmd); err != nil {
		return fmt.Errorf("publishing profile configure: %w", err)
	}

	deadline := time.NewTimer(c.svcCfg.RegistrationTimeout)
	defer deadline.Stop()
	for {
		c.mtx.Lock()
		got := c.acks[cmd.CommandID]
		failures := c.ackErrs[cmd.CommandID]
		c.mtx.Unlock()

		if len(failures) > 0 {
			return fmt.Errorf("profile configure failed: %v", failures)
		}
		if got >= want {
			level.Info(c.logger).Log("msg", "fleet configured", "acks", got)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("profile configure acknowledged by %d of %d services", got, want)
		case <-c.ackNotify:
		}
	}
}

func (c *Controller) shutdownFleet() {
	if err := c.broadcast(messages.NewShutdownCommand("system_controller")); err != nil {
		level.Warn(c.logger).Log("msg", "shutdown publish failed", "err", err)
	}
	if c.procs != nil {
		c.procs.StopAll(c.svcCfg.ShutdownDeadline)
	}
}

func (c *Controller) stopping(_ error) error {
	if c.procs != nil {
		c.procs.StopAll(c.svcCfg.ShutdownDeadline)
	}
	if c.sub != nil {
		_ = c.sub.Close()
	}
	if c.pub != nil {
		_ = c.pub.Close()
	}
	if c.runCancel != nil {
		c.runCancel()
	}
	return nil
}

func (c *Controller) broadcast(msg messages.Message) error {
	return c.pub.Publish(msg)
}

func (c *Controller) onStatus(_ context.Context, msg messages.Message) {
	switch m := msg.(type) {
	case *messages.RegistrationMessage:
		level.Info(c.logger).Log("msg", "service registered", "id", m.ServiceID, "type", m.StatusFields.ServiceType)
		c.registry.Observe(m.ServiceID, m.StatusFields.ServiceType, m.State)
	case *messages.HeartbeatMessage:
		c.registry.Observe(m.ServiceID, m.StatusFields.ServiceType, m.State)
	case *messages.StatusMessage:
		c.registry.Observe(m.ServiceID, m.StatusFields.ServiceType, m.State)
	}
}

func (c *Controller) onCommandResponse(_ context.Context, msg messages.Message) {
	resp, ok := msg.(*messages.CommandResponse)
	if !ok {
		return
	}

	c.mtx.Lock()
	if resp.Status == messages.CommandFailed {
		detail := resp.ServiceID
		if resp.Error != nil {
			detail = fmt.Sprintf("%s: %s", resp.ServiceID, resp.Error.Message)
		}
		c.ackErrs[resp.CommandID] = append(c.ackErrs[resp.CommandID], detail)
	} else {
		c.acks[resp.CommandID]++
	}
	c.mtx.Unlock()

	select {
	case c.ackNotify <- struct{}{}:
	default:
	}
}

func (c *Controller) onResults(_ context.Context, msg messages.Message) {
	res, ok := msg.(*messages.ProcessRecordsResultMessage)
	if !ok {
		return
	}
	select {
	case c.resultCh <- res.Results:
	default:
	}
}

func (c *Controller) onAllRecordsReceived(_ context.Context, msg messages.Message) {
	if m, ok := msg.(*messages.AllRecordsReceivedMessage); ok {
		level.Info(c.logger).Log("msg", "all records received", "count", m.FinalRequestCount)
	}
}

func (c *Controller) onTelemetryStatus(_ context.Context, msg messages.Message) {
	status, ok := msg.(*messages.TelemetryStatusMessage)
	if !ok {
		return
	}
	if status.Enabled {
		level.Info(c.logger).Log("msg", "gpu telemetry enabled", "endpoints", len(status.EndpointsReachable))
	} else {
		level.Warn(c.logger).Log("msg", "gpu telemetry disabled", "reason", status.Reason)
	}
}

func (c *Controller) onProcessingStats(_ context.Context, msg messages.Message) {
	stats, ok := msg.(*messages.ProcessingStatsMessage)
	if !ok {
		return
	}
	level.Debug(c.logger).Log("msg", "processing progress",
		"processed", stats.Stats.Processed, "errors", stats.Stats.Errors, "expected", stats.Expected)
}

func (c *Controller) staleLoop(ctx context.Context) {
	interval := c.svcCfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range c.registry.MarkStale() {
				level.Warn(c.logger).Log("msg", "service heartbeat lapsed", "id", id)
			}
		}
	}
}

func (c *Controller) setResults(results *metrics.ProfileResults, cancelled bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if results != nil {
		c.results = results
	}
	if cancelled {
		c.cancelled = true
	}
}

// Results returns the collected profile results, nil when the run produced
// none.
func (c *Controller) Results() *metrics.ProfileResults {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.results
}

// WasCancelled reports whether the run was cancelled before completing.
func (c *Controller) WasCancelled() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.cancelled
}
