// Package app wires the aiperf modules into a runnable binary. One target
// runs one module; the controller target runs a whole benchmark by spawning
// the rest of the fleet as subprocesses of this same binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"

	"github.com/aiperf/aiperf/modules/controller"
	"github.com/aiperf/aiperf/pkg/util/log"
)

// ErrRunIncomplete reports a run that ended without producing results.
var ErrRunIncomplete = errors.New("run ended without results")

// App is the root datastructure.
type App struct {
	cfg    Config
	logger kitlog.Logger

	controller    *controller.Controller
	moduleManager *modules.Manager
	serviceMap    map[string]services.Service
}

// New makes a new app.
func New(cfg Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		logger: log.Logger,
	}
	if err := app.setupModuleManager(); err != nil {
		return nil, fmt.Errorf("setting up module manager: %w", err)
	}
	return app, nil
}

// Run starts the target's services and blocks until they stop, a signal
// arrives, or the run finishes.
func (t *App) Run() error {
	serviceMap, err := t.moduleManager.InitModuleServices(t.cfg.Target)
	if err != nil {
		return fmt.Errorf("initialising modules: %w", err)
	}
	t.serviceMap = serviceMap

	servs := make([]services.Service, 0, len(serviceMap))
	for _, s := range serviceMap {
		servs = append(servs, s)
	}
	sm, err := services.NewManager(servs...)
	if err != nil {
		return fmt.Errorf("creating service manager: %w", err)
	}

	ctx := context.Background()
	if err := sm.StartAsync(ctx); err != nil {
		return fmt.Errorf("starting services: %w", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		level.Info(t.logger).Log("msg", "received signal, shutting down", "signal", sig)
		sm.StopAsync()
	}()

	// A benchmark run ends when the controller is done; the other services
	// run until told to stop.
	if t.controller != nil {
		go func() {
			_ = t.controller.AwaitTerminated(context.Background())
			sm.StopAsync()
		}()
	}

	smErr := sm.AwaitStopped(ctx)
	close(sigCh)

	for m, s := range t.serviceMap {
		if fc := s.FailureCase(); fc != nil && !errors.Is(fc, modules.ErrStopProcess) {
			level.Error(t.logger).Log("msg", "module failed", "module", m, "err", fc)
			if smErr == nil {
				smErr = fmt.Errorf("module %s: %w", m, fc)
			}
		}
	}
	if smErr != nil {
		return smErr
	}

	if t.controller != nil {
		return t.exportResults()
	}
	return nil
}

func (t *App) exportResults() error {
	results := t.controller.Results()
	if results == nil {
		if t.controller.WasCancelled() {
			level.Info(t.logger).Log("msg", "run cancelled before any results")
			return nil
		}
		return ErrRunIncomplete
	}

	if err := controller.WriteResults(t.cfg.OutputPath, results); err != nil {
		return err
	}
	level.Info(t.logger).Log("msg", "profile results written", "path", t.cfg.OutputPath,
		"completed", results.Completed, "cancelled", results.WasCancelled)
	controller.PrintSummary(os.Stdout, results)
	return nil
}
