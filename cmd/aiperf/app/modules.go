package app

import (
	"os"

	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"

	"github.com/aiperf/aiperf/modules/broker"
	"github.com/aiperf/aiperf/modules/controller"
	"github.com/aiperf/aiperf/modules/dataset"
	"github.com/aiperf/aiperf/modules/recordprocessor"
	"github.com/aiperf/aiperf/modules/recordsmanager"
	telemetrymanager "github.com/aiperf/aiperf/modules/telemetry"
	"github.com/aiperf/aiperf/modules/timing"
	"github.com/aiperf/aiperf/modules/worker"
)

// The various modules that make up aiperf.
const (
	Broker           string = "broker"
	Controller       string = "controller"
	TimingManager    string = "timing-manager"
	DatasetManager   string = "dataset-manager"
	Worker           string = "worker"
	RecordProcessor  string = "record-processor"
	RecordsManager   string = "records-manager"
	TelemetryManager string = "telemetry-manager"
	All              string = "all"
)

var moduleTargets = map[string]bool{
	Broker:           true,
	Controller:       true,
	TimingManager:    true,
	DatasetManager:   true,
	Worker:           true,
	RecordProcessor:  true,
	RecordsManager:   true,
	TelemetryManager: true,
	All:              true,
}

func (t *App) initBroker() (services.Service, error) {
	return broker.New(&t.cfg.Comms, t.logger), nil
}

func (t *App) initController() (services.Service, error) {
	var procs *controller.ProcessManager
	if t.cfg.Target == Controller {
		// Children inherit the invocation flags plus this run's bus namespace.
		args := append([]string{"-comms.run-id=" + t.cfg.Comms.RunID}, os.Args[1:]...)
		var err error
		procs, err = controller.NewProcessManager(args, t.logger)
		if err != nil {
			return nil, err
		}
	}
	t.controller = controller.New(&t.cfg.Comms, &t.cfg.Service, &t.cfg.Benchmark, procs, t.logger)
	return t.controller, nil
}

func (t *App) initTimingManager() (services.Service, error) {
	return timing.New(&t.cfg.Comms, &t.cfg.Service, &t.cfg.Benchmark, t.logger), nil
}

func (t *App) initDatasetManager() (services.Service, error) {
	return dataset.New(&t.cfg.Comms, &t.cfg.Service, &t.cfg.Benchmark, t.logger), nil
}

func (t *App) initWorker() (services.Service, error) {
	return worker.New(&t.cfg.Comms, &t.cfg.Service, &t.cfg.Benchmark, &t.cfg.Transport, t.logger)
}

func (t *App) initRecordProcessor() (services.Service, error) {
	return recordprocessor.New(&t.cfg.Comms, &t.cfg.Service, &t.cfg.Benchmark, nil, t.logger)
}

func (t *App) initRecordsManager() (services.Service, error) {
	return recordsmanager.New(&t.cfg.Comms, &t.cfg.Service, &t.cfg.Benchmark, t.logger), nil
}

func (t *App) initTelemetryManager() (services.Service, error) {
	return telemetrymanager.New(&t.cfg.Comms, &t.cfg.Service, &t.cfg.Benchmark, t.logger), nil
}

func (t *App) setupModuleManager() error {
	mm := modules.NewManager(t.logger)

	mm.RegisterModule(Broker, t.initBroker)
	mm.RegisterModule(Controller, t.initController)
	mm.RegisterModule(TimingManager, t.initTimingManager)
	mm.RegisterModule(DatasetManager, t.initDatasetManager)
	mm.RegisterModule(Worker, t.initWorker)
	mm.RegisterModule(RecordProcessor, t.initRecordProcessor)
	mm.RegisterModule(RecordsManager, t.initRecordsManager)
	mm.RegisterModule(TelemetryManager, t.initTelemetryManager)
	mm.RegisterModule(All, nil)

	deps := map[string][]string{
		All: {Broker, Controller, TimingManager, DatasetManager, Worker, RecordProcessor, RecordsManager, TelemetryManager},
	}
	if t.cfg.Target == All {
		// In-process the broker must come up with the fleet; as separate
		// processes the services dial the broker's external endpoints.
		for _, m := range []string{Controller, TimingManager, DatasetManager, Worker, RecordProcessor, RecordsManager, TelemetryManager} {
			deps[m] = []string{Broker}
		}
	}
	for m, d := range deps {
		if err := mm.AddDependency(m, d...); err != nil {
			return err
		}
	}

	t.moduleManager = mm
	return nil
}
