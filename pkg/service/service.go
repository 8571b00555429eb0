// Package service is the shared runtime every aiperf module builds on: bus
// clients, the registration and heartbeat protocol, and addressed command
// dispatch. Modules embed Base inside a dskit BasicService and call its
// hooks from their own starting/running/stopping functions.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/aiperf/aiperf/pkg/comms"
	"github.com/aiperf/aiperf/pkg/config"
	"github.com/aiperf/aiperf/pkg/messages"
)

// CommandHandler executes one command for a service. The error decides
// between an acknowledge and a failure response when one is required.
type CommandHandler func(ctx context.Context, cmd *messages.CommandMessage, payload messages.Message) error

// Base wires one service onto the bus.
type Base struct {
	id          string
	serviceType messages.ServiceType
	commsCfg    *comms.Config
	svcCfg      *config.ServiceConfig
	logger      kitlog.Logger

	Pub *comms.PubClient
	Sub *comms.SubClient

	mtx      sync.Mutex
	commands map[messages.CommandType]CommandHandler
	state    messages.ServiceState

	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

// NewBase builds the runtime for one service instance. The service id is the
// type plus a short random suffix, unique per process.
func NewBase(serviceType messages.ServiceType, commsCfg *comms.Config, svcCfg *config.ServiceConfig, logger kitlog.Logger) *Base {
	id := fmt.Sprintf("%s-%s", serviceType, uuid.NewString()[:8])
	return &Base{
		id:          id,
		serviceType: serviceType,
		commsCfg:    commsCfg,
		svcCfg:      svcCfg,
		logger:      kitlog.With(logger, "service", id),
		commands:    map[messages.CommandType]CommandHandler{},
		state:       messages.StateInitializing,
	}
}

func (b *Base) ID() string                        { return b.id }
func (b *Base) ServiceType() messages.ServiceType { return b.serviceType }
func (b *Base) Logger() kitlog.Logger             { return b.logger }
func (b *Base) ServiceConfig() *config.ServiceConfig { return b.svcCfg }
func (b *Base) CommsConfig() *comms.Config        { return b.commsCfg }

// OnCommand installs the handler for one command type. Must be called before
// Connect.
func (b *Base) OnCommand(cmd messages.CommandType, h CommandHandler) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if _, ok := b.commands[cmd]; ok {
		panic(fmt.Sprintf("service: duplicate command handler for %q", cmd))
	}
	b.commands[cmd] = h
}

// Connect dials the bus and wires command dispatch: broadcast commands plus
// commands addressed to this instance or its service type. Called from the
// module's starting hook.
func (b *Base) Connect(ctx context.Context) error {
	pub, err := comms.NewPubClient(ctx, b.commsCfg, b.logger)
	if err != nil {
		return fmt.Errorf("connecting publisher: %w", err)
	}
	sub, err := comms.NewSubClient(ctx, b.commsCfg, b.logger)
	if err != nil {
		pub.Close()
		return fmt.Errorf("connecting subscriber: %w", err)
	}
	b.Pub, b.Sub = pub, sub

	if err := sub.Subscribe(messages.TypeCommand, b.handleCommand); err != nil {
		return err
	}
	if err := sub.SubscribeAddressed(messages.TypeCommand, b.id, b.handleCommand); err != nil {
		return err
	}
	if err := sub.SubscribeAddressed(messages.TypeCommand, string(b.serviceType), b.handleCommand); err != nil {
		return err
	}
	return nil
}

// StartReceiving starts the subscriber loop. Called after the module's own
// subscriptions are registered.
func (b *Base) StartReceiving(ctx context.Context) {
	b.Sub.Start(ctx)
}

// Announce registers the service with the controller and starts the
// heartbeat ticker. Called at the top of the module's running hook.
func (b *Base) Announce(ctx context.Context) error {
	b.setState(messages.StateRunning)
	if err := b.Pub.Publish(messages.NewRegistrationMessage(b.id, b.serviceType)); err != nil {
		return fmt.Errorf("publishing registration: %w", err)
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	b.hbCancel = cancel
	b.hbDone = make(chan struct{})
	go b.heartbeatLoop(hbCtx)
	_ = ctx
	return nil
}

func (b *Base) heartbeatLoop(ctx context.Context) {
	defer close(b.hbDone)
	interval := b.svcCfg.HeartbeatInterval
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
			if err := b.Pub.Publish(messages.NewHeartbeatMessage(b.id, b.serviceType)); err != nil {
				level.Warn(b.logger).Log("msg", "heartbeat publish failed", "err", err)
			}
		}
	}
}

func (b *Base) setState(state messages.ServiceState) {
	b.mtx.Lock()
	b.state = state
	b.mtx.Unlock()
}

// State returns the last reported lifecycle state.
func (b *Base) State() messages.ServiceState {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.state
}

func (b *Base) handleCommand(ctx context.Context, msg messages.Message) {
	cmd := commandOf(msg)
	if cmd == nil {
		level.Warn(b.logger).Log("msg", "non-command on command topic", "type", msg.Type())
		return
	}
	if cmd.TargetServiceID != "" && cmd.TargetServiceID != b.id {
		return
	}
	if cmd.TargetServiceType != "" && cmd.TargetServiceType != b.serviceType {
		return
	}

	b.mtx.Lock()
	h, ok := b.commands[cmd.Command]
	b.mtx.Unlock()

	var err error
	if ok {
		err = h(ctx, cmd, msg)
	}
	if err != nil {
		level.Error(b.logger).Log("msg", "command failed", "command", cmd.Command, "err", err)
	}

	if cmd.RequireResponse {
		resp := messages.AcknowledgeCommand(cmd, b.id)
		if err != nil {
			resp = messages.FailCommand(cmd, b.id, err)
		}
		if perr := b.Pub.Publish(resp); perr != nil {
			level.Warn(b.logger).Log("msg", "command response publish failed", "command", cmd.Command, "err", perr)
		}
	}
}

// commandOf digs the embedded CommandMessage out of any concrete command.
func commandOf(msg messages.Message) *messages.CommandMessage {
	type carrier interface{ CommandFields() *messages.CommandMessage }
	if c, ok := msg.(carrier); ok {
		return c.CommandFields()
	}
	if c, ok := msg.(*messages.CommandMessage); ok {
		return c
	}
	return nil
}

// Shutdown reports STOPPING, stops the heartbeat and closes the bus clients.
// Called from the module's stopping hook.
func (b *Base) Shutdown() {
	b.setState(messages.StateStopping)
	if b.Pub != nil {
		_ = b.Pub.Publish(messages.NewStatusMessage(b.id, b.serviceType, messages.StateStopping))
	}
	if b.hbCancel != nil {
		b.hbCancel()
		<-b.hbDone
	}
	if b.Sub != nil {
		_ = b.Sub.Close()
	}
	if b.Pub != nil {
		_ = b.Pub.Close()
	}
}
