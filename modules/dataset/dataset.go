// Package dataset serves conversation turns to the worker pool over the
// request/response fabric.
package dataset

import (
	"context"
	"fmt"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"

	"github.com/aiperf/aiperf/pkg/comms"
	"github.com/aiperf/aiperf/pkg/config"
	"github.com/aiperf/aiperf/pkg/messages"
	"github.com/aiperf/aiperf/pkg/service"
)

// Manager is the dataset manager service. It answers conversation and
// timing requests from a ROUTER responder.
type Manager struct {
	services.Service

	base    *service.Base
	userCfg *config.UserConfig
	logger  kitlog.Logger

	composer Composer
	router   *comms.RouterClient

	runCancel context.CancelFunc
}

// New builds the dataset manager.
func New(commsCfg *comms.Config, svcCfg *config.ServiceConfig, userCfg *config.UserConfig, logger kitlog.Logger) *Manager {
	m := &Manager{
		base:    service.NewBase(messages.ServiceDatasetManager, commsCfg, svcCfg, logger),
		userCfg: userCfg,
	}
	m.logger = m.base.Logger()

	m.base.OnCommand(messages.CommandProfileConfigure, m.onConfigure)
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

	router, err := comms.NewRouterClient(ctx, m.base.CommsConfig(), m.base.ID(), m.logger)
	if err != nil {
		return fmt.Errorf("connecting responder: %w", err)
	}
	router.RegisterHandler(messages.TypeConversationRequest, m.handleConversationRequest)
	router.RegisterHandler(messages.TypeDatasetTimingRequest, m.handleTimingRequest)
	m.router = router

	m.base.StartReceiving(ctx)
	m.router.Start(ctx)
	return nil
}

func (m *Manager) running(ctx context.Context) error {
	if err := m.base.Announce(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (m *Manager) stopping(_ error) error {
	if m.router != nil {
		_ = m.router.Close()
	}
	m.base.Shutdown()
	if m.runCancel != nil {
		m.runCancel()
	}
	return nil
}

// onConfigure loads the composer and announces the population size.
func (m *Manager) onConfigure(context.Context, *messages.CommandMessage, messages.Message) error {
	input := &m.userCfg.Input

	var composer Composer
	var err error
	if input.TraceFile != "" {
		composer, err = LoadTrace(input.TraceFile)
		if err != nil {
			return err
		}
		level.Info(m.logger).Log("msg", "trace loaded", "file", input.TraceFile, "conversations", composer.Count())
	} else {
		composer = NewSyntheticComposer(input.ConversationCount)
		level.Info(m.logger).Log("msg", "synthetic dataset composed", "conversations", composer.Count())
	}
	m.composer = composer

	configured := &messages.DatasetConfiguredMessage{ConversationCount: composer.Count()}
	configured.MessageType = messages.TypeDatasetConfigured
	configured.ServiceID = m.base.ID()
	configured.Stamp()
	return m.base.Pub.Publish(configured)
}

func (m *Manager) handleConversationRequest(_ context.Context, msg messages.Message) (messages.Message, error) {
	req, ok := msg.(*messages.ConversationRequestMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected request type %q", msg.Type())
	}
	if m.composer == nil {
		return nil, fmt.Errorf("dataset not configured")
	}

	var resp messages.ConversationResponseMessage
	if req.ConversationID != "" {
		conv, ok := m.composer.Get(req.ConversationID)
		if !ok {
			return nil, fmt.Errorf("unknown conversation %q", req.ConversationID)
		}
		resp.Conversation = conv
	} else {
		resp.Conversation = m.composer.Next()
	}
	resp.MessageType = messages.TypeConversationResponse
	resp.ServiceID = m.base.ID()
	return &resp, nil
}

func (m *Manager) handleTimingRequest(_ context.Context, msg messages.Message) (messages.Message, error) {
	if m.composer == nil {
		return nil, fmt.Errorf("dataset not configured")
	}

	resp := &messages.DatasetTimingResponseMessage{Entries: m.composer.Timing()}
	resp.MessageType = messages.TypeDatasetTimingResponse
	resp.ServiceID = m.base.ID()
	_ = msg
	return resp, nil
}
