// Package worker turns credits into inference requests. Each worker pulls
// credit drops, resolves the conversation with the dataset manager, plays
// its turns over HTTP, and pushes one RequestRecord per turn to the record
// processor pool plus one credit return to the timing manager.
package worker

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aiperf/aiperf/pkg/comms"
	"github.com/aiperf/aiperf/pkg/config"
	"github.com/aiperf/aiperf/pkg/endpoints"
	"github.com/aiperf/aiperf/pkg/messages"
	"github.com/aiperf/aiperf/pkg/records"
	"github.com/aiperf/aiperf/pkg/service"
	"github.com/aiperf/aiperf/pkg/transport"
	"github.com/aiperf/aiperf/pkg/util/clock"
)

var metricRequestsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aiperf",
	Name:      "worker_requests_total",
	Help:      "Inference requests sent per phase and outcome.",
}, []string{"phase", "outcome"})

// Worker is one worker service instance.
type Worker struct {
	services.Service

	base    *service.Base
	userCfg *config.UserConfig
	logger  kitlog.Logger

	adapter endpoints.Adapter
	client  *transport.Client
	url     string

	credits *comms.PullClient
	results *comms.PushClient
	returns *comms.PushClient
	dealer  *comms.DealerClient

	mtx   sync.Mutex
	tasks map[messages.CreditPhase]*messages.WorkerTaskStats

	runCancel context.CancelFunc
}

// New builds a worker.
func New(commsCfg *comms.Config, svcCfg *config.ServiceConfig, userCfg *config.UserConfig, transportCfg *transport.Config, logger kitlog.Logger) (*Worker, error) {
	adapter, err := endpoints.NewAdapter(userCfg.Endpoint.Type)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		base:    service.NewBase(messages.ServiceWorker, commsCfg, svcCfg, logger),
		userCfg: userCfg,
		adapter: adapter,
		client:  transport.NewClient(transportCfg),
		tasks:   map[messages.CreditPhase]*messages.WorkerTaskStats{},
	}
	w.logger = w.base.Logger()

	w.url, err = requestURL(&userCfg.Endpoint, adapter.Metadata())
	if err != nil {
		return nil, err
	}

	w.base.OnCommand(messages.CommandShutdown, func(context.Context, *messages.CommandMessage, messages.Message) error {
		w.StopAsync()
		return nil
	})
	w.Service = services.NewBasicService(w.starting, w.running, w.stopping)
	return w, nil
}

// requestURL resolves the endpoint URL: base + adapter path (or the custom
// override) + user query params.
func requestURL(cfg *config.EndpointConfig, meta endpoints.Metadata) (string, error) {
	path := meta.EndpointPath
	if cfg.CustomEndpoint != "" {
		path = "/" + strings.TrimPrefix(cfg.CustomEndpoint, "/")
	}
	u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + path)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint url: %w", err)
	}
	if len(cfg.URLParams) > 0 {
		q := u.Query()
		for k, v := range cfg.URLParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (w *Worker) starting(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	w.runCancel = cancel

	if err := w.base.Connect(ctx); err != nil {
		return err
	}

	credits, err := comms.NewPullClient(ctx, w.base.CommsConfig(), comms.ChannelCreditDrop, w.base.ServiceConfig().PullConcurrency, w.logger)
	if err != nil {
		return fmt.Errorf("connecting credit queue: %w", err)
	}
	credits.Register(messages.TypeCreditDrop, w.handleCredit)
	w.credits = credits

	w.results, err = comms.NewPushClient(ctx, w.base.CommsConfig(), comms.ChannelInferenceResults, w.logger)
	if err != nil {
		return fmt.Errorf("connecting results queue: %w", err)
	}
	w.returns, err = comms.NewPushClient(ctx, w.base.CommsConfig(), comms.ChannelCreditReturn, w.logger)
	if err != nil {
		return fmt.Errorf("connecting credit return queue: %w", err)
	}
	w.dealer, err = comms.NewDealerClient(ctx, w.base.CommsConfig(), w.base.ID(), w.logger)
	if err != nil {
		return fmt.Errorf("connecting dataset dealer: %w", err)
	}

	w.base.StartReceiving(ctx)
	w.credits.Start(ctx)
	w.dealer.Start(ctx)
	return nil
}

func (w *Worker) running(ctx context.Context) error {
	if err := w.base.Announce(ctx); err != nil {
		return err
	}
	go w.healthLoop(ctx)
	<-ctx.Done()
	return nil
}

func (w *Worker) stopping(_ error) error {
	if w.credits != nil {
		_ = w.credits.Close()
	}
	if w.dealer != nil {
		_ = w.dealer.Close()
	}
	if w.results != nil {
		_ = w.results.Close()
	}
	if w.returns != nil {
		_ = w.returns.Close()
	}
	w.base.Shutdown()
	if w.runCancel != nil {
		w.runCancel()
	}
	return nil
}

func (w *Worker) handleCredit(ctx context.Context, msg messages.Message) {
	drop, ok := msg.(*messages.CreditDropMessage)
	if !ok {
		level.Warn(w.logger).Log("msg", "unexpected message on credit queue", "type", msg.Type())
		return
	}

	creditRecvPerfNS := clock.PerfNow()
	var dropLatencyNS int64
	if drop.RequestNS > 0 {
		dropLatencyNS = clock.WallNow() - drop.RequestNS
	}
	w.trackTask(drop.Phase, func(s *messages.WorkerTaskStats) { s.Total++; s.InFlight++ })

	var delayedNS int64
	if drop.CreditDropNS > 0 {
		if err := clock.SleepUntilWall(ctx, drop.CreditDropNS); err != nil {
			w.finishTask(drop.Phase, false)
			return
		}
		if late := clock.WallNow() - drop.CreditDropNS; late > 0 {
			delayedNS = late
		}
	}

	conv, err := w.resolveConversation(ctx, drop)
	if err != nil {
		level.Warn(w.logger).Log("msg", "conversation resolution failed", "err", err)
		w.pushRecord(errorRecord(drop, err))
		w.pushReturn(drop, delayedNS, clock.PerfNow()-creditRecvPerfNS)
		w.finishTask(drop.Phase, false)
		return
	}

	preInferenceNS := clock.PerfNow() - creditRecvPerfNS
	ok = w.playConversation(ctx, drop, conv, delayedNS, dropLatencyNS)
	w.pushReturn(drop, delayedNS, preInferenceNS)
	w.finishTask(drop.Phase, ok)
}

func (w *Worker) resolveConversation(ctx context.Context, drop *messages.CreditDropMessage) (*records.Conversation, error) {
	reqCtx, cancel := context.WithTimeout(ctx, comms.DefaultRequestTimeout)
	defer cancel()

	req := &messages.ConversationRequestMessage{
		ConversationID: drop.ConversationID,
		CreditPhase:    drop.Phase,
	}
	req.MessageType = messages.TypeConversationRequest
	req.ServiceID = w.base.ID()

	resp, err := w.dealer.Request(reqCtx, req)
	if err != nil {
		return nil, err
	}
	conv, ok := resp.(*messages.ConversationResponseMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected conversation response type %q", resp.Type())
	}
	if len(conv.Conversation.Turns) == 0 {
		return nil, fmt.Errorf("conversation %q has no turns", conv.Conversation.SessionID)
	}
	return &conv.Conversation, nil
}

// playConversation sends every turn in order, waiting out inter-turn delays
// and echoing each response back as an assistant turn so later turns carry
// the full history.
func (w *Worker) playConversation(ctx context.Context, drop *messages.CreditDropMessage, conv *records.Conversation, delayedNS, dropLatencyNS int64) bool {
	history := make([]records.Turn, 0, len(conv.Turns)*2)
	allOK := true

	for i := range conv.Turns {
		turn := conv.Turns[i]
		if i > 0 && turn.DelayMS > 0 {
			select {
			case <-time.After(time.Duration(turn.DelayMS) * time.Millisecond):
			case <-ctx.Done():
				return false
			}
		}
		history = append(history, turn)

		rec, outputText := w.sendTurn(ctx, drop, conv, i, history, delayedNS, dropLatencyNS)
		w.pushRecord(rec)

		outcome := "ok"
		switch {
		case rec.WasCancelled:
			outcome = "cancelled"
		case rec.Error != nil:
			outcome = "error"
			allOK = false
		}
		metricRequestsSent.WithLabelValues(string(drop.Phase), outcome).Inc()

		if rec.Error != nil || rec.WasCancelled {
			// A failed turn invalidates the rest of the conversation.
			return allOK
		}
		if outputText != "" {
			history = append(history, records.Turn{
				Role:  "assistant",
				Texts: []records.Media{{Contents: []string{outputText}}},
			})
		}
	}
	return allOK
}

func (w *Worker) sendTurn(ctx context.Context, drop *messages.CreditDropMessage, conv *records.Conversation, turnIndex int, history []records.Turn, delayedNS, dropLatencyNS int64) (*records.RequestRecord, string) {
	endpoint := &w.userCfg.Endpoint

	rec := &records.RequestRecord{
		ConversationID:      conv.SessionID,
		TurnIndex:           turnIndex,
		CreditPhase:         drop.Phase,
		TimestampNS:         clock.WallNow(),
		CreditDropLatencyNS: dropLatencyNS,
		XRequestID:          uuid.NewString(),
		XCorrelationID:      drop.CorrelationID(),
		CancelAfterNS:       drop.CancelAfterNS,
	}
	if turnIndex == 0 {
		rec.DelayedNS = delayedNS
	}

	info := &endpoints.RequestInfo{
		Turns:     history,
		ModelName: endpoint.ModelName,
		Streaming: endpoint.Streaming,
		Extra:     endpoint.Extra,
	}
	rec.ModelName = endpoint.ModelName
	payload, err := w.adapter.FormatPayload(info)
	if err != nil {
		rec.Error = records.ErrorDetailsFrom(err)
		return rec, ""
	}

	req := &transport.Request{
		URL:       w.url,
		Payload:   payload,
		Headers:   w.headers(rec),
		Streaming: endpoint.Streaming,
	}
	if drop.ShouldCancel {
		req.CancelAfterNS = drop.CancelAfterNS
	}

	res, err := w.client.Do(ctx, req)
	rec.Status = res.Status
	rec.StartPerfNS = res.StartPerfNS
	rec.RecvStartPerfNS = res.RecvStartPerfNS
	rec.EndPerfNS = res.EndPerfNS
	rec.Responses = res.Responses
	rec.WasCancelled = res.WasCancelled
	rec.CancellationPerfNS = res.CancellationPerfNS
	if err != nil {
		rec.Error = records.ErrorDetailsFrom(err)
		return rec, ""
	}
	return rec, w.outputText(res.Responses)
}

// outputText concatenates the completion text of a turn's responses for the
// assistant-turn echo.
func (w *Worker) outputText(responses []records.RawResponse) string {
	var sb strings.Builder
	for _, raw := range responses {
		parsed, err := w.adapter.ParseResponse(raw.Text)
		if err != nil || parsed == nil || parsed.Data == nil {
			continue
		}
		sb.WriteString(parsed.Data.OutputText())
	}
	return sb.String()
}

func (w *Worker) headers(rec *records.RequestRecord) map[string]string {
	endpoint := &w.userCfg.Endpoint
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if endpoint.Streaming {
		headers["Accept"] = "text/event-stream"
	}
	if endpoint.APIKey != "" {
		headers["Authorization"] = "Bearer " + endpoint.APIKey
	}
	for k, v := range endpoint.Headers {
		headers[k] = v
	}
	headers["X-Request-ID"] = rec.XRequestID
	headers["X-Correlation-ID"] = rec.XCorrelationID
	rec.RequestHeaders = headers
	return headers
}

func errorRecord(drop *messages.CreditDropMessage, err error) *records.RequestRecord {
	return &records.RequestRecord{
		ConversationID: drop.ConversationID,
		CreditPhase:    drop.Phase,
		TimestampNS:    clock.WallNow(),
		Error:          records.ErrorDetailsFrom(err),
	}
}

func (w *Worker) pushRecord(rec *records.RequestRecord) {
	msg := &messages.InferenceResultsMessage{Record: *rec}
	msg.MessageType = messages.TypeInferenceResults
	msg.ServiceID = w.base.ID()
	msg.Stamp()
	if err := w.results.Push(msg); err != nil {
		level.Warn(w.logger).Log("msg", "record push failed", "err", err)
	}
}

func (w *Worker) pushReturn(drop *messages.CreditDropMessage, delayedNS, preInferenceNS int64) {
	ret := &messages.CreditReturnMessage{
		Phase:          drop.Phase,
		ConversationID: drop.ConversationID,
		CreditDropNS:   drop.CreditDropNS,
		DelayedNS:      delayedNS,
		PreInferenceNS: preInferenceNS,
	}
	ret.MessageType = messages.TypeCreditReturn
	ret.ServiceID = w.base.ID()
	ret.Stamp()
	if err := w.returns.Push(ret); err != nil {
		level.Warn(w.logger).Log("msg", "credit return push failed", "err", err)
	}
}

func (w *Worker) trackTask(phase messages.CreditPhase, fn func(*messages.WorkerTaskStats)) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	stats, ok := w.tasks[phase]
	if !ok {
		stats = &messages.WorkerTaskStats{}
		w.tasks[phase] = stats
	}
	fn(stats)
}

func (w *Worker) finishTask(phase messages.CreditPhase, ok bool) {
	w.trackTask(phase, func(s *messages.WorkerTaskStats) {
		s.InFlight--
		if ok {
			s.Completed++
		} else {
			s.Failed++
		}
	})
}

func (w *Worker) healthLoop(ctx context.Context) {
	interval := w.base.ServiceConfig().ProgressInterval
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
			w.mtx.Lock()
			stats := make(map[messages.CreditPhase]messages.WorkerTaskStats, len(w.tasks))
			for phase, s := range w.tasks {
				stats[phase] = *s
			}
			w.mtx.Unlock()

			health := &messages.WorkerHealthMessage{PID: os.Getpid(), TaskStats: stats}
			health.MessageType = messages.TypeWorkerHealth
			health.ServiceID = w.base.ID()
			health.Stamp()
			if err := w.base.Pub.Publish(health); err != nil {
				level.Debug(w.logger).Log("msg", "health publish failed", "err", err)
			}
		}
	}
}
