// Package recordprocessor turns raw request records into per-record metric
// values. Processors are horizontally scaled: each pulls its share of the
// inference results queue, parses responses with the endpoint adapter, runs
// the metric graph, and pushes the values to the records manager.
package recordprocessor

import (
	"context"
	"fmt"
	"strings"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aiperf/aiperf/pkg/comms"
	"github.com/aiperf/aiperf/pkg/config"
	"github.com/aiperf/aiperf/pkg/endpoints"
	"github.com/aiperf/aiperf/pkg/messages"
	"github.com/aiperf/aiperf/pkg/metrics"
	"github.com/aiperf/aiperf/pkg/records"
	"github.com/aiperf/aiperf/pkg/service"
)

var metricRecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aiperf",
	Name:      "recordprocessor_records_total",
	Help:      "Request records processed per outcome.",
}, []string{"outcome"})

// Tokenizer counts tokens of generated text when the server does not report
// usage. The real tokenizer is an external collaborator.
type Tokenizer interface {
	CountTokens(text string) int
}

// Processor is one record processor service instance.
type Processor struct {
	services.Service

	base      *service.Base
	logger    kitlog.Logger
	adapter   endpoints.Adapter
	tokenizer Tokenizer

	pull *comms.PullClient
	push *comms.PushClient

	runCancel context.CancelFunc
}

// New builds a record processor. tokenizer may be nil; token counts then
// fall back to server-reported usage and a per-chunk estimate.
func New(commsCfg *comms.Config, svcCfg *config.ServiceConfig, userCfg *config.UserConfig, tokenizer Tokenizer, logger kitlog.Logger) (*Processor, error) {
	adapter, err := endpoints.NewAdapter(userCfg.Endpoint.Type)
	if err != nil {
		return nil, err
	}

	p := &Processor{
		base:      service.NewBase(messages.ServiceRecordProcessor, commsCfg, svcCfg, logger),
		adapter:   adapter,
		tokenizer: tokenizer,
	}
	p.logger = p.base.Logger()

	p.base.OnCommand(messages.CommandProfileConfigure, func(context.Context, *messages.CommandMessage, messages.Message) error {
		return nil
	})
	p.base.OnCommand(messages.CommandShutdown, func(context.Context, *messages.CommandMessage, messages.Message) error {
		p.StopAsync()
		return nil
	})
	p.Service = services.NewBasicService(p.starting, p.running, p.stopping)
	return p, nil
}

func (p *Processor) starting(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.runCancel = cancel

	if err := p.base.Connect(ctx); err != nil {
		return err
	}

	pull, err := comms.NewPullClient(ctx, p.base.CommsConfig(), comms.ChannelInferenceResults, p.base.ServiceConfig().PullConcurrency, p.logger)
	if err != nil {
		return fmt.Errorf("connecting inference results queue: %w", err)
	}
	pull.Register(messages.TypeInferenceResults, p.handleRecord)
	p.pull = pull

	p.push, err = comms.NewPushClient(ctx, p.base.CommsConfig(), comms.ChannelRecords, p.logger)
	if err != nil {
		return fmt.Errorf("connecting records queue: %w", err)
	}

	p.base.StartReceiving(ctx)
	p.pull.Start(ctx)
	return nil
}

func (p *Processor) running(ctx context.Context) error {
	if err := p.base.Announce(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (p *Processor) stopping(_ error) error {
	if p.pull != nil {
		_ = p.pull.Close()
	}
	if p.push != nil {
		_ = p.push.Close()
	}
	p.base.Shutdown()
	if p.runCancel != nil {
		p.runCancel()
	}
	return nil
}

func (p *Processor) handleRecord(_ context.Context, msg messages.Message) {
	in, ok := msg.(*messages.InferenceResultsMessage)
	if !ok {
		level.Warn(p.logger).Log("msg", "unexpected message on inference results queue", "type", msg.Type())
		return
	}

	parsed := p.parse(&in.Record)
	vals, err := metrics.ComputeAll(parsed)
	if err != nil {
		level.Warn(p.logger).Log("msg", "metric computation incomplete", "err", err)
	}

	out := &messages.MetricRecordsMessage{
		WorkerID:    in.ServiceID,
		CreditPhase: in.Record.CreditPhase,
		Results:     []metrics.Values{vals},
		Metadata: metrics.RecordMetadata{
			ConversationID: in.Record.ConversationID,
			TurnIndex:      in.Record.TurnIndex,
			ModelName:      in.Record.ModelName,
			XRequestID:     in.Record.XRequestID,
			XCorrelationID: in.Record.XCorrelationID,
			WasCancelled:   in.Record.WasCancelled,
			Error:          in.Record.Error,
		},
		Valid: parsed.Valid() && parsed.Error == nil,
		Error: in.Record.Error,
	}
	out.MessageType = messages.TypeMetricRecords
	out.ServiceID = p.base.ID()
	out.Stamp()

	outcome := "ok"
	if !out.Valid {
		outcome = "error"
	}
	metricRecordsProcessed.WithLabelValues(outcome).Inc()

	if err := p.push.Push(out); err != nil {
		level.Warn(p.logger).Log("msg", "metric records push failed", "err", err)
	}
}

// parse structures the raw responses and derives token counts.
// Server-reported usage wins; without it, output tokens come from the
// tokenizer (or a per-chunk estimate), and input tokens stay unknown.
func (p *Processor) parse(rec *records.RequestRecord) *records.ParsedResponseRecord {
	parsed := &records.ParsedResponseRecord{RequestRecord: *rec}

	var usage *records.Usage
	for _, raw := range rec.Responses {
		pr, err := p.adapter.ParseResponse(raw.Text)
		if err != nil {
			if parsed.Error == nil {
				parsed.Error = records.ErrorDetailsFrom(err)
			}
			continue
		}
		if pr == nil {
			continue
		}
		if pr.Usage != nil {
			usage = pr.Usage
		}
		if pr.Data == nil {
			continue
		}
		pr.PerfNS = raw.PerfNS
		parsed.Parsed = append(parsed.Parsed, *pr)
	}

	if usage != nil {
		parsed.InputTokens = usage.PromptTokens
		parsed.OutputTokens = usage.CompletionTokens
		parsed.ReasoningTokens = usage.ReasoningTokens
		return parsed
	}

	parsed.OutputTokens = p.countOutputTokens(parsed.Parsed)
	return parsed
}

func (p *Processor) countOutputTokens(parsed []records.ParsedResponse) int {
	var sb strings.Builder
	chunks := 0
	for i := range parsed {
		if text := parsed[i].Data.OutputText(); text != "" {
			sb.WriteString(text)
			chunks++
		}
	}
	if sb.Len() == 0 {
		return 0
	}
	if p.tokenizer != nil {
		return p.tokenizer.CountTokens(sb.String())
	}
	// Streaming servers emit roughly one token per chunk; for unary
	// responses this undercounts and usage should be preferred.
	return chunks
}
