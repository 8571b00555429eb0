// Package config holds the benchmark's user-facing configuration and the
// shared service runtime settings. Every sub-config follows the same
// convention: YAML tags for file-based config plus
// RegisterFlagsAndApplyDefaults for flag-based overrides and defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// EndpointConfig describes the inference endpoint under test.
type EndpointConfig struct {
	// Type selects the adapter: chat, completions, embeddings or rankings.
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url"`
	// CustomEndpoint overrides the adapter's default path when set.
	CustomEndpoint string `yaml:"custom_endpoint"`
	// ModelName is the primary model; a turn naming its own model wins.
	ModelName string `yaml:"model_name"`
	APIKey    string `yaml:"api_key"`
	Streaming bool   `yaml:"streaming"`

	Headers   map[string]string `yaml:"headers"`
	URLParams map[string]string `yaml:"url_params"`
	// Extra parameters are merged into every payload and win on conflict.
	Extra map[string]any `yaml:"extra"`
}

func (c *EndpointConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Type, prefix+".type", "chat", "Endpoint type: chat, completions, embeddings or rankings.")
	f.StringVar(&c.BaseURL, prefix+".base-url", "http://localhost:8000", "Inference server base URL.")
	f.StringVar(&c.CustomEndpoint, prefix+".custom-endpoint", "", "Override the adapter's endpoint path.")
	f.StringVar(&c.ModelName, prefix+".model-name", "", "Primary model name.")
	f.StringVar(&c.APIKey, prefix+".api-key", "", "Bearer token for the Authorization header.")
	f.BoolVar(&c.Streaming, prefix+".streaming", false, "Request SSE streaming responses.")
}

// LoadGenConfig shapes the credit schedule.
type LoadGenConfig struct {
	// WarmupRequestCount enables a count-based warmup phase when positive.
	WarmupRequestCount int `yaml:"warmup_request_count"`
	// RequestCount and BenchmarkDurationSec configure the profiling phase;
	// exactly one must be set.
	RequestCount         int     `yaml:"request_count"`
	BenchmarkDurationSec float64 `yaml:"benchmark_duration_sec"`
	// BenchmarkGracePeriodSec bounds both the post-duration drain and the
	// record inclusion window of time-bounded runs.
	BenchmarkGracePeriodSec float64 `yaml:"benchmark_grace_period_sec"`

	// RequestRate is λ in requests/sec for constant and poisson modes.
	RequestRate float64 `yaml:"request_rate"`
	// RequestRateMode is constant, poisson or concurrency_burst.
	RequestRateMode string `yaml:"request_rate_mode"`
	// MaxConcurrency caps in-flight credits; 0 means unbounded.
	MaxConcurrency int   `yaml:"max_concurrency"`
	RandomSeed     int64 `yaml:"random_seed"`

	// FixedSchedule replays dataset timestamps instead of a request rate.
	FixedSchedule bool `yaml:"fixed_schedule"`
	// FixedScheduleAutoOffset rebases the schedule on its earliest
	// timestamp; FixedScheduleStartOffsetMS skips entries before the
	// offset instead.
	FixedScheduleAutoOffset    bool  `yaml:"fixed_schedule_auto_offset"`
	FixedScheduleStartOffsetMS int64 `yaml:"fixed_schedule_start_offset_ms"`

	// RequestCancellationRate is the fraction [0,1] of requests to cancel
	// after RequestCancellationDelaySec.
	RequestCancellationRate     float64 `yaml:"request_cancellation_rate"`
	RequestCancellationDelaySec float64 `yaml:"request_cancellation_delay_sec"`
}

func (c *LoadGenConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&c.WarmupRequestCount, prefix+".warmup-request-count", 0, "Warmup requests before profiling, 0 to skip warmup.")
	f.IntVar(&c.RequestCount, prefix+".request-count", 0, "Total profiling requests for count-based runs.")
	f.Float64Var(&c.BenchmarkDurationSec, prefix+".benchmark-duration", 0, "Profiling duration in seconds for time-based runs.")
	f.Float64Var(&c.BenchmarkGracePeriodSec, prefix+".benchmark-grace-period", 30, "Grace period in seconds for time-based runs.")
	f.Float64Var(&c.RequestRate, prefix+".request-rate", 0, "Request rate in requests/sec.")
	f.StringVar(&c.RequestRateMode, prefix+".request-rate-mode", "concurrency_burst", "Rate mode: constant, poisson or concurrency_burst.")
	f.IntVar(&c.MaxConcurrency, prefix+".max-concurrency", 0, "Cap on in-flight requests, 0 for unbounded.")
	f.Int64Var(&c.RandomSeed, prefix+".random-seed", 0, "Seed for the poisson arrival process, 0 for time-based.")
	f.BoolVar(&c.FixedSchedule, prefix+".fixed-schedule", false, "Replay dataset timestamps instead of a request rate.")
	f.BoolVar(&c.FixedScheduleAutoOffset, prefix+".fixed-schedule-auto-offset", true, "Rebase fixed schedules on their earliest timestamp.")
	f.Int64Var(&c.FixedScheduleStartOffsetMS, prefix+".fixed-schedule-start-offset", 0, "Skip fixed-schedule entries before this offset in ms.")
	f.Float64Var(&c.RequestCancellationRate, prefix+".request-cancellation-rate", 0, "Fraction of requests to cancel early.")
	f.Float64Var(&c.RequestCancellationDelaySec, prefix+".request-cancellation-delay", 0, "Delay before cancelling a to-be-cancelled request.")
}

// Validate enforces the phase-config invariant and mode coherence.
func (c *LoadGenConfig) Validate() error {
	countSet := c.RequestCount > 0
	durationSet := c.BenchmarkDurationSec > 0
	if c.FixedSchedule {
		if countSet || durationSet {
			return fmt.Errorf("fixed_schedule excludes request_count and benchmark_duration")
		}
	} else if countSet == durationSet {
		return fmt.Errorf("exactly one of request_count and benchmark_duration must be set")
	}

	switch c.RequestRateMode {
	case "constant", "poisson":
		if c.RequestRate <= 0 {
			return fmt.Errorf("request_rate_mode %q requires a positive request_rate", c.RequestRateMode)
		}
	case "concurrency_burst":
		if c.MaxConcurrency <= 0 {
			return fmt.Errorf("request_rate_mode concurrency_burst requires max_concurrency")
		}
	default:
		return fmt.Errorf("unknown request_rate_mode %q", c.RequestRateMode)
	}

	if c.RequestCancellationRate < 0 || c.RequestCancellationRate > 1 {
		return fmt.Errorf("request_cancellation_rate must be within [0, 1]")
	}
	return nil
}

// InputConfig locates the dataset.
type InputConfig struct {
	// TraceFile is a JSONL conversation trace; empty uses the in-memory
	// composer with ConversationCount synthetic sessions.
	TraceFile         string `yaml:"trace_file"`
	ConversationCount int    `yaml:"conversation_count"`
}

func (c *InputConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.TraceFile, prefix+".trace-file", "", "JSONL conversation trace to replay.")
	f.IntVar(&c.ConversationCount, prefix+".conversation-count", 100, "Synthetic conversations when no trace file is given.")
}

// TelemetryConfig selects the DCGM endpoints to scrape.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoints are user-provided DCGM URLs; the default endpoint is
	// always probed first.
	Endpoints       []string      `yaml:"endpoints"`
	DefaultEndpoint string        `yaml:"default_endpoint"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
}

func (c *TelemetryConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.BoolVar(&c.Enabled, prefix+".enabled", true, "Scrape DCGM GPU telemetry during the run.")
	f.StringVar(&c.DefaultEndpoint, prefix+".default-endpoint", "http://localhost:9400/metrics", "DCGM endpoint probed first.")
	f.DurationVar(&c.SampleInterval, prefix+".sample-interval", 330*time.Millisecond, "DCGM poll interval.")
}

// UserConfig is the benchmark definition: what to send, how fast, for how
// long, and what to scrape alongside.
type UserConfig struct {
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	LoadGen   LoadGenConfig   `yaml:"loadgen"`
	Input     InputConfig     `yaml:"input"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func (c *UserConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Endpoint.RegisterFlagsAndApplyDefaults(prefix+".endpoint", f)
	c.LoadGen.RegisterFlagsAndApplyDefaults(prefix+".loadgen", f)
	c.Input.RegisterFlagsAndApplyDefaults(prefix+".input", f)
	c.Telemetry.RegisterFlagsAndApplyDefaults(prefix+".telemetry", f)
}

func (c *UserConfig) Validate() error {
	return c.LoadGen.Validate()
}

// ServiceConfig is the runtime shape of the service fleet, independent of
// what is being benchmarked.
type ServiceConfig struct {
	WorkerCount          int `yaml:"worker_count"`
	RecordProcessorCount int `yaml:"record_processor_count"`
	// PullConcurrency caps concurrent pull handlers per service; the
	// AIPERF_WORKER_CONCURRENT_REQUESTS env var overrides the default.
	PullConcurrency int `yaml:"pull_concurrency"`

	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	ProgressInterval    time.Duration `yaml:"progress_interval"`
	RegistrationTimeout time.Duration `yaml:"registration_timeout"`
	// ShutdownDeadline bounds in-flight drains on cancellation.
	ShutdownDeadline time.Duration `yaml:"shutdown_deadline"`
}

func (c *ServiceConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&c.WorkerCount, prefix+".worker-count", 4, "Worker processes to spawn.")
	f.IntVar(&c.RecordProcessorCount, prefix+".record-processor-count", 2, "Record processor processes to spawn.")
	f.IntVar(&c.PullConcurrency, prefix+".pull-concurrency", pullConcurrencyDefault(), "Concurrent pull handlers per service.")
	f.DurationVar(&c.HeartbeatInterval, prefix+".heartbeat-interval", 5*time.Second, "Service heartbeat interval.")
	f.DurationVar(&c.ProgressInterval, prefix+".progress-interval", time.Second, "Progress publication interval.")
	f.DurationVar(&c.RegistrationTimeout, prefix+".registration-timeout", 30*time.Second, "How long to wait for every service to register.")
	f.DurationVar(&c.ShutdownDeadline, prefix+".shutdown-deadline", 30*time.Second, "Drain deadline on cancellation and shutdown.")
}

// pullConcurrencyDefault reads AIPERF_WORKER_CONCURRENT_REQUESTS once.
func pullConcurrencyDefault() int {
	if v := os.Getenv("AIPERF_WORKER_CONCURRENT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 500
}
