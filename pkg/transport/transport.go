// Package transport sends inference requests over HTTP and captures the
// timings the metric pipeline depends on. One pooled client serves a whole
// worker; unary bodies come back as a single response, SSE streams as one
// response per message, each stamped at chunk arrival.
package transport

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/aiperf/aiperf/pkg/records"
	"github.com/aiperf/aiperf/pkg/sse"
	"github.com/aiperf/aiperf/pkg/util/clock"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPError reports a non-2xx inference response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("inference request failed with status %d: %s", e.Status, e.Body)
}

// ErrorCode surfaces the HTTP status for error summaries.
func (e *HTTPError) ErrorCode() int { return e.Status }

// Config tunes the shared HTTP client.
type Config struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&c.Timeout, prefix+".timeout", 5*time.Minute, "Per-request send/receive timeout.")
	f.IntVar(&c.MaxConnsPerHost, prefix+".max-conns-per-host", 0, "Connection pool cap per host, 0 for unlimited.")
}

// Request is one inference attempt.
type Request struct {
	URL     string
	Payload map[string]any
	Headers map[string]string
	// Streaming reads the body as SSE; unary reads it whole.
	Streaming bool
	// CancelAfterNS aborts the attempt that long after send, when positive.
	CancelAfterNS int64
}

// Result carries the timings and raw responses of one attempt. On error the
// timing fields captured so far are still valid.
type Result struct {
	Status          int
	StartPerfNS     int64
	RecvStartPerfNS int64
	EndPerfNS       int64
	Responses       []records.RawResponse

	WasCancelled       bool
	CancellationPerfNS int64
}

// Client is the pooled inference HTTP client of one worker.
type Client struct {
	http *http.Client
}

// NewClient builds the shared client. Timeouts are enforced per request via
// context so streaming reads are covered too.
func NewClient(cfg *Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.MaxConnsPerHost
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

// Do sends one request. The returned Result always carries whatever timings
// were captured, error or not. Cancellation via CancelAfterNS is reported in
// the Result, not as an error.
func (c *Client) Do(ctx context.Context, req *Request) (*Result, error) {
	res := &Result{}

	body, err := jsonFast.Marshal(req.Payload)
	if err != nil {
		return res, fmt.Errorf("encoding payload: %w", err)
	}

	var cancel context.CancelFunc
	if req.CancelAfterNS > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.CancelAfterNS))
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("building request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	res.StartPerfNS = clock.PerfNow()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		res.EndPerfNS = clock.PerfNow()
		if req.CancelAfterNS > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.WasCancelled = true
			res.CancellationPerfNS = res.EndPerfNS
			return res, nil
		}
		return res, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	res.RecvStartPerfNS = clock.PerfNow()
	res.Status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		res.EndPerfNS = clock.PerfNow()
		return res, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	streaming := req.Streaming && strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
	if streaming {
		err = c.readStream(resp.Body, res)
	} else {
		err = c.readUnary(resp.Body, res)
	}
	res.EndPerfNS = clock.PerfNow()

	if err != nil && req.CancelAfterNS > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.WasCancelled = true
		res.CancellationPerfNS = res.EndPerfNS
		return res, nil
	}
	return res, err
}

func (c *Client) readUnary(body io.Reader, res *Result) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	res.Responses = append(res.Responses, records.RawResponse{
		PerfNS: clock.PerfNow(),
		Text:   string(data),
	})
	return nil
}

// readStream reads the body chunkwise and turns each complete SSE message
// into one raw response stamped at chunk arrival.
func (c *Client) readStream(body io.Reader, res *Result) error {
	var reader sse.Reader
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			perfNS := clock.PerfNow()
			msgs, ferr := reader.Feed(buf[:n], perfNS)
			for _, msg := range msgs {
				res.Responses = append(res.Responses, records.RawResponse{
					PerfNS: msg.PerfNS,
					Text:   msg.Data(),
				})
			}
			if ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			if msg, ok := reader.Finish(clock.PerfNow()); ok {
				res.Responses = append(res.Responses, records.RawResponse{
					PerfNS: msg.PerfNS,
					Text:   msg.Data(),
				})
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
	}
}
