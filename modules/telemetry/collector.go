package telemetrymanager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/aiperf/aiperf/pkg/telemetry"
)

// collector polls one DCGM exporter and hands each scrape's records to the
// batch callback. Scrape failures go to the error callback and do not stop
// the loop.
type collector struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   kitlog.Logger

	onBatch func(records []telemetry.Record)
	onError func(err error)
}

func newCollector(url string, interval time.Duration, client *http.Client, logger kitlog.Logger,
	onBatch func([]telemetry.Record), onError func(error)) *collector {
	return &collector{
		url:      url,
		interval: interval,
		client:   client,
		logger:   kitlog.With(logger, "dcgm_url", url),
		onBatch:  onBatch,
		onError:  onError,
	}
}

// run polls until the context is cancelled. The first scrape happens
// immediately so short runs still get at least one sample.
func (c *collector) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.scrape(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *collector) scrape(ctx context.Context) {
	records, err := c.scrapeOnce(ctx)
	if err != nil {
		level.Debug(c.logger).Log("msg", "dcgm scrape failed", "err", err)
		c.onError(err)
		return
	}
	if len(records) > 0 {
		c.onBatch(records)
	}
}

func (c *collector) scrapeOnce(ctx context.Context) ([]telemetry.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building dcgm request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraping %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("scraping %s: unexpected status %d", c.url, resp.StatusCode)
	}

	parsed, err := telemetry.ParseDCGM(resp.Body, c.url, time.Now().UnixNano())
	if err != nil {
		return nil, err
	}
	records := make([]telemetry.Record, 0, len(parsed))
	for _, rec := range parsed {
		records = append(records, *rec)
	}
	return records, nil
}

// NormalizeEndpoint canonicalizes a user-supplied DCGM URL: a missing scheme
// defaults to http, a bare host gets the /metrics path, and trailing slashes
// are dropped.
func NormalizeEndpoint(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	u = strings.TrimRight(u, "/")
	if !strings.HasSuffix(u, "/metrics") {
		u += "/metrics"
	}
	return u
}

// normalizeEndpoints canonicalizes and dedups, keeping first-seen order. The
// default endpoint always comes first so its GPUs lead the report.
func normalizeEndpoints(defaultEndpoint string, endpoints []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, raw := range append([]string{defaultEndpoint}, endpoints...) {
		u := NormalizeEndpoint(raw)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// probe checks reachability with a HEAD, falling back to GET for exporters
// that reject HEAD.
func probe(ctx context.Context, client *http.Client, url string) bool {
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return true
		}
	}
	return false
}
