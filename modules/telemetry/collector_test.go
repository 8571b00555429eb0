package telemetrymanager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiperf/aiperf/pkg/telemetry"
)

func TestNormalizeEndpoint(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"localhost:9400", "http://localhost:9400/metrics"},
		{"http://localhost:9400", "http://localhost:9400/metrics"},
		{"http://localhost:9400/", "http://localhost:9400/metrics"},
		{"http://localhost:9400/metrics", "http://localhost:9400/metrics"},
		{"http://localhost:9400/metrics/", "http://localhost:9400/metrics"},
		{"https://gpu-node:9400/metrics", "https://gpu-node:9400/metrics"},
		{"  node-1:9400  ", "http://node-1:9400/metrics"},
		{"", ""},
		{"   ", ""},
	} {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeEndpoint(tc.in))
		})
	}
}

func TestNormalizeEndpoints(t *testing.T) {
	got := normalizeEndpoints("localhost:9400", []string{
		"http://localhost:9400/metrics", // dup of the default
		"node-2:9400",
		"",
		"node-2:9400/", // dup after normalization
		"node-3:9400",
	})
	assert.Equal(t, []string{
		"http://localhost:9400/metrics",
		"http://node-2:9400/metrics",
		"http://node-3:9400/metrics",
	}, got)
}

func TestProbe(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	headRejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer headRejecting.Close()

	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()

	ctx := context.Background()
	client := &http.Client{Timeout: time.Second}

	assert.True(t, probe(ctx, client, ok.URL))
	assert.True(t, probe(ctx, client, headRejecting.URL), "GET fallback must cover HEAD-rejecting exporters")
	assert.False(t, probe(ctx, client, notFound.URL))
	assert.False(t, probe(ctx, client, "http://127.0.0.1:1/metrics"))
}

func TestCollectorScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`DCGM_FI_DEV_GPU_UTIL{gpu="0",UUID="GPU-aaa"} 75
`))
	}))
	defer srv.Close()

	var batches [][]telemetry.Record
	c := newCollector(srv.URL, time.Second, srv.Client(), kitlog.NewNopLogger(),
		func(recs []telemetry.Record) { batches = append(batches, recs) },
		func(err error) { t.Errorf("unexpected scrape error: %v", err) })

	c.scrape(context.Background())

	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	rec := batches[0][0]
	assert.Equal(t, "GPU-aaa", rec.GPUUUID)
	assert.Equal(t, srv.URL, rec.DCGMURL)
	require.NotNil(t, rec.Metrics.GPUUtilization)
	assert.Equal(t, 75.0, *rec.Metrics.GPUUtilization)
}

func TestCollectorScrapeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var errs []error
	c := newCollector(srv.URL, time.Second, srv.Client(), kitlog.NewNopLogger(),
		func([]telemetry.Record) { t.Error("no batch expected") },
		func(err error) { errs = append(errs, err) })

	c.scrape(context.Background())
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "unexpected status 503")
}

func TestCollectorRunStopsOnCancel(t *testing.T) {
	scraped := make(chan struct{}, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case scraped <- struct{}{}:
		default:
		}
		w.Write([]byte(`DCGM_FI_DEV_GPU_UTIL{gpu="0",UUID="GPU-aaa"} 1
`))
	}))
	defer srv.Close()

	c := newCollector(srv.URL, 10*time.Millisecond, srv.Client(), kitlog.NewNopLogger(),
		func([]telemetry.Record) {}, func(error) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.run(ctx)
		close(done)
	}()

	// First scrape happens immediately, before the first tick.
	select {
	case <-scraped:
	case <-time.After(time.Second):
		t.Fatal("no scrape within a second")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
}
