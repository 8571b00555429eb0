package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiperf/aiperf/pkg/records"
)

func TestPhaseConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		cfg     PhaseConfig
		wantErr bool
	}{
		{"count-based", PhaseConfig{Phase: records.PhaseProfiling, TotalExpectedRequests: 100}, false},
		{"time-based", PhaseConfig{Phase: records.PhaseProfiling, ExpectedDurationSec: 60}, false},
		{"neither bound", PhaseConfig{Phase: records.PhaseWarmup}, true},
		{"both bounds", PhaseConfig{Phase: records.PhaseProfiling, TotalExpectedRequests: 10, ExpectedDurationSec: 5}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPhaseStatsCountBased(t *testing.T) {
	cfg := &PhaseConfig{Phase: records.PhaseProfiling, TotalExpectedRequests: 2}
	stats := &PhaseStats{Phase: records.PhaseProfiling}

	assert.True(t, stats.ShouldSend(cfg))
	stats.Sent = 1
	assert.True(t, stats.ShouldSend(cfg))
	stats.Sent = 2
	assert.False(t, stats.ShouldSend(cfg))

	assert.Equal(t, 2, stats.InFlight())
	assert.False(t, stats.SendingDone())
	assert.False(t, stats.IsComplete())

	stats.SentEndNS = time.Now().UnixNano()
	assert.True(t, stats.SendingDone())
	assert.False(t, stats.IsComplete(), "in-flight credits keep the phase open")

	stats.Completed = 2
	assert.True(t, stats.IsComplete())
}

func TestPhaseStatsTimeBased(t *testing.T) {
	cfg := &PhaseConfig{Phase: records.PhaseProfiling, ExpectedDurationSec: 3600}
	require.True(t, cfg.TimeBased())

	stats := &PhaseStats{Phase: records.PhaseProfiling, StartNS: time.Now().UnixNano()}
	assert.True(t, stats.ShouldSend(cfg))

	// A phase whose duration has already elapsed stops sending.
	stats.StartNS = time.Now().Add(-2 * time.Hour).UnixNano()
	assert.False(t, stats.ShouldSend(cfg))
}

func TestPhaseStatsCancelled(t *testing.T) {
	cfg := &PhaseConfig{Phase: records.PhaseProfiling, TotalExpectedRequests: 100}
	stats := &PhaseStats{Phase: records.PhaseProfiling, Cancelled: true}
	assert.False(t, stats.ShouldSend(cfg))
}
