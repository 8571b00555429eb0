package timing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiperf/aiperf/pkg/config"
	"github.com/aiperf/aiperf/pkg/messages"
)

func TestNewRateStrategy(t *testing.T) {
	for _, tc := range []struct {
		mode    string
		wantErr bool
	}{
		{"constant", false},
		{"poisson", false},
		{"concurrency_burst", false},
		{"warp", true},
	} {
		t.Run(tc.mode, func(t *testing.T) {
			_, err := newRateStrategy(&config.LoadGenConfig{RequestRateMode: tc.mode, RequestRate: 10})
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConstantStrategyAnchoredIntervals(t *testing.T) {
	// 100k rps keeps the accumulated sleep under a millisecond.
	s := &constantStrategy{intervalNS: 10_000}
	ctx := context.Background()

	var drops []int64
	for i := 0; i < 5; i++ {
		slot, ok, err := s.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		drops = append(drops, slot.DropNS)
	}

	// Instants accumulate from the anchor; drift does not.
	for i := 1; i < len(drops); i++ {
		assert.Equal(t, int64(10_000), drops[i]-drops[i-1])
	}
}

func TestPoissonStrategySeededDeterminism(t *testing.T) {
	ctx := context.Background()

	gaps := func(seed int64) []int64 {
		s, err := newRateStrategy(&config.LoadGenConfig{
			RequestRateMode: "poisson",
			RequestRate:     100_000,
			RandomSeed:      seed,
		})
		require.NoError(t, err)

		var drops []int64
		for i := 0; i < 6; i++ {
			slot, ok, err := s.Next(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			drops = append(drops, slot.DropNS)
		}
		out := make([]int64, 0, len(drops)-1)
		for i := 1; i < len(drops); i++ {
			out = append(out, drops[i]-drops[i-1])
		}
		return out
	}

	first := gaps(42)
	second := gaps(42)
	assert.Equal(t, first, second, "same seed must reproduce the arrival process")

	other := gaps(43)
	assert.NotEqual(t, first, other)
}

func TestBurstStrategyImmediate(t *testing.T) {
	slot, ok, err := burstStrategy{}.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, slot.DropNS, "burst credits carry no scheduled instant")
}

func TestFixedScheduleAutoOffset(t *testing.T) {
	entries := []messages.TimingEntry{
		{TimestampMS: 5000, ConversationID: "b"},
		{TimestampMS: 5002, ConversationID: "c"},
		{TimestampMS: 4999, ConversationID: "a"},
	}
	s := newFixedScheduleStrategy(entries, true, 0)
	require.Equal(t, 3, s.Len())

	// Earliest timestamp becomes time zero; relative spacing survives.
	assert.Equal(t, []messages.TimingEntry{
		{TimestampMS: 1, ConversationID: "b"},
		{TimestampMS: 3, ConversationID: "c"},
		{TimestampMS: 0, ConversationID: "a"},
	}, s.entries)
}

func TestFixedScheduleStartOffsetDropsEarly(t *testing.T) {
	entries := []messages.TimingEntry{
		{TimestampMS: 100, ConversationID: "early"},
		{TimestampMS: 500, ConversationID: "kept"},
		{TimestampMS: 750, ConversationID: "later"},
	}
	s := newFixedScheduleStrategy(entries, false, 500)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, []messages.TimingEntry{
		{TimestampMS: 0, ConversationID: "kept"},
		{TimestampMS: 250, ConversationID: "later"},
	}, s.entries)
}

func TestFixedScheduleReplay(t *testing.T) {
	entries := []messages.TimingEntry{
		{TimestampMS: 0, ConversationID: "a"},
		{TimestampMS: 1, ConversationID: "b"},
	}
	s := newFixedScheduleStrategy(entries, true, 0)
	ctx := context.Background()

	first, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", first.ConversationID)

	second, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", second.ConversationID)
	assert.Equal(t, first.DropNS+int64(1e6), second.DropNS)

	_, ok, err = s.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "exhausted schedule must report done")
}

func TestFixedScheduleEmpty(t *testing.T) {
	s := newFixedScheduleStrategy(nil, true, 0)
	require.Zero(t, s.Len())
	_, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
