package timing

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/aiperf/aiperf/pkg/config"
	"github.com/aiperf/aiperf/pkg/messages"
	"github.com/aiperf/aiperf/pkg/util/clock"
)

// creditSlot is one admission produced by a strategy: when to stamp the
// credit and which conversation it drives. DropNS is wall-clock so workers
// in other processes can compare it; zero means send ASAP with no scheduled
// instant.
type creditSlot struct {
	DropNS         int64
	ConversationID string
}

// strategy paces credit drops. Next blocks until the next scheduled instant
// and returns false when the schedule is exhausted; rate strategies never
// exhaust, the phase bound stops them.
type strategy interface {
	Next(ctx context.Context) (creditSlot, bool, error)
}

// newRateStrategy builds the strategy for one request-rate phase.
func newRateStrategy(cfg *config.LoadGenConfig) (strategy, error) {
	switch cfg.RequestRateMode {
	case "constant":
		return &constantStrategy{intervalNS: int64(1e9 / cfg.RequestRate)}, nil
	case "poisson":
		seed := cfg.RandomSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return &poissonStrategy{
			rate: cfg.RequestRate,
			rng:  rand.New(rand.NewSource(seed)),
		}, nil
	case "concurrency_burst":
		return burstStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown request_rate_mode %q", cfg.RequestRateMode)
	}
}

// constantStrategy sends at a fixed rate: each instant is the previous plus
// one interval, anchored to the first call so drift does not accumulate.
type constantStrategy struct {
	intervalNS int64
	nextNS     int64
}

func (s *constantStrategy) Next(ctx context.Context) (creditSlot, bool, error) {
	if s.nextNS == 0 {
		s.nextNS = clock.WallNow()
	}
	if err := clock.SleepUntilWall(ctx, s.nextNS); err != nil {
		return creditSlot{}, false, err
	}
	slot := creditSlot{DropNS: s.nextNS}
	s.nextNS += s.intervalNS
	return slot, true, nil
}

// poissonStrategy samples exponential inter-arrival gaps from a seeded RNG,
// so a fixed seed reproduces the arrival process exactly.
type poissonStrategy struct {
	rate   float64
	rng    *rand.Rand
	nextNS int64
}

func (s *poissonStrategy) Next(ctx context.Context) (creditSlot, bool, error) {
	if s.nextNS == 0 {
		s.nextNS = clock.WallNow()
	}
	if err := clock.SleepUntilWall(ctx, s.nextNS); err != nil {
		return creditSlot{}, false, err
	}
	slot := creditSlot{DropNS: s.nextNS}
	s.nextNS += int64(s.rng.ExpFloat64() / s.rate * 1e9)
	return slot, true, nil
}

// burstStrategy sends as fast as concurrency admission allows.
type burstStrategy struct{}

func (burstStrategy) Next(_ context.Context) (creditSlot, bool, error) {
	return creditSlot{}, true, nil
}

// fixedScheduleStrategy replays dataset-provided (timestamp, conversation)
// entries relative to the phase start.
type fixedScheduleStrategy struct {
	entries []messages.TimingEntry
	zeroNS  int64
	idx     int
}

// newFixedScheduleStrategy prepares a schedule. With autoOffset the earliest
// timestamp becomes time zero; otherwise entries before startOffsetMS are
// dropped and the offset becomes time zero.
func newFixedScheduleStrategy(entries []messages.TimingEntry, autoOffset bool, startOffsetMS int64) *fixedScheduleStrategy {
	offsetMS := startOffsetMS
	if autoOffset && len(entries) > 0 {
		offsetMS = entries[0].TimestampMS
		for _, e := range entries {
			if e.TimestampMS < offsetMS {
				offsetMS = e.TimestampMS
			}
		}
	}

	kept := make([]messages.TimingEntry, 0, len(entries))
	for _, e := range entries {
		if e.TimestampMS < offsetMS {
			continue
		}
		kept = append(kept, messages.TimingEntry{
			TimestampMS:    e.TimestampMS - offsetMS,
			ConversationID: e.ConversationID,
		})
	}
	return &fixedScheduleStrategy{entries: kept}
}

// Len is the number of credits the schedule will drop.
func (s *fixedScheduleStrategy) Len() int { return len(s.entries) }

func (s *fixedScheduleStrategy) Next(ctx context.Context) (creditSlot, bool, error) {
	if s.idx >= len(s.entries) {
		return creditSlot{}, false, nil
	}
	if s.zeroNS == 0 {
		s.zeroNS = clock.WallNow()
	}
	entry := s.entries[s.idx]
	s.idx++

	target := s.zeroNS + entry.TimestampMS*int64(time.Millisecond)
	if err := clock.SleepUntilWall(ctx, target); err != nil {
		return creditSlot{}, false, err
	}
	return creditSlot{DropNS: target, ConversationID: entry.ConversationID}, true, nil
}
