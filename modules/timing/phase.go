package timing

import (
	"fmt"
	"time"

	"github.com/aiperf/aiperf/pkg/records"
)

// PhaseConfig bounds one credit phase by count or by duration, never both.
type PhaseConfig struct {
	Phase records.CreditPhase
	// TotalExpectedRequests bounds count-based phases; 0 when time-based.
	TotalExpectedRequests int
	// ExpectedDurationSec bounds time-based phases; 0 when count-based.
	ExpectedDurationSec float64
	// GracePeriodSec bounds the drain of a time-based phase after its
	// duration elapses.
	GracePeriodSec float64
}

// Validate enforces the exactly-one-bound invariant.
func (c *PhaseConfig) Validate() error {
	countSet := c.TotalExpectedRequests > 0
	durationSet := c.ExpectedDurationSec > 0
	if countSet == durationSet {
		return fmt.Errorf("phase %s: exactly one of total_expected_requests and expected_duration_sec must be set", c.Phase)
	}
	return nil
}

// TimeBased reports whether the phase is duration-bounded.
func (c *PhaseConfig) TimeBased() bool { return c.ExpectedDurationSec > 0 }

// PhaseStats tracks one phase's credits. Mutated only under the timing
// manager's lock.
type PhaseStats struct {
	Phase records.CreditPhase
	// StartNS is wall-clock: duration bounds are checked against the same
	// clock that produced it.
	StartNS   int64
	Sent      int
	Completed int
	SentEndNS int64
	EndNS     int64
	Cancelled bool
}

// InFlight is the number of dropped credits not yet returned.
func (s *PhaseStats) InFlight() int { return s.Sent - s.Completed }

// ShouldSend reports whether the phase may drop another credit.
func (s *PhaseStats) ShouldSend(cfg *PhaseConfig) bool {
	if s.Cancelled {
		return false
	}
	if cfg.TimeBased() {
		elapsed := time.Now().UnixNano() - s.StartNS
		return float64(elapsed) <= cfg.ExpectedDurationSec*1e9
	}
	return s.Sent < cfg.TotalExpectedRequests
}

// SendingDone reports whether the send loop has exited.
func (s *PhaseStats) SendingDone() bool { return s.SentEndNS != 0 }

// IsComplete reports whether the phase is fully drained.
func (s *PhaseStats) IsComplete() bool {
	return s.SendingDone() && s.InFlight() == 0
}
