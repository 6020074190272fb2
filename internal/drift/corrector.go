// Package drift decides whether a channel's candidate frame is close enough
// to the master clock to be presented.
package drift

import (
	"sync"
	"time"

	"github.com/zsiec/blackbox/media"
)

// DefaultThreshold is the maximum presentation offset between a channel
// frame and the master clock.
const DefaultThreshold = 50 * time.Millisecond

// Reason explains a Decision.
type Reason int

const (
	// ReasonAccepted means the frame is within threshold.
	ReasonAccepted Reason = iota
	// ReasonUnderrun means the channel had no buffered frame.
	ReasonUnderrun
	// ReasonDrift means the nearest frame was too far from the clock.
	ReasonDrift
	// ReasonError means the channel is paused on a decode error.
	ReasonError
	// ReasonFailed means the channel was given up on by the stall watchdog.
	ReasonFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonAccepted:
		return "accepted"
	case ReasonUnderrun:
		return "underrun"
	case ReasonDrift:
		return "drift"
	case ReasonError:
		return "error"
	case ReasonFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Decision is the outcome of evaluating one channel at one clock instant.
type Decision struct {
	Position media.ChannelPosition
	Frame    *media.Frame // nil unless Accepted
	Drift    time.Duration
	Reason   Reason
}

// Accepted reports whether the frame may be presented.
func (d Decision) Accepted() bool { return d.Reason == ReasonAccepted }

// ChannelStats counts decisions for one channel.
type ChannelStats struct {
	Accepted  int64         `json:"accepted"`
	Rejected  int64         `json:"rejected"`
	MaxDrift  time.Duration `json:"maxDrift"`
	LastDrift time.Duration `json:"lastDrift"`
}

// Corrector applies the drift threshold and keeps per-channel counters. It is
// safe for concurrent use.
type Corrector struct {
	threshold time.Duration

	mu    sync.Mutex
	stats map[media.ChannelPosition]*ChannelStats
}

// NewCorrector creates a Corrector. A non-positive threshold selects
// DefaultThreshold.
func NewCorrector(threshold time.Duration) *Corrector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Corrector{
		threshold: threshold,
		stats:     make(map[media.ChannelPosition]*ChannelStats),
	}
}

// Threshold returns the configured maximum drift.
func (c *Corrector) Threshold() time.Duration { return c.threshold }

// Evaluate decides whether frame may be shown at target and counts the
// decision. ok is the buffer's underrun flag; a nil frame with ok=true is
// treated as an underrun.
func (c *Corrector) Evaluate(pos media.ChannelPosition, frame *media.Frame, ok bool, target time.Duration) Decision {
	d := c.Check(pos, frame, ok, target)
	c.record(d)
	return d
}

// Check makes the same decision as Evaluate without touching the counters.
func (c *Corrector) Check(pos media.ChannelPosition, frame *media.Frame, ok bool, target time.Duration) Decision {
	d := Decision{Position: pos}
	switch {
	case !ok || frame == nil:
		d.Reason = ReasonUnderrun
	default:
		d.Drift = frame.Timestamp - target
		if abs(d.Drift) <= c.threshold {
			d.Reason = ReasonAccepted
			d.Frame = frame
		} else {
			d.Reason = ReasonDrift
		}
	}
	return d
}

// Reject records a decision made without consulting a buffer, such as for a
// channel in an error or failed state.
func (c *Corrector) Reject(pos media.ChannelPosition, reason Reason) Decision {
	d := Decision{Position: pos, Reason: reason}
	c.record(d)
	return d
}

// Stats returns a copy of the per-channel counters.
func (c *Corrector) Stats() map[media.ChannelPosition]ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[media.ChannelPosition]ChannelStats, len(c.stats))
	for pos, s := range c.stats {
		out[pos] = *s
	}
	return out
}

// Reset clears all counters.
func (c *Corrector) Reset() {
	c.mu.Lock()
	c.stats = make(map[media.ChannelPosition]*ChannelStats)
	c.mu.Unlock()
}

func (c *Corrector) record(d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[d.Position]
	if !ok {
		s = &ChannelStats{}
		c.stats[d.Position] = s
	}
	if d.Accepted() {
		s.Accepted++
	} else {
		s.Rejected++
	}
	if d.Reason == ReasonAccepted || d.Reason == ReasonDrift {
		s.LastDrift = d.Drift
		if abs(d.Drift) > s.MaxDrift {
			s.MaxDrift = abs(d.Drift)
		}
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
