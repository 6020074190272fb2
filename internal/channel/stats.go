package channel

import "sync/atomic"

// Stats is a point-in-time snapshot of a buffer's counters.
type Stats struct {
	Decoded      int64 `json:"decoded"`
	AudioFrames  int64 `json:"audioFrames"`
	Evicted      int64 `json:"evicted"`
	Skipped      int64 `json:"skipped"`
	StaleDropped int64 `json:"staleDropped"`
	Underruns    int64 `json:"underruns"`
	Seeks        int64 `json:"seeks"`
	DecodeErrors int64 `json:"decodeErrors"`
}

// counters accumulates buffer telemetry. Written by the prefetch goroutine
// and the consumer, read by Stats without locking.
type counters struct {
	decoded      atomic.Int64
	audioFrames  atomic.Int64
	evicted      atomic.Int64
	skipped      atomic.Int64
	staleDropped atomic.Int64
	underruns    atomic.Int64
	seeks        atomic.Int64
	decodeErrors atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Decoded:      c.decoded.Load(),
		AudioFrames:  c.audioFrames.Load(),
		Evicted:      c.evicted.Load(),
		Skipped:      c.skipped.Load(),
		StaleDropped: c.staleDropped.Load(),
		Underruns:    c.underruns.Load(),
		Seeks:        c.seeks.Load(),
		DecodeErrors: c.decodeErrors.Load(),
	}
}
