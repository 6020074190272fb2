package sensor

import (
	"sort"
	"sync"
	"time"

	"github.com/zsiec/blackbox/media"
)

// AccelTimeline answers nearest-sample queries over accelerometer data.
// Samples are dense (typically 100 Hz) so no interpolation is done.
type AccelTimeline struct {
	mu      sync.RWMutex
	origin  time.Time
	samples []media.AccelerationSample
	offs    []time.Duration
}

// NewAccelTimeline returns an empty timeline.
func NewAccelTimeline() *AccelTimeline {
	return &AccelTimeline{}
}

// Load replaces the series. samples must be sorted ascending by time; the
// slice is copied.
func (a *AccelTimeline) Load(origin time.Time, samples []media.AccelerationSample) {
	s := make([]media.AccelerationSample, len(samples))
	copy(s, samples)
	offs := make([]time.Duration, len(s))
	for i, v := range s {
		offs[i] = v.Time.Sub(origin)
	}

	a.mu.Lock()
	a.origin = origin
	a.samples = s
	a.offs = offs
	a.mu.Unlock()
}

// Clear discards all samples.
func (a *AccelTimeline) Clear() {
	a.mu.Lock()
	a.origin = time.Time{}
	a.samples = nil
	a.offs = nil
	a.mu.Unlock()
}

// Len returns the number of samples.
func (a *AccelTimeline) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.samples)
}

// Range returns the elapsed offsets of the first and last samples.
func (a *AccelTimeline) Range() (first, last time.Duration, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.offs) == 0 {
		return 0, 0, false
	}
	return a.offs[0], a.offs[len(a.offs)-1], true
}

// ValueAt returns the sample nearest to elapsed time t. On a tie the
// earlier sample wins.
func (a *AccelTimeline) ValueAt(t time.Duration) (media.AccelerationSample, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.samples)
	if n == 0 {
		return media.AccelerationSample{}, false
	}
	i := sort.Search(n, func(i int) bool { return a.offs[i] >= t })
	switch {
	case i == 0:
		return a.samples[0], true
	case i == n:
		return a.samples[n-1], true
	}
	if t-a.offs[i-1] <= a.offs[i]-t {
		return a.samples[i-1], true
	}
	return a.samples[i], true
}

// SamplesBetween returns the samples with elapsed offsets in [from, to].
func (a *AccelTimeline) SamplesBetween(from, to time.Duration) []media.AccelerationSample {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if to < from {
		return nil
	}
	lo := sort.Search(len(a.offs), func(i int) bool { return a.offs[i] >= from })
	hi := sort.Search(len(a.offs), func(i int) bool { return a.offs[i] > to })
	out := make([]media.AccelerationSample, hi-lo)
	copy(out, a.samples[lo:hi])
	return out
}

// Impact is a sample whose magnitude crossed the detection threshold.
type Impact struct {
	Elapsed   time.Duration
	Magnitude float64
	Sample    media.AccelerationSample
}

// Impacts returns the samples whose magnitude exceeds thresholdG. Runs of
// consecutive over-threshold samples collapse into their peak so one
// collision yields one impact.
func (a *AccelTimeline) Impacts(thresholdG float64) []Impact {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []Impact
	inRun := false
	for i, s := range a.samples {
		m := s.Magnitude()
		if m <= thresholdG {
			inRun = false
			continue
		}
		if inRun {
			if last := &out[len(out)-1]; m > last.Magnitude {
				*last = Impact{Elapsed: a.offs[i], Magnitude: m, Sample: s}
			}
			continue
		}
		inRun = true
		out = append(out, Impact{Elapsed: a.offs[i], Magnitude: m, Sample: s})
	}
	return out
}
