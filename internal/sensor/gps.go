// Package sensor provides time-indexed lookups over the GPS and
// accelerometer series recorded alongside dashcam video. Timelines are
// anchored to the session start so callers query by elapsed playback time.
package sensor

import (
	"sort"
	"sync"
	"time"

	"github.com/zsiec/blackbox/media"
)

// GPSTimeline answers "where was the vehicle at elapsed time T" by linear
// interpolation between the bracketing fixes. It is safe for concurrent use.
type GPSTimeline struct {
	mu     sync.RWMutex
	origin time.Time
	points []media.GPSPoint
	offs   []time.Duration // points[i].Time - origin, cached for searching
}

// NewGPSTimeline returns an empty timeline.
func NewGPSTimeline() *GPSTimeline {
	return &GPSTimeline{}
}

// Load replaces the series. points must be sorted ascending by time; the
// slice is copied.
func (g *GPSTimeline) Load(origin time.Time, points []media.GPSPoint) {
	pts := make([]media.GPSPoint, len(points))
	copy(pts, points)
	offs := make([]time.Duration, len(pts))
	for i, p := range pts {
		offs[i] = p.Time.Sub(origin)
	}

	g.mu.Lock()
	g.origin = origin
	g.points = pts
	g.offs = offs
	g.mu.Unlock()
}

// Clear discards all points and the origin.
func (g *GPSTimeline) Clear() {
	g.mu.Lock()
	g.origin = time.Time{}
	g.points = nil
	g.offs = nil
	g.mu.Unlock()
}

// Len returns the number of points, valid or not.
func (g *GPSTimeline) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.points)
}

// Range returns the elapsed offsets of the first and last points.
func (g *GPSTimeline) Range() (first, last time.Duration, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.offs) == 0 {
		return 0, 0, false
	}
	return g.offs[0], g.offs[len(g.offs)-1], true
}

// ValueAt returns the position at elapsed time t. An exact sample is
// returned as is; between samples latitude, longitude and speed are
// interpolated; outside the series the nearest endpoint is returned.
func (g *GPSTimeline) ValueAt(t time.Duration) (media.GPSPoint, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.points)
	if n == 0 {
		return media.GPSPoint{}, false
	}

	// First index with offset >= t.
	i := sort.Search(n, func(i int) bool { return g.offs[i] >= t })
	switch {
	case i < n && g.offs[i] == t:
		return g.points[i], true
	case i == 0:
		return g.points[0], true
	case i == n:
		return g.points[n-1], true
	}

	p1, p2 := g.points[i-1], g.points[i]
	t1, t2 := g.offs[i-1], g.offs[i]
	frac := float64(t-t1) / float64(t2-t1)

	// Interpolating across an invalid fix produces a meaningless position,
	// so fall back to whichever endpoint is closer.
	if !p1.Valid() || !p2.Valid() {
		if frac < 0.5 {
			return p1, true
		}
		return p2, true
	}

	out := media.GPSPoint{
		Time:      g.origin.Add(t),
		Latitude:  lerp(p1.Latitude, p2.Latitude, frac),
		Longitude: lerp(p1.Longitude, p2.Longitude, frac),
	}
	near := p1
	if frac >= 0.5 {
		near = p2
	}
	if p1.Speed != nil && p2.Speed != nil {
		v := lerp(*p1.Speed, *p2.Speed, frac)
		out.Speed = &v
	} else {
		out.Speed = near.Speed
	}
	out.Accuracy = near.Accuracy
	out.Satellites = near.Satellites
	return out, true
}

// PointsUntil returns the recorded points at or before elapsed time t, the
// part of the route already driven.
func (g *GPSTimeline) PointsUntil(t time.Duration) []media.GPSPoint {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i := sort.Search(len(g.offs), func(i int) bool { return g.offs[i] > t })
	out := make([]media.GPSPoint, i)
	copy(out, g.points[:i])
	return out
}

func lerp(a, b, frac float64) float64 {
	return a + (b-a)*frac
}
