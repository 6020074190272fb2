package sensor

import (
	"math"
	"testing"
	"time"

	"github.com/zsiec/blackbox/media"
)

var origin = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func gpsAt(sec float64, lat, lon, speed float64) media.GPSPoint {
	return media.GPSPoint{
		Time:      origin.Add(time.Duration(sec * float64(time.Second))),
		Latitude:  lat,
		Longitude: lon,
		Speed:     ptr(speed),
	}
}

func TestGPSInterpolatesBetweenFixes(t *testing.T) {
	t.Parallel()

	g := NewGPSTimeline()
	g.Load(origin, []media.GPSPoint{
		gpsAt(0, 37.5000, 127.0000, 30.0),
		gpsAt(2, 37.5020, 127.0020, 40.0),
	})

	p, ok := g.ValueAt(time.Second)
	if !ok {
		t.Fatal("ValueAt returned no result")
	}
	if math.Abs(p.Latitude-37.5010) > 0.0001 {
		t.Errorf("latitude = %f, want 37.5010", p.Latitude)
	}
	if math.Abs(p.Longitude-127.0010) > 0.0001 {
		t.Errorf("longitude = %f, want 127.0010", p.Longitude)
	}
	if p.Speed == nil || math.Abs(*p.Speed-35.0) > 0.1 {
		t.Errorf("speed = %v, want 35.0", p.Speed)
	}
	if !p.Time.Equal(origin.Add(time.Second)) {
		t.Errorf("time = %v, want origin+1s", p.Time)
	}
}

func TestGPSExactAndOutOfRange(t *testing.T) {
	t.Parallel()

	first := gpsAt(1, 10, 20, 50)
	last := gpsAt(3, 11, 21, 60)
	g := NewGPSTimeline()
	g.Load(origin, []media.GPSPoint{first, last})

	if p, _ := g.ValueAt(time.Second); p.Latitude != 10 || !p.Time.Equal(first.Time) {
		t.Errorf("exact lookup = %+v, want first point", p)
	}
	if p, _ := g.ValueAt(0); p.Latitude != 10 {
		t.Errorf("before range = %f, want first endpoint", p.Latitude)
	}
	if p, _ := g.ValueAt(10 * time.Second); p.Latitude != 11 {
		t.Errorf("after range = %f, want last endpoint", p.Latitude)
	}
}

func TestGPSEmptyAndClear(t *testing.T) {
	t.Parallel()

	g := NewGPSTimeline()
	if _, ok := g.ValueAt(0); ok {
		t.Error("empty timeline should return no result")
	}

	g.Load(origin, []media.GPSPoint{gpsAt(0, 1, 1, 1)})
	if g.Len() != 1 {
		t.Fatalf("Len = %d, want 1", g.Len())
	}
	g.Clear()
	if g.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", g.Len())
	}
	if _, ok := g.ValueAt(0); ok {
		t.Error("cleared timeline should return no result")
	}
	if _, _, ok := g.Range(); ok {
		t.Error("cleared timeline should have no range")
	}
}

func TestGPSInvalidPointsKept(t *testing.T) {
	t.Parallel()

	bad := gpsAt(1, 95, 200, 0)
	g := NewGPSTimeline()
	g.Load(origin, []media.GPSPoint{gpsAt(0, 10, 10, 10), bad, gpsAt(2, 11, 11, 10)})

	if g.Len() != 3 {
		t.Fatalf("Len = %d, want 3 (invalid points are kept)", g.Len())
	}
	p, ok := g.ValueAt(time.Second)
	if !ok || p.Valid() {
		t.Errorf("exact lookup of invalid fix = %+v, %v; want the invalid point", p, ok)
	}
	// Between a valid and an invalid fix the nearer endpoint is returned.
	p, _ = g.ValueAt(1800 * time.Millisecond)
	if p.Latitude != 11 {
		t.Errorf("lookup near valid endpoint = %f, want 11", p.Latitude)
	}
}

func TestGPSSpeedFromNearerWhenMissing(t *testing.T) {
	t.Parallel()

	a := gpsAt(0, 0, 0, 10)
	b := gpsAt(2, 1, 1, 0)
	b.Speed = nil
	g := NewGPSTimeline()
	g.Load(origin, []media.GPSPoint{a, b})

	p, _ := g.ValueAt(500 * time.Millisecond)
	if p.Speed == nil || *p.Speed != 10 {
		t.Errorf("speed = %v, want 10 from nearer fix", p.Speed)
	}
	p, _ = g.ValueAt(1500 * time.Millisecond)
	if p.Speed != nil {
		t.Errorf("speed = %v, want nil from nearer fix", *p.Speed)
	}
}

func TestGPSPointsUntil(t *testing.T) {
	t.Parallel()

	g := NewGPSTimeline()
	g.Load(origin, []media.GPSPoint{gpsAt(0, 0, 0, 0), gpsAt(1, 1, 1, 0), gpsAt(2, 2, 2, 0)})

	if got := len(g.PointsUntil(time.Second)); got != 2 {
		t.Errorf("PointsUntil(1s) = %d points, want 2", got)
	}
	if got := len(g.PointsUntil(-time.Second)); got != 0 {
		t.Errorf("PointsUntil(-1s) = %d points, want 0", got)
	}
}

func accelAt(ms int, x, y, z float64) media.AccelerationSample {
	return media.AccelerationSample{
		Time: origin.Add(time.Duration(ms) * time.Millisecond),
		X:    x, Y: y, Z: z,
	}
}

func TestAccelNearestSample(t *testing.T) {
	t.Parallel()

	a := NewAccelTimeline()
	a.Load(origin, []media.AccelerationSample{
		accelAt(0, 0, 0, 1),
		accelAt(10, 0.1, 0, 1),
		accelAt(20, 0.2, 0, 1),
	})

	tests := []struct {
		at    time.Duration
		wantX float64
	}{
		{-5 * time.Millisecond, 0},
		{4 * time.Millisecond, 0},
		{5 * time.Millisecond, 0}, // tie goes to the earlier sample
		{6 * time.Millisecond, 0.1},
		{19 * time.Millisecond, 0.2},
		{time.Second, 0.2},
	}
	for _, tt := range tests {
		s, ok := a.ValueAt(tt.at)
		if !ok {
			t.Fatalf("ValueAt(%v) returned no result", tt.at)
		}
		if s.X != tt.wantX {
			t.Errorf("ValueAt(%v).X = %f, want %f", tt.at, s.X, tt.wantX)
		}
	}
}

func TestAccelEmptyAndClear(t *testing.T) {
	t.Parallel()

	a := NewAccelTimeline()
	if _, ok := a.ValueAt(0); ok {
		t.Error("empty timeline should return no result")
	}
	a.Load(origin, []media.AccelerationSample{accelAt(0, 0, 0, 1)})
	a.Clear()
	if a.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", a.Len())
	}
}

func TestAccelSamplesBetween(t *testing.T) {
	t.Parallel()

	a := NewAccelTimeline()
	var samples []media.AccelerationSample
	for ms := 0; ms < 100; ms += 10 {
		samples = append(samples, accelAt(ms, 0, 0, 1))
	}
	a.Load(origin, samples)

	if got := len(a.SamplesBetween(20*time.Millisecond, 50*time.Millisecond)); got != 4 {
		t.Errorf("SamplesBetween(20ms, 50ms) = %d, want 4", got)
	}
	if got := a.SamplesBetween(50*time.Millisecond, 20*time.Millisecond); got != nil {
		t.Errorf("inverted window = %v, want nil", got)
	}
}

func TestAccelImpactsCollapseRuns(t *testing.T) {
	t.Parallel()

	a := NewAccelTimeline()
	a.Load(origin, []media.AccelerationSample{
		accelAt(0, 0, 0, 1),
		accelAt(10, 2, 0, 1),
		accelAt(20, 3, 0, 1),
		accelAt(30, 1, 0, 1),
		accelAt(40, 0, 0, 1),
		accelAt(50, 0, 2.5, 1),
	})

	impacts := a.Impacts(2.0)
	if len(impacts) != 2 {
		t.Fatalf("impacts = %d, want 2", len(impacts))
	}
	if impacts[0].Elapsed != 20*time.Millisecond {
		t.Errorf("first impact at %v, want 20ms peak", impacts[0].Elapsed)
	}
	if impacts[1].Elapsed != 50*time.Millisecond {
		t.Errorf("second impact at %v, want 50ms", impacts[1].Elapsed)
	}
}
