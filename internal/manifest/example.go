package manifest

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Example builds a demo session of length d: four cameras whose clocks
// disagree by a few milliseconds, a GPS fix every second along a straight
// road and 10 Hz accelerometer data with one hard-braking event halfway.
func Example(d time.Duration, recordedAt time.Time) *Manifest {
	if d <= 0 {
		d = time.Minute
	}
	m := &Manifest{
		ID:         uuid.NewString(),
		RecordedAt: recordedAt.UTC(),
		Duration:   d,
		Channels: []Channel{
			{Position: "front", Source: "front.mp4", Width: 1920, Height: 1080, FrameRate: 30,
				Synthetic: Synthetic{GOP: 30, AudioSampleRate: 48000}},
			{Position: "rear", Source: "rear.mp4", Width: 1280, Height: 720, FrameRate: 30,
				Synthetic: Synthetic{GOP: 30, Offset: 12 * time.Millisecond, Jitter: 4 * time.Millisecond}},
			{Position: "left", Source: "left.mp4", Width: 1280, Height: 720, FrameRate: 25,
				Synthetic: Synthetic{GOP: 25, Offset: -8 * time.Millisecond, Jitter: 6 * time.Millisecond}},
			{Position: "interior", Source: "interior.mp4", Width: 1280, Height: 720, FrameRate: 15,
				Synthetic: Synthetic{GOP: 15, Jitter: 10 * time.Millisecond}},
		},
	}

	const lat0, lon0 = 37.5665, 126.9780
	for t := time.Duration(0); t <= d; t += time.Second {
		s := t.Seconds()
		speed := 40 + 10*math.Sin(s/10)
		sats := 9
		m.GPS = append(m.GPS, GPSFix{
			At:         t,
			Lat:        lat0 + s*0.0001,
			Lon:        lon0 + s*0.00012,
			Speed:      &speed,
			Satellites: &sats,
		})
	}

	brake := d / 2
	for t := time.Duration(0); t <= d; t += 100 * time.Millisecond {
		a := AccelSample{At: t, Z: 1}
		if t >= brake && t < brake+300*time.Millisecond {
			a.Y = -2.8
		}
		m.Acceleration = append(m.Acceleration, a)
	}
	return m
}
