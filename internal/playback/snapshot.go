package playback

import (
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/blackbox/internal/drift"
	"github.com/zsiec/blackbox/internal/sensor"
	"github.com/zsiec/blackbox/media"
)

// SensorValues holds the sensor readings at one elapsed time. A nil field
// means the series is empty.
type SensorValues struct {
	Elapsed      time.Duration             `json:"elapsed"`
	GPS          *media.GPSPoint           `json:"gps,omitempty"`
	Acceleration *media.AccelerationSample `json:"acceleration,omitempty"`
}

// ChannelSnapshot is one channel's view in a Snapshot.
type ChannelSnapshot struct {
	Position   media.ChannelPosition `json:"position"`
	Buffer     media.BufferStatus    `json:"buffer"`
	Reason     drift.Reason          `json:"reason"`
	Drift      time.Duration         `json:"drift"`
	FrameSeq   uint64                `json:"frameSeq,omitempty"`
	FrameTime  time.Duration         `json:"frameTime,omitempty"`
	Recoveries int                   `json:"recoveries,omitempty"`
}

// Presented reports whether the channel's frame was accepted.
func (cs ChannelSnapshot) Presented() bool { return cs.Reason == drift.ReasonAccepted }

// Snapshot is everything a renderer needs for one instant, minus pixels.
type Snapshot struct {
	Session     uuid.UUID           `json:"session"`
	File        uuid.UUID           `json:"file"`
	State       media.PlaybackState `json:"state"`
	CurrentTime time.Duration       `json:"currentTime"`
	Duration    time.Duration       `json:"duration"`
	Speed       float64             `json:"speed"`
	AllReady    bool                `json:"allReady"`
	Channels    []ChannelSnapshot   `json:"channels"`
	Sensors     SensorValues        `json:"sensors"`
}

// Snapshot reports every channel's view of the current time and the
// combined state. Channels appear in load order. Like SynchronizedFrames it
// has no effect on buffers or counters.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	s := Snapshot{
		Session:     c.session,
		File:        c.fileID,
		State:       c.playState,
		CurrentTime: c.currentTime,
		Duration:    c.duration,
		Speed:       c.speed,
		Channels:    make([]ChannelSnapshot, 0, len(c.channels)),
	}
	for _, ch := range c.channels {
		d := c.peekLocked(ch, c.currentTime)
		cs := ChannelSnapshot{
			Position:   ch.pos,
			Buffer:     ch.buf.Status(),
			Reason:     d.Reason,
			Drift:      d.Drift,
			Recoveries: ch.recoveries,
		}
		if f := d.Frame; f != nil {
			cs.FrameSeq = f.Seq
			cs.FrameTime = f.Timestamp
		}
		s.Channels = append(s.Channels, cs)
	}
	c.mu.RUnlock()

	s.AllReady = c.allReady.Load()
	s.Sensors = c.sensorsAt(s.CurrentTime)
	return s
}

// SensorValues returns the GPS and accelerometer readings at the current
// time.
func (c *Controller) SensorValues() SensorValues {
	return c.sensorsAt(c.CurrentTime())
}

// Route returns the GPS points recorded up to the current time.
func (c *Controller) Route() []media.GPSPoint {
	return c.gps.PointsUntil(c.CurrentTime())
}

// Impacts returns the accelerometer events whose magnitude exceeds
// thresholdG in the loaded file.
func (c *Controller) Impacts(thresholdG float64) []sensor.Impact {
	return c.accel.Impacts(thresholdG)
}

func (c *Controller) sensorsAt(t time.Duration) SensorValues {
	sv := SensorValues{Elapsed: t}
	if p, ok := c.gps.ValueAt(t); ok {
		sv.GPS = &p
	}
	if a, ok := c.accel.ValueAt(t); ok {
		sv.Acceleration = &a
	}
	return sv
}
