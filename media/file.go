package media

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ChannelInfo describes one camera stream of a recording as reported by the
// loader: where to read it from and what the container declares.
type ChannelInfo struct {
	Position  ChannelPosition
	Source    string // locator understood by the decode backend
	Width     int
	Height    int
	FrameRate float64
}

// VideoFile is a multi-channel recording session handed to the controller by
// an external loader. The controller only reads it during load.
type VideoFile struct {
	ID        uuid.UUID
	Timestamp time.Time // session start; origin for sensor timelines
	Duration  time.Duration
	Channels  []ChannelInfo
	Metadata  Metadata
}

// Channel returns the descriptor for pos, if present.
func (f *VideoFile) Channel(pos ChannelPosition) (ChannelInfo, bool) {
	for _, ch := range f.Channels {
		if ch.Position == pos {
			return ch, true
		}
	}
	return ChannelInfo{}, false
}

// Metadata carries the sensor series recorded alongside the video. Both
// slices are expected to be sorted ascending by time.
type Metadata struct {
	GPS          []GPSPoint
	Acceleration []AccelerationSample
}

// GPSPoint is a single GPS fix. Speed is in km/h, Accuracy in meters; both
// and Satellites are optional.
type GPSPoint struct {
	Time       time.Time
	Latitude   float64
	Longitude  float64
	Speed      *float64
	Accuracy   *float64
	Satellites *int
}

// Valid reports whether the coordinates are within range. Invalid points are
// still carried through timelines so callers can flag them.
func (p GPSPoint) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// AccelerationSample is one accelerometer reading in g units.
type AccelerationSample struct {
	Time time.Time
	X    float64
	Y    float64
	Z    float64
}

// Magnitude returns the vector length of the sample.
func (s AccelerationSample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}
