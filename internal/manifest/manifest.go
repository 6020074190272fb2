// Package manifest reads the YAML session manifests the simulator plays. A
// manifest describes a recording's channels and sensor series together with
// the parameters of the synthetic decoder that stands in for each camera.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/zsiec/blackbox/internal/decode"
	"github.com/zsiec/blackbox/media"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("manifest: invalid")

// Manifest is the on-disk session description.
type Manifest struct {
	ID           string        `yaml:"id,omitempty"`
	RecordedAt   time.Time     `yaml:"recorded_at"`
	Duration     time.Duration `yaml:"duration"`
	Channels     []Channel     `yaml:"channels"`
	GPS          []GPSFix      `yaml:"gps,omitempty"`
	Acceleration []AccelSample `yaml:"acceleration,omitempty"`
}

// Channel describes one camera.
type Channel struct {
	Position  string    `yaml:"position"`
	Source    string    `yaml:"source,omitempty"`
	Width     int       `yaml:"width,omitempty"`
	Height    int       `yaml:"height,omitempty"`
	FrameRate float64   `yaml:"frame_rate,omitempty"`
	Synthetic Synthetic `yaml:"synthetic,omitempty"`
}

// Synthetic holds the simulated decoder parameters for a channel. Zero
// values fall back to the channel and manifest settings.
type Synthetic struct {
	Duration        time.Duration `yaml:"duration,omitempty"`
	Offset          time.Duration `yaml:"offset,omitempty"`
	Jitter          time.Duration `yaml:"jitter,omitempty"`
	GOP             int           `yaml:"gop,omitempty"`
	DecodeDelay     time.Duration `yaml:"decode_delay,omitempty"`
	AudioSampleRate int           `yaml:"audio_sample_rate,omitempty"`
	FailAtFrame     int           `yaml:"fail_at_frame,omitempty"`
	InitError       string        `yaml:"init_error,omitempty"`
}

// GPSFix is a GPS point at an offset from RecordedAt.
type GPSFix struct {
	At         time.Duration `yaml:"at"`
	Lat        float64       `yaml:"lat"`
	Lon        float64       `yaml:"lon"`
	Speed      *float64      `yaml:"speed,omitempty"`
	Accuracy   *float64      `yaml:"accuracy,omitempty"`
	Satellites *int          `yaml:"satellites,omitempty"`
}

// AccelSample is an accelerometer reading at an offset from RecordedAt.
type AccelSample struct {
	At time.Duration `yaml:"at"`
	X  float64       `yaml:"x"`
	Y  float64       `yaml:"y"`
	Z  float64       `yaml:"z"`
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Marshal encodes m as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// Validate checks positions, ordering and the ID.
func (m *Manifest) Validate() error {
	if m.ID != "" {
		if _, err := uuid.Parse(m.ID); err != nil {
			return fmt.Errorf("%w: id %q: %v", ErrInvalid, m.ID, err)
		}
	}
	if m.Duration < 0 {
		return fmt.Errorf("%w: negative duration %v", ErrInvalid, m.Duration)
	}
	if len(m.Channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalid)
	}
	seen := make(map[media.ChannelPosition]bool, len(m.Channels))
	for i, ch := range m.Channels {
		pos, err := media.ParsePosition(ch.Position)
		if err != nil {
			return fmt.Errorf("%w: channel %d: %v", ErrInvalid, i, err)
		}
		if seen[pos] {
			return fmt.Errorf("%w: duplicate %s channel", ErrInvalid, pos)
		}
		seen[pos] = true
	}
	for i := 1; i < len(m.GPS); i++ {
		if m.GPS[i].At < m.GPS[i-1].At {
			return fmt.Errorf("%w: gps fix %d precedes fix %d", ErrInvalid, i, i-1)
		}
	}
	for i := 1; i < len(m.Acceleration); i++ {
		if m.Acceleration[i].At < m.Acceleration[i-1].At {
			return fmt.Errorf("%w: acceleration sample %d precedes sample %d", ErrInvalid, i, i-1)
		}
	}
	return nil
}

// VideoFile converts m into the load input for a playback controller. A
// manifest without an ID gets a fresh one.
func (m *Manifest) VideoFile() (*media.VideoFile, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	id := uuid.New()
	if m.ID != "" {
		id = uuid.MustParse(m.ID)
	}

	f := &media.VideoFile{
		ID:        id,
		Timestamp: m.RecordedAt,
		Duration:  m.Duration,
		Channels:  make([]media.ChannelInfo, 0, len(m.Channels)),
	}
	for _, ch := range m.Channels {
		pos, _ := media.ParsePosition(ch.Position)
		f.Channels = append(f.Channels, media.ChannelInfo{
			Position:  pos,
			Source:    ch.Source,
			Width:     ch.Width,
			Height:    ch.Height,
			FrameRate: ch.FrameRate,
		})
	}
	for _, g := range m.GPS {
		f.Metadata.GPS = append(f.Metadata.GPS, media.GPSPoint{
			Time:       m.RecordedAt.Add(g.At),
			Latitude:   g.Lat,
			Longitude:  g.Lon,
			Speed:      g.Speed,
			Accuracy:   g.Accuracy,
			Satellites: g.Satellites,
		})
	}
	for _, a := range m.Acceleration {
		f.Metadata.Acceleration = append(f.Metadata.Acceleration, media.AccelerationSample{
			Time: m.RecordedAt.Add(a.At),
			X:    a.X,
			Y:    a.Y,
			Z:    a.Z,
		})
	}
	return f, nil
}

// SyntheticConfigs returns the synthetic decoder parameters for every
// channel, keyed by position.
func (m *Manifest) SyntheticConfigs() map[media.ChannelPosition]decode.SyntheticConfig {
	out := make(map[media.ChannelPosition]decode.SyntheticConfig, len(m.Channels))
	for _, ch := range m.Channels {
		pos, err := media.ParsePosition(ch.Position)
		if err != nil {
			continue
		}
		s := ch.Synthetic
		cfg := decode.SyntheticConfig{
			Position:        pos,
			Duration:        s.Duration,
			FrameRate:       ch.FrameRate,
			Width:           ch.Width,
			Height:          ch.Height,
			GOP:             s.GOP,
			Offset:          s.Offset,
			Jitter:          s.Jitter,
			DecodeDelay:     s.DecodeDelay,
			AudioSampleRate: s.AudioSampleRate,
			FailAtFrame:     s.FailAtFrame,
		}
		if cfg.Duration == 0 {
			cfg.Duration = m.Duration
		}
		if s.InitError != "" {
			cfg.InitErr = initError(s.InitError)
		}
		out[pos] = cfg
	}
	return out
}

// Opener returns a decode.Opener backed by the manifest's synthetic
// channels.
func (m *Manifest) Opener() decode.Opener {
	return decode.SyntheticOpener(m.SyntheticConfigs(), m.Duration)
}

// initError maps a manifest init_error name onto a decode sentinel.
func initError(name string) error {
	switch name {
	case "cannot_open_file":
		return decode.ErrCannotOpenFile
	case "codec_not_found":
		return decode.ErrCodecNotFound
	default:
		return fmt.Errorf("%w: %s", decode.ErrCannotOpenFile, name)
	}
}
