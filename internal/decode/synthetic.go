package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/zsiec/blackbox/media"
)

// SyntheticConfig parameterizes a Synthetic decoder. Frames are laid out on
// a FrameRate grid shifted by Offset, with a deterministic per-frame Jitter of
// at most ±Jitter so channels drift against each other the way independent
// camera clocks do.
type SyntheticConfig struct {
	Position  media.ChannelPosition
	Duration  time.Duration
	FrameRate float64
	Width     int
	Height    int
	GOP       int // keyframe interval in frames; 0 means every frame is a keyframe

	Offset time.Duration
	Jitter time.Duration

	// DecodeDelay is slept inside DecodeNextFrame to emulate decode cost.
	DecodeDelay time.Duration

	// AudioSampleRate, when non-zero, makes every video frame carry an audio
	// block of one frame period.
	AudioSampleRate int

	// InitErr is returned from Initialize when set.
	InitErr error
	// FailAtFrame makes DecodeNextFrame fail once when it reaches that frame
	// index. Zero disables.
	FailAtFrame int
	// NoDuration makes Duration report false, as containers without an
	// index do.
	NoDuration bool
}

// Synthetic is an in-memory Decoder that fabricates frames from a
// SyntheticConfig. It is safe for concurrent use so tests may inspect it
// while a channel buffer drives it.
type Synthetic struct {
	cfg SyntheticConfig

	mu          sync.Mutex
	initialized bool
	closed      bool
	next        int
	failed      bool
	seeks       int
}

// NewSynthetic creates a Synthetic decoder. A zero FrameRate defaults to 30.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.Width == 0 {
		cfg.Width = 1920
	}
	if cfg.Height == 0 {
		cfg.Height = 1080
	}
	return &Synthetic{cfg: cfg}
}

// SyntheticOpener returns an Opener that builds Synthetic decoders from
// cfgs keyed by channel position. Channels without an entry get a default
// config derived from the descriptor and fallback duration.
func SyntheticOpener(cfgs map[media.ChannelPosition]SyntheticConfig, fallback time.Duration) Opener {
	return func(info media.ChannelInfo) (Decoder, error) {
		cfg, ok := cfgs[info.Position]
		if !ok {
			cfg = SyntheticConfig{
				Duration:  fallback,
				FrameRate: info.FrameRate,
				Width:     info.Width,
				Height:    info.Height,
			}
		}
		cfg.Position = info.Position
		return NewSynthetic(cfg), nil
	}
}

func (s *Synthetic) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &DecodeError{Op: "initialize", Position: s.cfg.Position, Err: ErrClosed}
	}
	if s.cfg.InitErr != nil {
		return &DecodeError{Op: "initialize", Position: s.cfg.Position, Err: s.cfg.InitErr}
	}
	s.initialized = true
	return nil
}

func (s *Synthetic) DecodeNextFrame() (*media.Frame, *media.AudioFrame, error) {
	if s.cfg.DecodeDelay > 0 {
		time.Sleep(s.cfg.DecodeDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked("decode"); err != nil {
		return nil, nil, err
	}
	if s.next >= s.frameCount() {
		return nil, nil, io.EOF
	}
	if s.cfg.FailAtFrame > 0 && s.next == s.cfg.FailAtFrame && !s.failed {
		s.failed = true
		return nil, nil, &DecodeError{
			Op:       "decode",
			Position: s.cfg.Position,
			Err:      fmt.Errorf("frame %d: %w", s.next, ErrCorruptFrame),
		}
	}

	i := s.next
	s.next++

	frame := &media.Frame{
		Position:   s.cfg.Position,
		Timestamp:  s.timestampOf(i),
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		Seq:        uint64(i),
		IsKeyframe: s.cfg.GOP <= 0 || i%s.cfg.GOP == 0,
		Data:       binary.BigEndian.AppendUint64(nil, uint64(i)),
	}

	var audio *media.AudioFrame
	if s.cfg.AudioSampleRate > 0 {
		samples := int(float64(s.cfg.AudioSampleRate) / s.cfg.FrameRate)
		audio = &media.AudioFrame{
			Timestamp:  s.nominal(i),
			SampleRate: s.cfg.AudioSampleRate,
			Channels:   1,
			Data:       make([]byte, samples*2),
		}
	}
	return frame, audio, nil
}

// Seek positions the decoder on the keyframe at or before t.
func (s *Synthetic) Seek(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked("seek"); err != nil {
		return err
	}
	if t < 0 || t > s.cfg.Duration {
		return &DecodeError{Op: "seek", Position: s.cfg.Position, Err: ErrSeekOutOfBounds}
	}

	i := int(t.Seconds() * s.cfg.FrameRate)
	if i >= s.frameCount() {
		i = s.frameCount() - 1
	}
	if i < 0 {
		i = 0
	}
	if s.cfg.GOP > 0 {
		i -= i % s.cfg.GOP
	}
	s.next = i
	s.seeks++
	return nil
}

func (s *Synthetic) Duration() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.cfg.NoDuration {
		return 0, false
	}
	return s.cfg.Duration, true
}

func (s *Synthetic) VideoInfo() (media.VideoInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return media.VideoInfo{}, false
	}
	return media.VideoInfo{
		Codec:     "synthetic",
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		FrameRate: s.cfg.FrameRate,
	}, true
}

func (s *Synthetic) AudioInfo() (media.AudioInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.cfg.AudioSampleRate == 0 {
		return media.AudioInfo{}, false
	}
	return media.AudioInfo{Codec: "pcm_s16le", SampleRate: s.cfg.AudioSampleRate, Channels: 1}, true
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Synthetic) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Seeks returns the number of successful Seek calls.
func (s *Synthetic) Seeks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeks
}

func (s *Synthetic) usableLocked(op string) error {
	if s.closed {
		return &DecodeError{Op: op, Position: s.cfg.Position, Err: ErrClosed}
	}
	if !s.initialized {
		return &DecodeError{Op: op, Position: s.cfg.Position, Err: ErrNotInitialized}
	}
	return nil
}

func (s *Synthetic) frameCount() int {
	return int(math.Ceil(s.cfg.Duration.Seconds() * s.cfg.FrameRate))
}

func (s *Synthetic) nominal(i int) time.Duration {
	return time.Duration(math.Round(float64(i) / s.cfg.FrameRate * float64(time.Second)))
}

// timestampOf returns the presentation time of frame i. The jitter term is a
// cheap integer hash of i mapped into [-1, 1] so the sequence is repeatable.
func (s *Synthetic) timestampOf(i int) time.Duration {
	ts := s.nominal(i) + s.cfg.Offset
	if s.cfg.Jitter > 0 {
		h := uint32(i+1) * 2654435761
		unit := float64(h%2001)/1000 - 1
		ts += time.Duration(unit * float64(s.cfg.Jitter))
	}
	if ts < 0 {
		ts = 0
	}
	return ts
}
