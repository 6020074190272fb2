package decode

import (
	"time"

	"github.com/zsiec/blackbox/media"
)

// Decoder is a single-channel decode backend. DecodeNextFrame returns io.EOF
// at end of stream; either returned frame may be nil when the container
// interleaves audio and video. All info accessors report false before
// Initialize succeeds.
type Decoder interface {
	Initialize() error
	DecodeNextFrame() (*media.Frame, *media.AudioFrame, error)
	Seek(t time.Duration) error
	Duration() (time.Duration, bool)
	VideoInfo() (media.VideoInfo, bool)
	AudioInfo() (media.AudioInfo, bool)
	Close() error
}

// Opener creates an uninitialized Decoder for a channel descriptor.
type Opener func(info media.ChannelInfo) (Decoder, error)
