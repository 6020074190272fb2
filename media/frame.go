// Package media defines the core types that flow through the blackbox
// playback engine, from the decode backend through channel buffering to the
// synchronized frame sets handed to the renderer.
package media

import "time"

// DefaultBufferCapacity is the number of decoded frames a channel buffer
// holds ahead of the playback position. At 30 fps this is ~1 second of video,
// enough to absorb decoder jitter without holding many full-size pictures.
const DefaultBufferCapacity = 30

// Frame is a single decoded video picture produced by a decode backend.
// Timestamp is relative to the start of its channel. A Frame is owned by
// its channel buffer until it is consumed or evicted; consumers must treat
// Data as read-only.
type Frame struct {
	Position   ChannelPosition
	Timestamp  time.Duration
	Width      int
	Height     int
	Data       []byte // decoded pixel buffer, layout defined by the backend
	Seq        uint64
	IsKeyframe bool
}

// AudioFrame is a block of decoded audio samples emitted alongside video by
// backends whose container carries an audio track.
type AudioFrame struct {
	Timestamp  time.Duration
	SampleRate int
	Channels   int
	Data       []byte
}

// VideoInfo describes a decoded video stream once the backend has been
// initialized.
type VideoInfo struct {
	Codec     string
	Width     int
	Height    int
	FrameRate float64
}

// AudioInfo describes a decoded audio stream once the backend has been
// initialized.
type AudioInfo struct {
	Codec      string
	SampleRate int
	Channels   int
}

// BufferStatus reports how full a channel buffer is.
type BufferStatus struct {
	Current  int     `json:"current"`
	Capacity int     `json:"capacity"`
	Fill     float64 `json:"fill"`
}

// NewBufferStatus builds a BufferStatus, clamping current into [0, capacity].
func NewBufferStatus(current, capacity int) BufferStatus {
	if capacity < 0 {
		capacity = 0
	}
	if current < 0 {
		current = 0
	}
	if current > capacity {
		current = capacity
	}
	s := BufferStatus{Current: current, Capacity: capacity}
	if capacity > 0 {
		s.Fill = float64(current) / float64(capacity)
	}
	return s
}
