package playback

import "errors"

var (
	// ErrInvalidSpeed is returned by SetPlaybackSpeed for a speed that is
	// not a finite positive number.
	ErrInvalidSpeed = errors.New("playback: invalid playback speed")
	// ErrNoChannels is returned when loading a file without channels.
	ErrNoChannels = errors.New("playback: video file has no channels")
	// ErrInvalidChannel is returned when a file lists an unknown or
	// duplicated channel position.
	ErrInvalidChannel = errors.New("playback: invalid channel")
	// ErrClosed is returned by LoadVideoFile after Close.
	ErrClosed = errors.New("playback: controller closed")
)
