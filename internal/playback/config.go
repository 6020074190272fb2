package playback

import (
	"time"

	"github.com/zsiec/blackbox/internal/drift"
	"github.com/zsiec/blackbox/media"
)

// Config holds the controller's tunables. Zero fields take the defaults
// from DefaultConfig.
type Config struct {
	// DriftThreshold is the maximum offset between a channel frame and the
	// master clock for the frame to be presented.
	DriftThreshold time.Duration
	// TickInterval is the master clock period while playing.
	TickInterval time.Duration
	// BufferCapacity is the number of decoded frames each channel holds.
	BufferCapacity int
	// SkipTolerance bounds how far before a seek target buffered frames may
	// start.
	SkipTolerance time.Duration
	// StallTimeout is the wall time a playing channel may go without an
	// accepted frame before the watchdog reseeks it. Negative disables the
	// watchdog.
	StallTimeout time.Duration
	// MaxRecoveries is the number of consecutive watchdog reseeks before a
	// channel is marked failed.
	MaxRecoveries int
	// PrimeTimeout bounds how long LoadVideoFile waits for first frames.
	PrimeTimeout time.Duration
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		DriftThreshold: drift.DefaultThreshold,
		TickInterval:   16 * time.Millisecond,
		BufferCapacity: media.DefaultBufferCapacity,
		SkipTolerance:  40 * time.Millisecond,
		StallTimeout:   2 * time.Second,
		MaxRecoveries:  3,
		PrimeTimeout:   2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = d.DriftThreshold
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if c.SkipTolerance <= 0 {
		c.SkipTolerance = d.SkipTolerance
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = d.StallTimeout
	}
	if c.MaxRecoveries <= 0 {
		c.MaxRecoveries = d.MaxRecoveries
	}
	if c.PrimeTimeout <= 0 {
		c.PrimeTimeout = d.PrimeTimeout
	}
	return c
}
