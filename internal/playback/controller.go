// Package playback implements the sync controller: the master clock and
// transport state machine that keeps several independently decoded camera
// channels presented on one timeline together with their sensor series.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/blackbox/internal/channel"
	"github.com/zsiec/blackbox/internal/decode"
	"github.com/zsiec/blackbox/internal/drift"
	"github.com/zsiec/blackbox/internal/metrics"
	"github.com/zsiec/blackbox/internal/observe"
	"github.com/zsiec/blackbox/internal/sensor"
	"github.com/zsiec/blackbox/media"
)

var errNoOpener = errors.New("playback: no decoder opener configured")

// Options configures a Controller.
type Options struct {
	Config Config
	// Opener creates the decode backend for each channel. Required.
	Opener decode.Opener
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// channelState is the controller's bookkeeping for one loaded channel.
type channelState struct {
	pos        media.ChannelPosition
	buf        *channel.Buffer
	last       drift.Decision
	lastAccept time.Time
	recoveries int
	failed     bool
}

// Controller is the sync controller. All methods are safe for concurrent
// use.
type Controller struct {
	log     *slog.Logger
	cfg     Config
	open    decode.Opener
	metrics *metrics.Metrics
	drift   *drift.Corrector
	gps     *sensor.GPSTimeline
	accel   *sensor.AccelTimeline
	now     func() time.Time

	stateSubj *observe.Subject[media.PlaybackState]
	timeSubj  *observe.Subject[time.Duration]
	speedSubj *observe.Subject[float64]

	allReady atomic.Bool
	loadMu   sync.Mutex

	mu          sync.RWMutex
	playState   media.PlaybackState
	currentTime time.Duration
	duration    time.Duration
	speed       float64
	session     uuid.UUID
	fileID      uuid.UUID
	channels    []*channelState
	clk         *clock
	settle      *clock
	lastTick    time.Time
	closed      bool
}

// New creates a stopped Controller with playback speed 1.0.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config.withDefaults()
	return &Controller{
		log:       log.With("component", "sync-controller"),
		cfg:       cfg,
		open:      opts.Opener,
		metrics:   opts.Metrics,
		drift:     drift.NewCorrector(cfg.DriftThreshold),
		gps:       sensor.NewGPSTimeline(),
		accel:     sensor.NewAccelTimeline(),
		now:       time.Now,
		stateSubj: observe.NewSubject(media.StateStopped),
		timeSubj:  observe.NewSubject(time.Duration(0)),
		speedSubj: observe.NewSubject(1.0),
		speed:     1.0,
	}
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// LoadVideoFile opens and initializes every channel of file concurrently,
// primes the sensor timelines and leaves the controller paused at time 0.
// Any channel failing to open or initialize aborts the load, releases the
// channels already opened and leaves the controller stopped. A controller
// that already has a file loaded is stopped first.
func (c *Controller) LoadVideoFile(ctx context.Context, file *media.VideoFile) (err error) {
	start := c.now()
	defer func() { c.metrics.RecordLoad(c.now().Sub(start), err) }()

	if file == nil || len(file.Channels) == 0 {
		return ErrNoChannels
	}
	if err := validateChannels(file.Channels); err != nil {
		return err
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	c.Stop()

	decs, err := c.openAll(ctx, file.Channels)
	if err != nil {
		c.log.Warn("video file load failed", "file", file.ID, "error", err)
		return err
	}

	var duration time.Duration
	chans := make([]*channelState, len(decs))
	for i, dec := range decs {
		d, ok := dec.Duration()
		if !ok {
			d = file.Duration
		}
		duration = max(duration, d)

		pos := file.Channels[i].Position
		chans[i] = &channelState{
			pos: pos,
			buf: channel.New(pos, dec, channel.Config{
				Capacity:      c.cfg.BufferCapacity,
				SkipTolerance: c.cfg.SkipTolerance,
			}, c.log),
		}
	}

	if err := c.prime(ctx, chans); err != nil {
		closeChannels(chans)
		return fmt.Errorf("playback: priming channels: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		closeChannels(chans)
		return ErrClosed
	}
	now := c.now()
	c.channels = chans
	c.duration = duration
	c.session = uuid.New()
	c.fileID = file.ID
	c.lastTick = now
	c.setTimeLocked(0)
	c.gps.Load(file.Timestamp, file.Metadata.GPS)
	c.accel.Load(file.Timestamp, file.Metadata.Acceleration)
	c.drift.Reset()
	for _, ch := range chans {
		ch.lastAccept = now
	}
	c.evaluateLocked(0, now, false)
	c.setStateLocked(media.StatePaused)
	session := c.session
	c.mu.Unlock()

	c.log.Info("video file loaded",
		"file", file.ID,
		"session", session,
		"channels", len(chans),
		"duration", duration,
		"ready", c.allReady.Load(),
	)
	return nil
}

func validateChannels(infos []media.ChannelInfo) error {
	seen := make(map[media.ChannelPosition]bool, len(infos))
	for _, info := range infos {
		if !info.Position.Valid() {
			return fmt.Errorf("%w: unknown position %d", ErrInvalidChannel, int(info.Position))
		}
		if seen[info.Position] {
			return fmt.Errorf("%w: duplicate %s channel", ErrInvalidChannel, info.Position)
		}
		seen[info.Position] = true
	}
	return nil
}

// openAll opens and initializes every channel's decoder concurrently. On
// failure every decoder already created is closed.
func (c *Controller) openAll(ctx context.Context, infos []media.ChannelInfo) ([]decode.Decoder, error) {
	if c.open == nil {
		return nil, errNoOpener
	}

	decs := make([]decode.Decoder, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	for i, info := range infos {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dec, err := c.open(info)
			if err != nil {
				return fmt.Errorf("playback: open %s channel: %w", info.Position, err)
			}
			decs[i] = dec
			if err := dec.Initialize(); err != nil {
				return fmt.Errorf("playback: initialize %s channel: %w", info.Position, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, dec := range decs {
			if dec != nil {
				dec.Close()
			}
		}
		return nil, err
	}
	return decs, nil
}

// prime waits, bounded by PrimeTimeout, for every channel to buffer its
// first frame. A channel that is slow or fails is left to the clock's
// graceful exclusion; only cancellation of ctx aborts.
func (c *Controller) prime(ctx context.Context, chans []*channelState) error {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.PrimeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.buf.WaitReady(pctx); err != nil {
				c.log.Warn("channel not ready after load", "position", ch.pos.String(), "error", err)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Stop halts the clock, releases every channel and resets state, time,
// duration and channel count to zero. Decoders are closed and prefetch
// goroutines have exited when Stop returns. It is idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	clk := c.stopClockLocked()
	settle := c.stopSettleLocked()
	chans := c.channels
	c.channels = nil
	c.duration = 0
	c.setTimeLocked(0)
	c.setStateLocked(media.StateStopped)
	c.gps.Clear()
	c.accel.Clear()
	c.allReady.Store(false)
	session := c.session
	c.mu.Unlock()

	if clk != nil {
		<-clk.done
	}
	if settle != nil {
		<-settle.done
	}
	if len(chans) > 0 {
		closeChannels(chans)
		c.log.Info("playback stopped", "session", session, "channels", len(chans))
	}
}

// Close stops playback and ends every subscription. Later loads fail with
// ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Stop()
	c.stateSubj.Close()
	c.timeSubj.Close()
	c.speedSubj.Close()
}

func (c *Controller) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// closeChannels closes every buffer concurrently and waits for all of them.
func closeChannels(chans []*channelState) {
	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.buf.Close()
		}()
	}
	wg.Wait()
}

// State returns the playback state.
func (c *Controller) State() media.PlaybackState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playState
}

// CurrentTime returns the master clock position.
func (c *Controller) CurrentTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTime
}

// Duration returns the longest loaded channel duration.
func (c *Controller) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.duration
}

// PlaybackSpeed returns the speed multiplier.
func (c *Controller) PlaybackSpeed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

// ChannelCount returns the number of loaded channels.
func (c *Controller) ChannelCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.channels)
}

// AllChannelsReady reports whether every loaded channel presented an
// in-tolerance frame on the most recent evaluation.
func (c *Controller) AllChannelsReady() bool {
	return c.allReady.Load()
}

// Session identifies the current load. It is the zero UUID before the first
// load.
func (c *Controller) Session() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SynchronizedFrames returns the frame of every channel that is within the
// drift threshold of the current time. Channels that underrun, drift, are
// in error or failed are absent. The map is empty when nothing is loaded.
//
// Reading consumes no frames and is not counted in DriftStats; decisions
// are counted by the clock.
func (c *Controller) SynchronizedFrames() map[media.ChannelPosition]*media.Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	frames := make(map[media.ChannelPosition]*media.Frame, len(c.channels))
	for _, ch := range c.channels {
		if d := c.peekLocked(ch, c.currentTime); d.Accepted() {
			frames[ch.pos] = d.Frame
		}
	}
	return frames
}

// BufferStatus returns every channel's fill level. The map is empty when
// nothing is loaded.
func (c *Controller) BufferStatus() map[media.ChannelPosition]media.BufferStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[media.ChannelPosition]media.BufferStatus, len(c.channels))
	for _, ch := range c.channels {
		out[ch.pos] = ch.buf.Status()
	}
	return out
}

// ChannelStats returns every loaded channel's buffer counters.
func (c *Controller) ChannelStats() map[media.ChannelPosition]channel.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[media.ChannelPosition]channel.Stats, len(c.channels))
	for _, ch := range c.channels {
		out[ch.pos] = ch.buf.Stats()
	}
	return out
}

// DriftStats returns the drift corrector's per-channel counters since the
// last load.
func (c *Controller) DriftStats() map[media.ChannelPosition]drift.ChannelStats {
	return c.drift.Stats()
}

// SubscribeState streams playback state changes, starting with the current
// state. Callers must Close the subscription.
func (c *Controller) SubscribeState() *observe.Subscription[media.PlaybackState] {
	return c.stateSubj.Subscribe()
}

// SubscribeTime streams current time changes, starting with the current
// time. Callers must Close the subscription.
func (c *Controller) SubscribeTime() *observe.Subscription[time.Duration] {
	return c.timeSubj.Subscribe()
}

// SubscribeSpeed streams playback speed changes, starting with the current
// speed. Callers must Close the subscription.
func (c *Controller) SubscribeSpeed() *observe.Subscription[float64] {
	return c.speedSubj.Subscribe()
}

func (c *Controller) setStateLocked(s media.PlaybackState) {
	if c.playState == s {
		return
	}
	c.log.Debug("playback state changed", "from", c.playState.String(), "to", s.String())
	c.playState = s
	c.stateSubj.Publish(s)
	c.metrics.RecordState(s)
}

func (c *Controller) setTimeLocked(t time.Duration) {
	if c.currentTime == t {
		return
	}
	c.currentTime = t
	c.timeSubj.Publish(t)
}
