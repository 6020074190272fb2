package playback

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zsiec/blackbox/internal/drift"
	"github.com/zsiec/blackbox/media"
)

// clock is one run of the master clock goroutine.
type clock struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Play starts or resumes playback. It is a no-op when nothing is loaded or
// already playing. Playing from the end rewinds to the start.
func (c *Controller) Play() {
	c.mu.Lock()
	if len(c.channels) == 0 || c.playState == media.StatePlaying {
		c.mu.Unlock()
		return
	}
	now := c.now()
	if c.currentTime >= c.duration {
		c.seekLocked(0, now)
	}
	c.lastTick = now
	for _, ch := range c.channels {
		ch.lastAccept = now
	}
	prev := c.stopClockLocked()
	settle := c.stopSettleLocked()
	c.startClockLocked()
	c.setStateLocked(media.StatePlaying)
	c.mu.Unlock()

	// A clock that auto-stopped at the end cancelled itself without being
	// joined.
	if prev != nil {
		<-prev.done
	}
	if settle != nil {
		<-settle.done
	}
}

// Pause halts the clock at the current position. It is a no-op unless
// playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	if len(c.channels) == 0 || c.playState != media.StatePlaying {
		c.mu.Unlock()
		return
	}
	c.advanceLocked(c.now())
	c.setStateLocked(media.StatePaused)
	clk := c.stopClockLocked()
	c.mu.Unlock()

	if clk != nil {
		<-clk.done
	}
}

// TogglePlayPause pauses when playing and plays otherwise.
func (c *Controller) TogglePlayPause() {
	if c.State() == media.StatePlaying {
		c.Pause()
	} else {
		c.Play()
	}
}

// SeekToTime moves the clock to t clamped to [0, duration]. The new time is
// visible immediately; channel buffers refill asynchronously. A seek also
// re-arms channels the watchdog marked failed.
func (c *Controller) SeekToTime(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekLocked(t, c.now())
}

// SeekBySeconds seeks relative to the current time. A NaN or infinite delta
// is ignored.
func (c *Controller) SeekBySeconds(delta float64) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekLocked(c.currentTime+time.Duration(delta*float64(time.Second)), c.now())
}

// SetPlaybackSpeed changes the rate at which media time advances relative
// to wall time. The change applies from this instant without restarting
// playback.
func (c *Controller) SetPlaybackSpeed(speed float64) error {
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playState == media.StatePlaying {
		c.advanceLocked(c.now())
	}
	if c.speed != speed {
		c.speed = speed
		c.speedSubj.Publish(speed)
		c.metrics.RecordSpeed(speed)
	}
	return nil
}

func (c *Controller) seekLocked(t time.Duration, now time.Time) {
	t = min(max(t, 0), c.duration)
	c.lastTick = now
	c.setTimeLocked(t)
	for _, ch := range c.channels {
		ch.buf.Seek(t)
		ch.failed = false
		ch.recoveries = 0
		ch.lastAccept = now
	}
	if len(c.channels) > 0 {
		c.allReady.Store(false)
		c.metrics.RecordSeek()
		c.log.Debug("seek", "session", c.session, "time", t)
		if c.playState != media.StatePlaying {
			c.startSettleLocked()
		}
	}
}

// startSettleLocked replaces any pending settle with one that waits for the
// channels to refill after a seek and then evaluates the current time once.
// While playing the clock does this instead. The previous settle goroutine
// exits on cancellation and is not joined here.
func (c *Controller) startSettleLocked() {
	if c.settle != nil {
		c.settle.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PrimeTimeout)
	clk := &clock{cancel: cancel, done: make(chan struct{})}
	c.settle = clk
	chans := c.channels
	go func() {
		defer close(clk.done)
		defer cancel()
		for _, ch := range chans {
			ch.buf.WaitReady(ctx)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.settle != clk || c.playState == media.StatePlaying || len(c.channels) == 0 {
			return
		}
		c.settle = nil
		c.evaluateLocked(c.currentTime, c.now(), false)
	}()
}

// stopSettleLocked cancels the pending settle, if any, and returns it so the
// caller can wait for it after releasing c.mu.
func (c *Controller) stopSettleLocked() *clock {
	clk := c.settle
	c.settle = nil
	if clk != nil {
		clk.cancel()
	}
	return clk
}

func (c *Controller) startClockLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	clk := &clock{cancel: cancel, done: make(chan struct{})}
	c.clk = clk
	go c.run(ctx, clk)
}

// stopClockLocked cancels the running clock and returns it so the caller can
// wait for it after releasing c.mu.
func (c *Controller) stopClockLocked() *clock {
	clk := c.clk
	c.clk = nil
	if clk != nil {
		clk.cancel()
	}
	return clk
}

func (c *Controller) run(ctx context.Context, clk *clock) {
	defer close(clk.done)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick advances the clock by the wall time since the previous tick scaled
// by the speed and evaluates every channel at the new time. Reaching the
// duration stops playback with the time held at the duration.
func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Pause or Stop may have cancelled us while we waited for the lock.
	if ctx.Err() != nil {
		return
	}

	now := c.now()
	target := c.advanceLocked(now)
	c.evaluateLocked(target, now, true)
	c.metrics.RecordTick()

	if target >= c.duration {
		// Leave c.clk set so the next Play or Stop joins this goroutine.
		c.clk.cancel()
		c.setStateLocked(media.StateStopped)
		c.log.Info("playback reached end", "session", c.session, "duration", c.duration)
	}
}

// advanceLocked moves currentTime forward by the wall time elapsed since
// lastTick, clamped to the duration, and returns it.
func (c *Controller) advanceLocked(now time.Time) time.Duration {
	elapsed := max(now.Sub(c.lastTick), 0)
	c.lastTick = now
	t := c.currentTime + time.Duration(float64(elapsed)*c.speed)
	t = min(t, c.duration)
	c.setTimeLocked(t)
	return t
}

// evaluateLocked runs the drift corrector over every channel at target and
// returns the accepted frames. With watch set, channels that have not
// accepted a frame for StallTimeout are handed to the watchdog.
func (c *Controller) evaluateLocked(target time.Duration, now time.Time, watch bool) map[media.ChannelPosition]*media.Frame {
	frames := make(map[media.ChannelPosition]*media.Frame, len(c.channels))
	all := len(c.channels) > 0
	for _, ch := range c.channels {
		d := c.decide(ch, target)
		ch.last = d
		c.metrics.RecordDecision(d)
		c.metrics.RecordBuffer(ch.pos, ch.buf.Status())

		if d.Accepted() {
			frames[ch.pos] = d.Frame
			ch.lastAccept = now
			ch.recoveries = 0
			continue
		}
		all = false
		if watch {
			c.watchLocked(ch, now)
		}
	}
	c.allReady.Store(all)
	return frames
}

// peekLocked makes the decision decide would make for ch at target without
// consuming buffered frames or counting it. c.mu may be held for reading.
func (c *Controller) peekLocked(ch *channelState, target time.Duration) drift.Decision {
	switch {
	case ch.failed:
		return drift.Decision{Position: ch.pos, Reason: drift.ReasonFailed}
	case ch.buf.Err() != nil:
		return drift.Decision{Position: ch.pos, Reason: drift.ReasonError}
	}
	f, ok := ch.buf.Peek(target)
	return c.drift.Check(ch.pos, f, ok, target)
}

func (c *Controller) decide(ch *channelState, target time.Duration) drift.Decision {
	if ch.failed {
		return c.drift.Reject(ch.pos, drift.ReasonFailed)
	}
	if ch.buf.Err() != nil {
		return c.drift.Reject(ch.pos, drift.ReasonError)
	}
	f, ok := ch.buf.Frame(target)
	return c.drift.Evaluate(ch.pos, f, ok, target)
}

// watchLocked reseeks a stalled channel to the current time, and after
// MaxRecoveries consecutive attempts without an accepted frame marks it
// failed until the next user seek or load.
func (c *Controller) watchLocked(ch *channelState, now time.Time) {
	if ch.failed || c.cfg.StallTimeout < 0 || now.Sub(ch.lastAccept) < c.cfg.StallTimeout {
		return
	}
	if ch.recoveries >= c.cfg.MaxRecoveries {
		ch.failed = true
		c.metrics.RecordChannelFailed(ch.pos)
		c.log.Warn("channel failed, excluded until next seek",
			"session", c.session,
			"position", ch.pos.String(),
			"recoveries", ch.recoveries,
			"reason", ch.last.Reason.String(),
		)
		return
	}
	ch.recoveries++
	ch.lastAccept = now
	ch.buf.Seek(c.currentTime)
	c.metrics.RecordRecovery(ch.pos)
	c.log.Info("channel stalled, reseeking",
		"session", c.session,
		"position", ch.pos.String(),
		"time", c.currentTime,
		"attempt", ch.recoveries,
	)
}
