// Package channel implements the per-camera channel buffer: a bounded ring
// of decoded frames kept filled ahead of the playback position by a
// background prefetch goroutine that exclusively owns the decoder.
package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/blackbox/internal/decode"
	"github.com/zsiec/blackbox/media"
)

// Config controls buffer sizing and seek behavior.
type Config struct {
	// Capacity is the maximum number of decoded frames held. Defaults to
	// media.DefaultBufferCapacity.
	Capacity int
	// SkipTolerance bounds how far before a seek target decoded frames may
	// start. Backends seek to the preceding keyframe, so frames older than
	// target-SkipTolerance are decoded and discarded.
	SkipTolerance time.Duration
}

// Buffer owns one decoder and its ring. The prefetch goroutine is the only
// caller of the decoder; Frame, Seek, Status and Stats may be called from any
// goroutine.
type Buffer struct {
	log      *slog.Logger
	pos      media.ChannelPosition
	dec      decode.Decoder
	capacity int
	skipTol  time.Duration
	stats    counters
	count    atomic.Int32

	mu          sync.Mutex
	cond        *sync.Cond
	ring        *ring
	gen         uint64
	seekPending bool
	seekTarget  time.Duration
	skipBefore  time.Duration
	skipping    bool
	err         error
	eof         bool
	closed      bool
	ready       chan struct{}
	readyClosed bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New wraps an initialized decoder and starts prefetching from its current
// position. If log is nil, slog.Default() is used.
func New(pos media.ChannelPosition, dec decode.Decoder, cfg Config, log *slog.Logger) *Buffer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = media.DefaultBufferCapacity
	}
	b := &Buffer{
		log:      log.With("component", "channel-buffer", "position", pos.String()),
		pos:      pos,
		dec:      dec,
		capacity: cfg.Capacity,
		skipTol:  cfg.SkipTolerance,
		ring:     newRing(cfg.Capacity),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Position returns the camera position this buffer serves.
func (b *Buffer) Position() media.ChannelPosition { return b.pos }

// Frame returns the buffered frame nearest to t and evicts every older
// frame, freeing room for prefetch. It reports false on underrun or while
// the channel is in a decode-error state.
func (b *Buffer) Frame(t time.Duration) (*media.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return nil, false
	}
	idx := b.ring.nearest(t)
	if idx < 0 {
		b.stats.underruns.Add(1)
		return nil, false
	}
	f := b.ring.at(idx)
	if idx > 0 {
		b.ring.dropFront(idx)
		b.stats.evicted.Add(int64(idx))
		b.count.Store(int32(b.ring.len()))
		b.cond.Broadcast()
	}
	return f, true
}

// Peek returns the buffered frame nearest to t like Frame but consumes
// nothing and counts no underrun.
func (b *Buffer) Peek(t time.Duration) (*media.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return nil, false
	}
	idx := b.ring.nearest(t)
	if idx < 0 {
		return nil, false
	}
	return b.ring.at(idx), true
}

// Seek flushes the ring and asks the prefetch goroutine to reposition the
// decoder at t. It returns immediately; frames for the new position arrive
// asynchronously. Any decode error or end-of-stream state is cleared.
func (b *Buffer) Seek(t time.Duration) {
	if t < 0 {
		t = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.ring.reset()
	b.count.Store(0)
	b.gen++
	b.seekPending = true
	b.seekTarget = t
	b.skipBefore = t - b.skipTol
	b.skipping = true
	b.err = nil
	b.eof = false
	b.ready = make(chan struct{})
	b.readyClosed = false
	b.stats.seeks.Add(1)
	b.cond.Broadcast()
}

// Status reports the fill level without taking the buffer lock.
func (b *Buffer) Status() media.BufferStatus {
	return media.NewBufferStatus(int(b.count.Load()), b.capacity)
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	return b.stats.snapshot()
}

// Err returns the decode error that stopped prefetch, if any. It is cleared
// by the next Seek.
func (b *Buffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// EOF reports whether the decoder has reached end of stream since the last
// seek.
func (b *Buffer) EOF() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eof
}

// WaitReady blocks until the buffer holds its first frame since the last
// seek, prefetch stops on error or end of stream, or ctx is done.
func (b *Buffer) WaitReady(ctx context.Context) error {
	b.mu.Lock()
	ready := b.ready
	b.mu.Unlock()

	select {
	case <-ready:
		return b.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the prefetch goroutine, waits for it to exit, and closes the
// decoder. It is safe to call more than once.
func (b *Buffer) Close() error {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()

	<-b.done

	b.closeOnce.Do(func() {
		b.closeErr = b.dec.Close()

		b.mu.Lock()
		b.ring.reset()
		b.count.Store(0)
		b.signalReadyLocked()
		b.mu.Unlock()

		b.log.Debug("channel buffer closed", "stats", b.stats.snapshot())
	})
	return b.closeErr
}

// run is the prefetch loop. It parks while the ring is full, after an error
// or at end of stream, and wakes on consumption, Seek or Close.
func (b *Buffer) run() {
	defer close(b.done)

	for {
		b.mu.Lock()
		for !b.closed && !b.seekPending && (b.ring.full() || b.err != nil || b.eof) {
			b.cond.Wait()
		}
		if b.closed {
			b.mu.Unlock()
			return
		}
		gen := b.gen
		doSeek := b.seekPending
		target := b.seekTarget
		b.seekPending = false
		b.mu.Unlock()

		if doSeek {
			if err := b.dec.Seek(target); err != nil {
				b.fail(gen, err)
				continue
			}
		}

		frame, audio, err := b.dec.DecodeNextFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.finish(gen)
			} else {
				b.fail(gen, err)
			}
			continue
		}
		if audio != nil {
			b.stats.audioFrames.Add(1)
		}
		if frame != nil {
			b.store(gen, frame)
		}
	}
}

// store appends a decoded frame unless a seek superseded the decode or the
// frame precedes the seek target.
func (b *Buffer) store(gen uint64, f *media.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		b.stats.staleDropped.Add(1)
		return
	}
	if b.skipping {
		if f.Timestamp < b.skipBefore {
			b.stats.skipped.Add(1)
			return
		}
		b.skipping = false
	}
	f.Position = b.pos
	if !b.ring.push(f) {
		// Only this goroutine pushes, so a full ring here means a bug in
		// the wait condition. Drop rather than block the decoder.
		b.stats.staleDropped.Add(1)
		return
	}
	b.stats.decoded.Add(1)
	b.count.Store(int32(b.ring.len()))
	b.signalReadyLocked()
}

func (b *Buffer) fail(gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return
	}
	b.err = err
	b.stats.decodeErrors.Add(1)
	b.signalReadyLocked()
	b.log.Warn("channel decode error, prefetch paused until reseek", "error", err)
}

func (b *Buffer) finish(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return
	}
	b.eof = true
	b.signalReadyLocked()
	b.log.Debug("channel reached end of stream")
}

func (b *Buffer) signalReadyLocked() {
	if !b.readyClosed {
		close(b.ready)
		b.readyClosed = true
	}
}
