package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/blackbox/internal/decode"
	"github.com/zsiec/blackbox/media"
)

func newDecoder(t *testing.T, cfg decode.SyntheticConfig) *decode.Synthetic {
	t.Helper()
	d := decode.NewSynthetic(cfg)
	if err := d.Initialize(); err != nil {
		t.Fatal(err)
	}
	return d
}

func newBuffer(t *testing.T, dec decode.Decoder, cfg Config) *Buffer {
	t.Helper()
	b := New(media.Front, dec, cfg, nil)
	t.Cleanup(func() { b.Close() })
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBufferFillsToCapacity(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 10 * time.Second, FrameRate: 30})
	b := newBuffer(t, dec, Config{Capacity: 5})

	waitFor(t, "full buffer", func() bool { return b.Status().Current == 5 })

	// Give the worker a chance to misbehave; it must stay parked.
	time.Sleep(20 * time.Millisecond)
	st := b.Status()
	if st.Current != 5 || st.Capacity != 5 || st.Fill != 1 {
		t.Errorf("Status = %+v, want 5/5 full", st)
	}
	if got := b.Stats().Decoded; got != 5 {
		t.Errorf("Decoded = %d, want 5 while full", got)
	}
}

func TestBufferDefaultCapacity(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 10 * time.Second})
	b := newBuffer(t, dec, Config{})
	if got := b.Status().Capacity; got != media.DefaultBufferCapacity {
		t.Errorf("Capacity = %d, want %d", got, media.DefaultBufferCapacity)
	}
}

func TestBufferFrameNearestEvictsOlder(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 10 * time.Second, FrameRate: 10})
	b := newBuffer(t, dec, Config{Capacity: 5})
	waitFor(t, "full buffer", func() bool { return b.Status().Current == 5 })

	f, ok := b.Frame(210 * time.Millisecond)
	if !ok {
		t.Fatal("Frame returned underrun on a full buffer")
	}
	if f.Timestamp != 200*time.Millisecond {
		t.Errorf("Frame(210ms).Timestamp = %v, want 200ms", f.Timestamp)
	}
	if f.Position != media.Front {
		t.Errorf("Position = %v, want front", f.Position)
	}
	if got := b.Stats().Evicted; got != 2 {
		t.Errorf("Evicted = %d, want 2", got)
	}

	// The same query stays answerable while paused.
	again, ok := b.Frame(210 * time.Millisecond)
	if !ok || again.Seq != f.Seq {
		t.Errorf("repeat Frame = %v, %v; want seq %d", again, ok, f.Seq)
	}

	// Consumption lets prefetch resume.
	waitFor(t, "refill", func() bool { return b.Stats().Decoded == 7 })
}

func TestBufferPeekConsumesNothing(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 10 * time.Second, FrameRate: 10})
	b := newBuffer(t, dec, Config{Capacity: 5})
	waitFor(t, "full buffer", func() bool { return b.Status().Current == 5 })

	for range 50 {
		f, ok := b.Peek(310 * time.Millisecond)
		if !ok || f.Timestamp != 300*time.Millisecond {
			t.Fatalf("Peek(310ms) = %v, %v; want frame at 300ms", f, ok)
		}
	}
	if _, ok := b.Peek(-time.Hour); !ok {
		t.Error("Peek far before the ring should return the oldest frame")
	}
	st := b.Stats()
	if st.Evicted != 0 || st.Underruns != 0 || st.Decoded != 5 {
		t.Errorf("Stats after Peek = %+v, want nothing evicted or decoded beyond 5", st)
	}
	if got := b.Status().Current; got != 5 {
		t.Errorf("Current = %d, want 5", got)
	}
}

func TestBufferUnderrun(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 10 * time.Second, DecodeDelay: 300 * time.Millisecond})
	b := newBuffer(t, dec, Config{Capacity: 5})

	if _, ok := b.Frame(0); ok {
		t.Fatal("expected underrun before first decode completes")
	}
	if got := b.Stats().Underruns; got != 1 {
		t.Errorf("Underruns = %d, want 1", got)
	}
}

func TestBufferSeekSkipsToTarget(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 10 * time.Second, FrameRate: 30, GOP: 30})
	b := newBuffer(t, dec, Config{Capacity: 5, SkipTolerance: 40 * time.Millisecond})
	waitFor(t, "initial fill", func() bool { return b.Status().Current == 5 })

	target := 5500 * time.Millisecond
	b.Seek(target)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	f, ok := b.Frame(target)
	if !ok {
		t.Fatal("no frame after seek")
	}
	d := f.Timestamp - target
	if d < 0 {
		d = -d
	}
	if d > 34*time.Millisecond {
		t.Errorf("frame after seek at %v, want within one frame of %v", f.Timestamp, target)
	}
	if dec.Seeks() != 1 {
		t.Errorf("decoder seeks = %d, want 1", dec.Seeks())
	}
	if b.Stats().Skipped == 0 {
		t.Error("expected pre-target frames from the keyframe to be skipped")
	}
}

func TestBufferDecodeErrorRecoversOnSeek(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 10 * time.Second, FrameRate: 30, FailAtFrame: 3})
	b := newBuffer(t, dec, Config{Capacity: 10})

	waitFor(t, "decode error", func() bool { return b.Err() != nil })
	if !errors.Is(b.Err(), decode.ErrCorruptFrame) {
		t.Fatalf("Err = %v, want ErrCorruptFrame", b.Err())
	}
	if _, ok := b.Frame(0); ok {
		t.Error("errored channel must not serve frames")
	}

	b.Seek(0)
	if b.Err() != nil {
		t.Errorf("Err after Seek = %v, want nil", b.Err())
	}
	waitFor(t, "recovery", func() bool { return b.Status().Current == 10 })
	if _, ok := b.Frame(0); !ok {
		t.Error("recovered channel should serve frames")
	}
	if got := b.Stats().DecodeErrors; got != 1 {
		t.Errorf("DecodeErrors = %d, want 1", got)
	}
}

func TestBufferEndOfStreamHoldsLastFrame(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 100 * time.Millisecond, FrameRate: 30})
	b := newBuffer(t, dec, Config{Capacity: 10})

	waitFor(t, "end of stream", b.EOF)
	f, ok := b.Frame(time.Second)
	if !ok {
		t.Fatal("expected last frame at end of stream")
	}
	if f.Seq != 2 {
		t.Errorf("last frame seq = %d, want 2", f.Seq)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.WaitReady(ctx); err != nil {
		t.Errorf("WaitReady at EOF: %v", err)
	}
}

func TestBufferCloseJoinsWorkerAndClosesDecoder(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 10 * time.Second, DecodeDelay: 5 * time.Millisecond})
	b := New(media.Rear, dec, Config{Capacity: 3}, nil)

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if !dec.Closed() {
		t.Error("decoder not closed after Close returned")
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if st := b.Status(); st.Current != 0 {
		t.Errorf("Status after Close = %+v, want empty", st)
	}

	// Seek after close is ignored rather than reviving the worker.
	b.Seek(time.Second)
	if got := b.Stats().Seeks; got != 0 {
		t.Errorf("Seeks after Close = %d, want 0", got)
	}
}

func TestBufferWaitReadyCancelled(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 10 * time.Second, DecodeDelay: 300 * time.Millisecond})
	b := newBuffer(t, dec, Config{Capacity: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReady = %v, want DeadlineExceeded", err)
	}
}

func TestBufferConcurrentSeekAndConsume(t *testing.T) {
	t.Parallel()

	dec := newDecoder(t, decode.SyntheticConfig{Duration: 30 * time.Second, FrameRate: 30, GOP: 15})
	b := newBuffer(t, dec, Config{Capacity: 8, SkipTolerance: 50 * time.Millisecond})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		var t0 time.Duration
		for {
			select {
			case <-stop:
				return
			default:
			}
			b.Frame(t0)
			if st := b.Status(); st.Current > st.Capacity {
				t.Errorf("Status %+v over capacity", st)
				return
			}
			t0 += 10 * time.Millisecond
		}
	}()

	for i := 0; i < 50; i++ {
		b.Seek(time.Duration(i%20) * time.Second)
	}
	close(stop)
	wg.Wait()

	final := 12 * time.Second
	b.Seek(final)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	f, ok := b.Frame(final)
	if !ok {
		t.Fatal("no frame after final seek")
	}
	if f.Timestamp < final-50*time.Millisecond {
		t.Errorf("frame %v predates final seek target %v", f.Timestamp, final)
	}
}

func TestRing(t *testing.T) {
	t.Parallel()

	r := newRing(3)
	for i := 0; i < 3; i++ {
		if !r.push(&media.Frame{Timestamp: time.Duration(i) * time.Second}) {
			t.Fatalf("push %d failed", i)
		}
	}
	if r.push(&media.Frame{}) {
		t.Fatal("push into full ring succeeded")
	}
	if got := r.nearest(1400 * time.Millisecond); got != 1 {
		t.Errorf("nearest(1.4s) = %d, want 1", got)
	}

	r.dropFront(2)
	if r.len() != 1 || r.at(0).Timestamp != 2*time.Second {
		t.Fatalf("after dropFront(2): len=%d", r.len())
	}
	// Wrap around.
	r.push(&media.Frame{Timestamp: 3 * time.Second})
	r.push(&media.Frame{Timestamp: 4 * time.Second})
	if !r.full() || r.at(2).Timestamp != 4*time.Second {
		t.Errorf("wrapped ring contents wrong")
	}

	r.reset()
	if r.len() != 0 || r.nearest(0) != -1 {
		t.Errorf("reset ring len=%d nearest=%d", r.len(), r.nearest(0))
	}
}
