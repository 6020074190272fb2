package channel

import (
	"time"

	"github.com/zsiec/blackbox/media"
)

// ring is a fixed-capacity FIFO of decoded frames in decode order. It is not
// safe for concurrent use; Buffer guards it with its mutex.
type ring struct {
	frames []*media.Frame
	head   int
	n      int
}

func newRing(capacity int) *ring {
	return &ring{frames: make([]*media.Frame, capacity)}
}

func (r *ring) len() int { return r.n }
func (r *ring) cap() int { return len(r.frames) }
func (r *ring) full() bool { return r.n == len(r.frames) }

// push appends f, reporting false when the ring is full.
func (r *ring) push(f *media.Frame) bool {
	if r.full() {
		return false
	}
	r.frames[(r.head+r.n)%len(r.frames)] = f
	r.n++
	return true
}

// at returns the i-th oldest frame.
func (r *ring) at(i int) *media.Frame {
	return r.frames[(r.head+i)%len(r.frames)]
}

// dropFront discards the k oldest frames.
func (r *ring) dropFront(k int) {
	if k > r.n {
		k = r.n
	}
	for i := 0; i < k; i++ {
		r.frames[(r.head+i)%len(r.frames)] = nil
	}
	r.head = (r.head + k) % len(r.frames)
	r.n -= k
}

func (r *ring) reset() {
	r.dropFront(r.n)
	r.head = 0
}

// nearest returns the index of the frame whose timestamp is closest to t,
// or -1 when empty. Decode order is not strictly presentation order around
// seeks, so this scans rather than bisects; the ring is small.
func (r *ring) nearest(t time.Duration) int {
	best := -1
	var bestDist time.Duration
	for i := 0; i < r.n; i++ {
		d := r.at(i).Timestamp - t
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
