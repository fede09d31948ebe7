package mixer

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Timeline)(nil)

const (
	// DefaultGain is the master gain applied to mixed playback.
	DefaultGain float32 = 0.35

	// defaultQueueCap is the initial capacity hint for the schedule queue.
	defaultQueueCap = 16
)

// ErrClosed is returned by [Timeline.Schedule] after [Timeline.Close].
var ErrClosed = errors.New("mixer: timeline closed")

// Option configures a [Timeline] during construction.
type Option func(*Timeline)

// WithGain sets the master gain. Negative values are treated as zero.
func WithGain(g float32) Option {
	return func(t *Timeline) {
		t.gain = max(g, 0)
	}
}

// WithQueueCapacity sets the initial capacity hint for the internal schedule
// queue. This does not impose a hard limit; the queue grows as needed.
func WithQueueCapacity(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.queue = make(bufferHeap, 0, n)
		}
	}
}

// Timeline is a playback timeline for one output stream. The device driver
// pulls mixed samples with [Timeline.Render]; every Render call advances the
// position by the number of samples rendered, so the position is the device
// clock expressed in samples.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	format audio.Format
	pos    atomic.Int64

	mu     sync.Mutex
	queue  bufferHeap // scheduled, not yet started
	active []entry    // started, not yet finished
	seq    uint64
	gain   float32
	closed bool
}

// New creates a [Timeline] for the given format at position zero.
func New(format audio.Format, opts ...Option) *Timeline {
	t := &Timeline{
		format: format,
		queue:  make(bufferHeap, 0, defaultQueueCap),
		gain:   DefaultGain,
	}
	for _, o := range opts {
		o(t)
	}
	heap.Init(&t.queue)
	return t
}

// Format returns the timeline's sample format.
func (t *Timeline) Format() audio.Format { return t.format }

// Position returns the number of samples rendered so far.
func (t *Timeline) Position() int64 { return t.pos.Load() }

// Schedule queues a copy of samples to start at sample position at. The part
// of a buffer that lies before the current position is skipped.
func (t *Timeline) Schedule(at int64, samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	buf := make([]float32, len(samples))
	copy(buf, samples)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	t.seq++
	heap.Push(&t.queue, entry{start: at, samples: buf, seq: t.seq})
	return nil
}

// Render fills out with the mix of all buffers overlapping the next len(out)
// samples, applies the master gain, clamps to [-1, 1] and advances the
// position. Intended to be called from the device's output callback.
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.pos.Load()
	to := from + int64(len(out))

	for t.queue.Len() > 0 && t.queue[0].start < to {
		t.active = append(t.active, heap.Pop(&t.queue).(entry))
	}

	kept := t.active[:0]
	for _, e := range t.active {
		lo := max(e.start, from)
		hi := min(e.end(), to)
		for p := lo; p < hi; p++ {
			out[p-from] += e.samples[p-e.start]
		}
		if e.end() > to {
			kept = append(kept, e)
		}
	}
	clear(t.active[len(kept):])
	t.active = kept

	for i, s := range out {
		s *= t.gain
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = s
	}

	t.pos.Store(to)
}

// Pending returns the number of buffers that have not finished playing.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Len() + len(t.active)
}

// SetGain changes the master gain. Takes effect on the next Render.
func (t *Timeline) SetGain(g float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gain = max(g, 0)
}

// Flush discards every scheduled and playing buffer. The position is kept.
func (t *Timeline) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked()
}

// Close discards everything scheduled and rejects further buffers. Render
// keeps producing silence so a still-running device callback stays valid.
// Close is idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.flushLocked()
	return nil
}

func (t *Timeline) flushLocked() {
	t.queue = t.queue[:0]
	t.active = nil
}
