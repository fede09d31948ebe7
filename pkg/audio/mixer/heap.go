// Package mixer provides a concrete [audio.Output] implementation: a
// sample-accurate playback timeline. Buffers are scheduled at absolute sample
// positions and summed into the device's output callback through [Timeline.Render],
// with a master gain stage applied after mixing.
package mixer

// entry wraps a scheduled buffer with its timeline position. The seq field
// provides FIFO ordering for buffers scheduled at the same position.
type entry struct {
	start   int64
	samples []float32
	seq     uint64 // monotonic insertion order for FIFO tie-breaking
}

// end returns the first sample position after the buffer.
func (e entry) end() int64 { return e.start + int64(len(e.samples)) }

// bufferHeap implements [container/heap.Interface] as a min-heap ordered by
// start position (ascending), with FIFO tie-breaking on seq (ascending).
type bufferHeap []entry

func (h bufferHeap) Len() int { return len(h) }

// Less reports whether element i starts before element j.
// Equal positions fall back to insertion order.
func (h bufferHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h bufferHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *bufferHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *bufferHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
