package playback

import "github.com/satriahrh/concierge-voice/internal/audio"

// Queue is a bounded FIFO of decoded chunks. When full, pushing evicts the
// oldest entry so playback never falls further behind the live stream.
type Queue struct {
	items []audio.Chunk
	depth int
}

// NewQueue creates a queue holding at most depth chunks
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 1
	}
	return &Queue{items: make([]audio.Chunk, 0, depth), depth: depth}
}

// Push appends a chunk and reports whether the oldest one was evicted
func (q *Queue) Push(chunk audio.Chunk) bool {
	evicted := false
	if len(q.items) >= q.depth {
		q.items[0] = audio.Chunk{}
		q.items = q.items[1:]
		evicted = true
	}
	q.items = append(q.items, chunk)
	return evicted
}

// Pop removes and returns the oldest chunk
func (q *Queue) Pop() (audio.Chunk, bool) {
	if len(q.items) == 0 {
		return audio.Chunk{}, false
	}
	chunk := q.items[0]
	q.items[0] = audio.Chunk{}
	q.items = q.items[1:]
	return chunk, true
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Clear discards every queued chunk and returns how many were dropped
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = make([]audio.Chunk, 0, q.depth)
	return n
}
