package audio

import "sync"

// TrackQueue is a bounded-in-practice (caller-enforced) FIFO of
// pending tracks plus a single "current" slot. A track is in at most
// one of {pending, current}; once moved to current its pending slot is
// vacated. All operations are mutex-guarded and appear atomic.
type TrackQueue struct {
	mu      sync.Mutex
	pending []Track
	current *Track
}

// NewTrackQueue returns an empty queue.
func NewTrackQueue() *TrackQueue {
	return &TrackQueue{}
}

// Push appends a track to the pending list.
func (q *TrackQueue) Push(t Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, t)
}

// Pop removes and returns the front of the pending list, if any.
func (q *TrackQueue) Pop() (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Track{}, false
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t, true
}

// IsEmpty reports whether the pending list has no tracks.
func (q *TrackQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0
}

// Len returns the pending list's length.
func (q *TrackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Iter returns a point-in-time clone of the pending list, so callers
// displaying it never hold the lock.
func (q *TrackQueue) Iter() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Track, len(q.pending))
	copy(out, q.pending)
	return out
}

// SetCurrent assigns the current-track slot.
func (q *TrackQueue) SetCurrent(t Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := t
	q.current = &cp
}

// GetCurrent returns a copy of the current track, if any.
func (q *TrackQueue) GetCurrent() (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Track{}, false
	}
	return *q.current, true
}

// ClearCurrent empties the current-track slot.
func (q *TrackQueue) ClearCurrent() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = nil
}
