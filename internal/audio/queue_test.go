package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackQueue_FIFOOrder(t *testing.T) {
	q := NewTrackQueue()
	q.Push(Track{ID: "a"})
	q.Push(Track{ID: "b"})
	q.Push(Track{ID: "c"})

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", first.ID)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", second.ID)

	assert.Equal(t, 1, q.Len())
}

func TestTrackQueue_PopEmptyReturnsFalse(t *testing.T) {
	q := NewTrackQueue()
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
}

func TestTrackQueue_CurrentSlotDisjointFromPending(t *testing.T) {
	q := NewTrackQueue()
	q.Push(Track{ID: "a"})
	q.Push(Track{ID: "b"})

	track, ok := q.Pop()
	require.True(t, ok)
	q.SetCurrent(track)

	current, ok := q.GetCurrent()
	require.True(t, ok)
	assert.Equal(t, "a", current.ID)

	pending := q.Iter()
	for _, pt := range pending {
		assert.NotEqual(t, pt.ID, current.ID)
	}

	q.ClearCurrent()
	_, ok = q.GetCurrent()
	assert.False(t, ok)
}

func TestTrackQueue_IterReturnsSnapshotNotLiveView(t *testing.T) {
	q := NewTrackQueue()
	q.Push(Track{ID: "a"})

	snapshot := q.Iter()
	q.Push(Track{ID: "b"})

	assert.Len(t, snapshot, 1)
	assert.Equal(t, 2, q.Len())
}
