package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLrukReplacer(t *testing.T) {
	t.Run("accessing a frame moves it to the front of the queue", func(t *testing.T) {
		replacer := NewLrukReplacer(5, 5)

		replacer.recordAccess(1)
		replacer.recordAccess(2)
		replacer.recordAccess(3)
		assert.Equal(t, []int{3, 2, 1}, lruToArr(replacer))

		replacer.recordAccess(1)
		assert.Equal(t, []int{1, 3, 2}, lruToArr(replacer))
	})

	t.Run("history keeps the last k timestamps", func(t *testing.T) {
		replacer := NewLrukReplacer(5, 3)

		for range 4 {
			replacer.recordAccess(1)
		}
		assert.Equal(t, []int{2, 3, 4}, replacer.nodeStore[1].history)
	})

	t.Run("size counts evictable frames", func(t *testing.T) {
		replacer := NewLrukReplacer(5, 2)

		replacer.recordAccess(1)
		replacer.recordAccess(2)
		assert.Equal(t, 0, replacer.size())

		replacer.setEvictable(1, true)
		replacer.setEvictable(1, true)
		assert.Equal(t, 1, replacer.size())

		replacer.setEvictable(1, false)
		assert.Equal(t, 0, replacer.size())

		// unknown frames are ignored
		replacer.setEvictable(9, true)
		assert.Equal(t, 0, replacer.size())
	})

	t.Run("only evictable frames are removed", func(t *testing.T) {
		replacer := NewLrukReplacer(5, 5)

		replacer.recordAccess(1)
		replacer.recordAccess(2)
		replacer.recordAccess(3)
		replacer.setEvictable(2, true)

		assert.Error(t, replacer.remove(1))
		assert.NoError(t, replacer.remove(2))
		assert.NoError(t, replacer.remove(7))

		assert.Equal(t, []int{3, 1}, lruToArr(replacer))
		assert.Equal(t, 0, replacer.size())
	})
}

func TestEviction(t *testing.T) {
	t.Run("only evicts evictable frames", func(t *testing.T) {
		replacer := NewLrukReplacer(5, 5)

		replacer.recordAccess(2)
		replacer.recordAccess(3)
		replacer.recordAccess(1)

		evicted, ok := replacer.evict()
		assert.False(t, ok)
		assert.Equal(t, INVALID_FRAME_ID, evicted)
	})

	t.Run("k of one is plain lru", func(t *testing.T) {
		replacer := NewLrukReplacer(5, 1)

		for _, id := range []int{1, 2, 3, 1, 2} {
			replacer.recordAccess(id)
			replacer.setEvictable(id, true)
		}

		evicted, ok := replacer.evict()
		assert.True(t, ok)
		assert.Equal(t, 3, evicted)

		evicted, _ = replacer.evict()
		assert.Equal(t, 1, evicted)
		assert.Equal(t, 1, replacer.size())
	})

	t.Run("prefers to evict frame with < k accesses", func(t *testing.T) {
		replacer := NewLrukReplacer(5, 2)

		replacer.recordAccess(2)

		replacer.recordAccess(3)
		replacer.recordAccess(3)

		replacer.recordAccess(1)
		replacer.recordAccess(1)

		replacer.setEvictable(1, true)
		replacer.setEvictable(2, true)
		replacer.setEvictable(3, true)

		evicted, ok := replacer.evict()
		assert.True(t, ok)
		assert.Equal(t, 2, evicted)
	})

	t.Run("prefers to evict oldest frame if all have < k accesses", func(t *testing.T) {
		replacer := NewLrukReplacer(5, 2)

		replacer.recordAccess(2)
		replacer.recordAccess(3)
		replacer.recordAccess(1)

		replacer.setEvictable(1, true)
		replacer.setEvictable(2, true)
		replacer.setEvictable(3, true)
		assert.Equal(t, 3, replacer.size())

		evicted, ok := replacer.evict()
		assert.True(t, ok)
		assert.Equal(t, 2, evicted)
		assert.Equal(t, 2, replacer.size())
	})

	t.Run("prefers to evict oldest kth access if all have k accesses", func(t *testing.T) {
		replacer := NewLrukReplacer(5, 2)

		for _, id := range []int{3, 3, 2, 2, 1, 1, 3} {
			replacer.recordAccess(id)
		}

		replacer.setEvictable(1, true)
		replacer.setEvictable(2, true)
		replacer.setEvictable(3, true)

		// 3 is the most recently used frame but its second to last access
		// is the oldest
		evicted, ok := replacer.evict()
		assert.True(t, ok)
		assert.Equal(t, 3, evicted)
	})
}

func lruToArr(lru *lrukReplacer) []int {
	res := []int{}

	for node := lru.head.next; node != lru.tail; node = node.next {
		res = append(res, node.frameId)
	}

	return res
}
