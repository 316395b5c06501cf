package buffer

import (
	"fmt"
	"math"
	"sync"
)

const INVALID_FRAME_ID = -1

// NewLrukReplacer tracks up to capacity frames. With k = 1 it degrades to
// plain LRU.
func NewLrukReplacer(capacity, k int) *lrukReplacer {
	if k < 1 {
		k = 1
	}

	head := &lrukNode{frameId: INVALID_FRAME_ID}
	tail := &lrukNode{frameId: INVALID_FRAME_ID}

	head.next = tail
	tail.prev = head

	return &lrukReplacer{
		k:            k,
		nodeStore:    make(map[int]*lrukNode, capacity),
		head:         head,
		tail:         tail,
		replacerSize: capacity,
	}
}

// recordAccess stamps frameId with the current logical time and moves it to
// the most recently used end of the list.
func (lru *lrukReplacer) recordAccess(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	lru.currTimestamp++

	node, ok := lru.nodeStore[frameId]
	if !ok {
		node = &lrukNode{frameId: frameId, history: make([]int, 0, lru.k)}
		lru.nodeStore[frameId] = node
	} else {
		lru.unlink(node)
	}

	node.touch(lru.currTimestamp, lru.k)
	lru.pushFront(node)
}

func (lru *lrukReplacer) setEvictable(frameId int, evictable bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok || node.isEvictable == evictable {
		return
	}

	node.isEvictable = evictable
	if evictable {
		lru.currSize++
	} else {
		lru.currSize--
	}
}

// evict picks the evictable frame with the largest backward k-distance.
// Frames with fewer than k accesses have an infinite distance and go first,
// oldest access breaking ties.
func (lru *lrukReplacer) evict() (int, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	var victim *lrukNode
	victimInf, victimTs := false, math.MaxInt

	// walk from least recently used so equal timestamps favour the colder frame
	for node := lru.tail.prev; node != lru.head; node = node.prev {
		if !node.isEvictable {
			continue
		}

		inf := len(node.history) < lru.k
		ts := node.history[0]

		switch {
		case victim == nil,
			inf && !victimInf,
			inf == victimInf && ts < victimTs:
			victim, victimInf, victimTs = node, inf, ts
		}
	}

	if victim == nil {
		return INVALID_FRAME_ID, false
	}

	lru.unlink(victim)
	delete(lru.nodeStore, victim.frameId)
	lru.currSize--

	return victim.frameId, true
}

// remove drops frameId's history entirely, used when its page is discarded.
func (lru *lrukReplacer) remove(frameId int) error {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		return nil
	}

	if !node.isEvictable {
		return fmt.Errorf("removing pinned frame %d", frameId)
	}

	lru.unlink(node)
	delete(lru.nodeStore, frameId)
	lru.currSize--

	return nil
}

// size is the number of evictable frames.
func (lru *lrukReplacer) size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.currSize
}

func (lru *lrukReplacer) unlink(node *lrukNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
	node.prev, node.next = nil, nil
}

func (lru *lrukReplacer) pushFront(node *lrukNode) {
	node.next = lru.head.next
	node.prev = lru.head
	lru.head.next.prev = node
	lru.head.next = node
}

// touch keeps the last k access timestamps, oldest first.
func (n *lrukNode) touch(timestamp, k int) {
	if len(n.history) == k {
		copy(n.history, n.history[1:])
		n.history[k-1] = timestamp
		return
	}
	n.history = append(n.history, timestamp)
}

type lrukNode struct {
	prev        *lrukNode
	next        *lrukNode
	frameId     int
	history     []int
	isEvictable bool
}

type lrukReplacer struct {
	mu            sync.Mutex
	nodeStore     map[int]*lrukNode
	replacerSize  int
	currSize      int
	currTimestamp int
	k             int
	head          *lrukNode
	tail          *lrukNode
}
