package index

import (
	"bytes"
	"sort"

	"github.com/jobala/rdb/storage/page"
)

// RangeScan iterates keys in [lo, hi] in ascending order. A nil bound is
// open. The iterator only remembers the last leaf and key it returned and
// re-reads the leaf on every step, so it survives pages being evicted
// between calls.
func (b *BplusTree) RangeScan(lo, hi []byte) *Iterator {
	return &Iterator{
		tree: b,
		lo:   lo,
		hi:   hi,
	}
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}

	leaf, err := it.currentLeaf()
	if err != nil {
		return it.fail(err)
	}

	pos := it.position(leaf)
	for pos >= len(leaf.keys) {
		if leaf.next == page.INVALID_PAGE_ID {
			it.done = true
			return false
		}

		if leaf, err = it.tree.readNode(leaf.next); err != nil {
			return it.fail(err)
		}
		pos = it.position(leaf)
	}

	key := leaf.keys[pos]
	if it.hi != nil && bytes.Compare(key, it.hi) > 0 {
		it.done = true
		return false
	}

	it.entry = Entry{Key: key, Locator: leaf.locs[pos]}
	it.pageId = leaf.id
	it.lastKey = key
	it.started = true
	return true
}

func (it *Iterator) Entry() Entry {
	return it.entry
}

func (it *Iterator) Err() error {
	return it.err
}

// Collect drains the iterator.
func (it *Iterator) Collect() ([]Entry, error) {
	res := []Entry{}
	for it.Next() {
		res = append(res, it.Entry())
	}
	return res, it.Err()
}

// currentLeaf re-reads the leaf the last entry came from, seeking from the
// root when there is none yet or the page is no longer a leaf.
func (it *Iterator) currentLeaf() (*node, error) {
	if it.started {
		if leaf, err := it.tree.readNode(it.pageId); err == nil && leaf.leaf {
			return leaf, nil
		}
	}

	seek := it.lo
	if it.started {
		seek = it.lastKey
	}
	if seek == nil {
		seek = []byte{}
	}

	leaf, _, err := it.tree.findLeaf(seek)
	return leaf, err
}

// position is the index of the first key that has not been returned yet.
func (it *Iterator) position(leaf *node) int {
	if it.started {
		return sort.Search(len(leaf.keys), func(i int) bool {
			return bytes.Compare(leaf.keys[i], it.lastKey) > 0
		})
	}
	if it.lo == nil {
		return 0
	}

	pos, _ := leaf.search(it.lo)
	return pos
}

func (it *Iterator) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}

// Len counts every key with a full scan.
func (b *BplusTree) Len() (int, error) {
	it := b.RangeScan(nil, nil)

	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}

type Entry struct {
	Key     []byte
	Locator page.RecordId
}

type Iterator struct {
	tree    *BplusTree
	lo, hi  []byte
	pageId  page.ID
	lastKey []byte
	started bool
	done    bool
	entry   Entry
	err     error
}
