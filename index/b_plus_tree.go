// Package index implements the primary key B+ tree. Nodes live in pages
// fetched through the buffer pool; nothing is cached between calls, so every
// operation decodes the nodes it touches and writes back the ones it changes.
package index

import (
	"fmt"

	"github.com/jobala/rdb/buffer"
	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
	"go.uber.org/zap"
)

const (
	DEFAULT_ORDER = 64
	MIN_ORDER     = 3
)

// Create allocates an empty root leaf.
func Create(bpm *buffer.BufferpoolManager, opts Options) (*BplusTree, error) {
	b, err := newTree(bpm, page.INVALID_PAGE_ID, opts)
	if err != nil {
		return nil, err
	}

	root, err := b.allocNode(true)
	if err == nil {
		err = b.writeNode(root)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating root: %w", err)
	}
	b.root = root.id

	return b, nil
}

// Open attaches to an existing tree rooted at root.
func Open(bpm *buffer.BufferpoolManager, root page.ID, opts Options) (*BplusTree, error) {
	b, err := newTree(bpm, root, opts)
	if err != nil {
		return nil, err
	}

	if _, err := b.readNode(root); err != nil {
		return nil, fmt.Errorf("error opening index at page %d: %w", root, err)
	}

	return b, nil
}

func newTree(bpm *buffer.BufferpoolManager, root page.ID, opts Options) (*BplusTree, error) {
	order := opts.Order
	if order == 0 {
		order = DEFAULT_ORDER
	}
	if order < MIN_ORDER || MaxKeyLen(order) < len(IntKey(0)) {
		return nil, fmt.Errorf("%w: btree order %d out of range", util.ErrInvalidValue, order)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BplusTree{
		bpm:       bpm,
		root:      root,
		order:     order,
		minKeys:   order / 2,
		maxKeyLen: MaxKeyLen(order),
		logger:    logger,
	}, nil
}

// Lookup returns the locator stored for key. The boolean is false when the
// key is absent.
func (b *BplusTree) Lookup(key []byte) (page.RecordId, bool, error) {
	leaf, _, err := b.findLeaf(key)
	if err != nil {
		return page.RecordId{}, false, err
	}

	i, found := leaf.search(key)
	if !found {
		return page.RecordId{}, false, nil
	}
	return leaf.locs[i], true, nil
}

// Insert adds key. An existing key is rejected with ErrDuplicateKey.
func (b *BplusTree) Insert(key []byte, loc page.RecordId) error {
	if err := b.checkKey(key); err != nil {
		return err
	}

	leaf, path, err := b.findLeaf(key)
	if err != nil {
		return err
	}

	i, found := leaf.search(key)
	if found {
		return util.NewStorageError("index insert", leaf.id, fmt.Errorf("%w: %s", util.ErrDuplicateKey, FormatKey(key)))
	}
	leaf.insertLeafAt(i, key, loc)

	if len(leaf.keys) <= b.order {
		return b.writeNode(leaf)
	}

	return b.splitLeaf(leaf, path)
}

// Update overwrites the locator of an existing key in place.
func (b *BplusTree) Update(key []byte, loc page.RecordId) error {
	leaf, _, err := b.findLeaf(key)
	if err != nil {
		return err
	}

	i, found := leaf.search(key)
	if !found {
		return util.NewStorageError("index update", leaf.id, fmt.Errorf("%w: %s", util.ErrKeyNotFound, FormatKey(key)))
	}

	leaf.locs[i] = loc
	return b.writeNode(leaf)
}

// Delete removes key, rebalancing underfull nodes on the way up. It reports
// whether the key was present.
func (b *BplusTree) Delete(key []byte) (bool, error) {
	leaf, path, err := b.findLeaf(key)
	if err != nil {
		return false, err
	}

	i, found := leaf.search(key)
	if !found {
		return false, nil
	}
	leaf.removeLeafAt(i)

	if err := b.writeNode(leaf); err != nil {
		return true, err
	}

	if len(path) == 0 || len(leaf.keys) >= b.minKeys {
		return true, nil
	}

	return true, b.rebalance(leaf, path)
}

func (b *BplusTree) Root() page.ID {
	return b.root
}

func (b *BplusTree) Order() int {
	return b.order
}

// Height is the number of levels, a lone root leaf being height 1.
func (b *BplusTree) Height() (int, error) {
	height := 1
	id := b.root

	for {
		n, err := b.readNode(id)
		if err != nil {
			return 0, err
		}
		if n.leaf {
			return height, nil
		}
		id = n.children[0]
		height++
	}
}

// Pages lists every node page, root first.
func (b *BplusTree) Pages() ([]page.ID, error) {
	res := []page.ID{}
	queue := []page.ID{b.root}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		n, err := b.readNode(id)
		if err != nil {
			return nil, err
		}

		res = append(res, id)
		if !n.leaf {
			queue = append(queue, n.children...)
		}
	}

	return res, nil
}

// Destroy frees every node page. The tree must not be used afterwards.
func (b *BplusTree) Destroy() error {
	ids, err := b.Pages()
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := b.bpm.FreePage(id); err != nil {
			return err
		}
	}

	b.root = page.INVALID_PAGE_ID
	return nil
}

func (b *BplusTree) findLeaf(key []byte) (*node, []pathEntry, error) {
	path := []pathEntry{}
	id := b.root

	for {
		n, err := b.readNode(id)
		if err != nil {
			return nil, nil, err
		}
		if n.leaf {
			return n, path, nil
		}

		idx := n.childIndex(key)
		path = append(path, pathEntry{node: n, childIdx: idx})
		id = n.children[idx]
	}
}

// splitLeaf moves the upper half of an overfull leaf into a new right
// sibling and promotes the sibling's first key.
func (b *BplusTree) splitLeaf(leaf *node, path []pathEntry) error {
	right, err := b.allocNode(true)
	if err != nil {
		return err
	}

	mid := len(leaf.keys) / 2
	right.keys = append(right.keys, leaf.keys[mid:]...)
	right.locs = append(right.locs, leaf.locs[mid:]...)
	leaf.keys = leaf.keys[:mid:mid]
	leaf.locs = leaf.locs[:mid:mid]

	right.next = leaf.next
	leaf.next = right.id

	if err := b.writeNode(right); err != nil {
		return err
	}
	if err := b.writeNode(leaf); err != nil {
		return err
	}

	b.logger.Debug("split leaf", zap.Uint32("page_id", leaf.id), zap.Uint32("new_page_id", right.id))
	return b.insertInParent(leaf.id, right.keys[0], right.id, path)
}

func (b *BplusTree) insertInParent(left page.ID, sep []byte, right page.ID, path []pathEntry) error {
	if len(path) == 0 {
		root, err := b.allocNode(false)
		if err != nil {
			return err
		}

		root.keys = [][]byte{sep}
		root.children = []page.ID{left, right}
		if err := b.writeNode(root); err != nil {
			return err
		}

		b.root = root.id
		b.logger.Debug("new root", zap.Uint32("page_id", root.id))
		return nil
	}

	entry := path[len(path)-1]
	parent := entry.node
	parent.insertChildAt(entry.childIdx, sep, right)

	if len(parent.keys) <= b.order {
		return b.writeNode(parent)
	}

	// the middle key moves up and is kept in neither half
	sibling, err := b.allocNode(false)
	if err != nil {
		return err
	}

	mid := len(parent.keys) / 2
	promoted := parent.keys[mid]
	sibling.keys = append(sibling.keys, parent.keys[mid+1:]...)
	sibling.children = append(sibling.children, parent.children[mid+1:]...)
	parent.keys = parent.keys[:mid:mid]
	parent.children = parent.children[: mid+1 : mid+1]

	if err := b.writeNode(sibling); err != nil {
		return err
	}
	if err := b.writeNode(parent); err != nil {
		return err
	}

	b.logger.Debug("split internal", zap.Uint32("page_id", parent.id), zap.Uint32("new_page_id", sibling.id))
	return b.insertInParent(parent.id, promoted, sibling.id, path[:len(path)-1])
}

// rebalance fixes an underfull non-root node by borrowing from a sibling
// that can spare an entry, or by merging with one that cannot.
func (b *BplusTree) rebalance(n *node, path []pathEntry) error {
	entry := path[len(path)-1]
	parent, idx := entry.node, entry.childIdx

	var left, right *node
	var err error

	if idx > 0 {
		if left, err = b.readNode(parent.children[idx-1]); err != nil {
			return err
		}
		if len(left.keys) > b.minKeys {
			return b.borrowFromLeft(n, left, parent, idx)
		}
	}

	if idx < len(parent.children)-1 {
		if right, err = b.readNode(parent.children[idx+1]); err != nil {
			return err
		}
		if len(right.keys) > b.minKeys {
			return b.borrowFromRight(n, right, parent, idx)
		}
	}

	if left != nil {
		err = b.merge(left, n, parent, idx-1)
	} else {
		err = b.merge(n, right, parent, idx)
	}
	if err != nil {
		return err
	}

	if len(path) == 1 {
		return b.collapseRoot(parent)
	}
	if len(parent.keys) >= b.minKeys {
		return nil
	}

	return b.rebalance(parent, path[:len(path)-1])
}

func (b *BplusTree) borrowFromLeft(n, left, parent *node, idx int) error {
	last := len(left.keys) - 1

	if n.leaf {
		n.insertLeafAt(0, left.keys[last], left.locs[last])
		left.removeLeafAt(last)
		parent.keys[idx-1] = n.keys[0]
	} else {
		n.keys = append([][]byte{parent.keys[idx-1]}, n.keys...)
		n.children = append([]page.ID{left.children[last+1]}, n.children...)
		parent.keys[idx-1] = left.keys[last]
		left.keys = left.keys[:last]
		left.children = left.children[:last+1]
	}

	return b.writeNodes(left, n, parent)
}

func (b *BplusTree) borrowFromRight(n, right, parent *node, idx int) error {
	if n.leaf {
		n.keys = append(n.keys, right.keys[0])
		n.locs = append(n.locs, right.locs[0])
		right.removeLeafAt(0)
		parent.keys[idx] = right.keys[0]
	} else {
		n.keys = append(n.keys, parent.keys[idx])
		n.children = append(n.children, right.children[0])
		parent.keys[idx] = right.keys[0]
		right.keys = right.keys[1:]
		right.children = right.children[1:]
	}

	return b.writeNodes(n, right, parent)
}

// merge folds right into left. sepIdx is the parent key between them.
func (b *BplusTree) merge(left, right, parent *node, sepIdx int) error {
	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.locs = append(left.locs, right.locs...)
		left.next = right.next
	} else {
		left.keys = append(left.keys, parent.keys[sepIdx])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}
	parent.removeChildAt(sepIdx)

	if err := b.writeNodes(left, parent); err != nil {
		return err
	}

	b.logger.Debug("merged nodes", zap.Uint32("page_id", left.id), zap.Uint32("freed_page_id", right.id))
	return b.bpm.FreePage(right.id)
}

// collapseRoot replaces an internal root left without keys by its only child.
func (b *BplusTree) collapseRoot(root *node) error {
	if len(root.keys) > 0 {
		return nil
	}

	b.root = root.children[0]
	b.logger.Debug("collapsed root", zap.Uint32("old_root", root.id), zap.Uint32("new_root", b.root))
	return b.bpm.FreePage(root.id)
}

func (b *BplusTree) checkKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty index key", util.ErrInvalidValue)
	}
	if len(key) > b.maxKeyLen {
		return fmt.Errorf("%w: %d bytes, limit is %d", util.ErrKeyTooLarge, len(key), b.maxKeyLen)
	}
	return nil
}

func (b *BplusTree) readNode(id page.ID) (*node, error) {
	guard, err := b.bpm.ReadPage(id)
	if err != nil {
		return nil, err
	}
	defer guard.Drop()

	return decodeNode(id, guard.GetData())
}

func (b *BplusTree) writeNode(n *node) error {
	guard, err := b.bpm.WritePage(n.id)
	if err != nil {
		return err
	}
	defer guard.Drop()

	return n.encode(guard.GetDataMut())
}

func (b *BplusTree) writeNodes(nodes ...*node) error {
	for _, n := range nodes {
		if err := b.writeNode(n); err != nil {
			return err
		}
	}
	return nil
}

// allocNode reserves a page for a node the caller fills in and writes.
func (b *BplusTree) allocNode(leaf bool) (*node, error) {
	guard, err := b.bpm.NewPage()
	if err != nil {
		return nil, err
	}
	defer guard.Drop()

	return &node{id: guard.PageId(), leaf: leaf}, nil
}

type pathEntry struct {
	node     *node
	childIdx int
}

type Options struct {
	// Order is the most keys a node holds before it splits.
	Order  int
	Logger *zap.Logger
}

type BplusTree struct {
	bpm       *buffer.BufferpoolManager
	root      page.ID
	order     int
	minKeys   int
	maxKeyLen int
	logger    *zap.Logger
}
