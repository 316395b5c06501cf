package index

import (
	"bytes"
	"encoding/binary"
	"slices"
	"sort"

	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
)

// Node bodies start at page.BODY_OFFSET. num_slots holds the key count and
// next_page links leaves left to right.
//
//	leaf:     n x {key_len u16, key, page_id u32, slot u16}
//	internal: child0 u32, then n x {key_len u16, key, child u32}
const (
	leafEntryOverhead     = 2 + 4 + 2
	internalEntryOverhead = 2 + 4
	childSize             = 4
)

// MaxKeyLen is the longest key for which order entries still fit in a node.
func MaxKeyLen(order int) int {
	return (page.PAGE_SIZE-page.BODY_OFFSET-childSize)/order - leafEntryOverhead
}

func decodeNode(id page.ID, data []byte) (*node, error) {
	n := &node{id: id}

	switch page.TypeOf(data) {
	case page.TypeLeaf:
		n.leaf = true
	case page.TypeInternal:
	default:
		return nil, util.Corrupt("decode node", id, "page type %s is not a tree node", page.TypeOf(data))
	}

	header := page.ReadHeader(data)
	n.next = header.NextPage
	count := int(header.NumSlots)

	r := nodeReader{id: id, data: data, pos: page.BODY_OFFSET}
	n.keys = make([][]byte, 0, count)

	if n.leaf {
		n.locs = make([]page.RecordId, 0, count)
		for range count {
			key := r.key()
			loc := page.RecordId{PageId: r.u32(), Slot: r.u16()}
			if r.err != nil {
				return nil, r.err
			}
			n.keys = append(n.keys, key)
			n.locs = append(n.locs, loc)
		}
		return n, nil
	}

	n.children = make([]page.ID, 0, count+1)
	n.children = append(n.children, r.u32())
	for range count {
		key := r.key()
		child := r.u32()
		if r.err != nil {
			return nil, r.err
		}
		n.keys = append(n.keys, key)
		n.children = append(n.children, child)
	}

	return n, r.err
}

func (n *node) encode(data []byte) error {
	if n.encodedSize() > page.PAGE_SIZE {
		return util.NewStorageError("encode node", n.id, util.ErrKeyTooLarge)
	}
	if !n.leaf && len(n.children) != len(n.keys)+1 {
		return util.Corrupt("encode node", n.id, "%d keys with %d children", len(n.keys), len(n.children))
	}

	if n.leaf {
		page.Format(data, page.TypeLeaf)
	} else {
		page.Format(data, page.TypeInternal)
	}

	pos := page.BODY_OFFSET
	putKey := func(key []byte) {
		binary.LittleEndian.PutUint16(data[pos:], uint16(len(key)))
		pos += 2
		pos += copy(data[pos:], key)
	}

	if n.leaf {
		for i, key := range n.keys {
			putKey(key)
			binary.LittleEndian.PutUint32(data[pos:], n.locs[i].PageId)
			binary.LittleEndian.PutUint16(data[pos+4:], n.locs[i].Slot)
			pos += 6
		}
	} else {
		binary.LittleEndian.PutUint32(data[pos:], n.children[0])
		pos += childSize
		for i, key := range n.keys {
			putKey(key)
			binary.LittleEndian.PutUint32(data[pos:], n.children[i+1])
			pos += childSize
		}
	}

	page.WriteHeader(data, page.Header{
		NumSlots:     uint16(len(n.keys)),
		FreeSpaceEnd: uint16(pos),
		NextPage:     n.next,
	})
	return nil
}

func (n *node) encodedSize() int {
	size := page.BODY_OFFSET
	if !n.leaf {
		size += childSize
	}
	for _, key := range n.keys {
		if n.leaf {
			size += len(key) + leafEntryOverhead
		} else {
			size += len(key) + internalEntryOverhead
		}
	}
	return size
}

// search returns the position of key and whether it is present.
func (n *node) search(key []byte) (int, bool) {
	return slices.BinarySearchFunc(n.keys, key, bytes.Compare)
}

// childIndex picks the subtree whose separator range holds key. Separator i
// is the smallest key reachable through children[i+1].
func (n *node) childIndex(key []byte) int {
	return sort.Search(len(n.keys), func(i int) bool {
		return bytes.Compare(n.keys[i], key) > 0
	})
}

func (n *node) insertLeafAt(i int, key []byte, loc page.RecordId) {
	n.keys = slices.Insert(n.keys, i, key)
	n.locs = slices.Insert(n.locs, i, loc)
}

func (n *node) removeLeafAt(i int) {
	n.keys = slices.Delete(n.keys, i, i+1)
	n.locs = slices.Delete(n.locs, i, i+1)
}

// insertChildAt places sep at key position i and child to its right.
func (n *node) insertChildAt(i int, sep []byte, child page.ID) {
	n.keys = slices.Insert(n.keys, i, sep)
	n.children = slices.Insert(n.children, i+1, child)
}

// removeChildAt drops key i and the child to its right.
func (n *node) removeChildAt(i int) {
	n.keys = slices.Delete(n.keys, i, i+1)
	n.children = slices.Delete(n.children, i+1, i+2)
}

type nodeReader struct {
	id   page.ID
	data []byte
	pos  int
	err  error
}

func (r *nodeReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.err = util.Corrupt("decode node", r.id, "entry at offset %d runs past end of page", r.pos)
		return false
	}
	return true
}

func (r *nodeReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *nodeReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *nodeReader) key() []byte {
	n := int(r.u16())
	if !r.need(n) {
		return nil
	}
	key := bytes.Clone(r.data[r.pos : r.pos+n])
	r.pos += n
	return key
}

type node struct {
	id       page.ID
	leaf     bool
	keys     [][]byte
	locs     []page.RecordId
	children []page.ID
	next     page.ID
}
