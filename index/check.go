package index

import (
	"bytes"
	"fmt"

	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
)

// Check walks the whole tree and verifies key order, separator bounds, node
// occupancy, uniform leaf depth and the leaf chain.
func (b *BplusTree) Check() error {
	c := &checker{tree: b, leafDepth: -1}
	if err := c.visit(b.root, nil, nil, 0); err != nil {
		return err
	}

	for i, leaf := range c.leaves {
		want := page.INVALID_PAGE_ID
		if i+1 < len(c.leaves) {
			want = c.leaves[i+1].id
		}
		if leaf.next != want {
			return util.Corrupt("check", leaf.id, "leaf links to %d, expected %d", leaf.next, want)
		}
	}

	return nil
}

func (c *checker) visit(id page.ID, lo, hi []byte, depth int) error {
	n, err := c.tree.readNode(id)
	if err != nil {
		return err
	}

	isRoot := id == c.tree.root
	if len(n.keys) > c.tree.order {
		return util.Corrupt("check", id, "%d keys exceeds order %d", len(n.keys), c.tree.order)
	}
	if !isRoot && len(n.keys) < c.tree.minKeys {
		return util.Corrupt("check", id, "%d keys below minimum %d", len(n.keys), c.tree.minKeys)
	}
	if isRoot && !n.leaf && len(n.keys) == 0 {
		return util.Corrupt("check", id, "internal root without keys")
	}

	for i, key := range n.keys {
		if i > 0 && bytes.Compare(n.keys[i-1], key) >= 0 {
			return util.Corrupt("check", id, "keys out of order at %d", i)
		}
		if lo != nil && bytes.Compare(key, lo) < 0 {
			return util.Corrupt("check", id, "key %s below lower bound %s", FormatKey(key), FormatKey(lo))
		}
		if hi != nil && bytes.Compare(key, hi) >= 0 {
			return util.Corrupt("check", id, "key %s not below upper bound %s", FormatKey(key), FormatKey(hi))
		}
	}

	if n.leaf {
		if c.leafDepth == -1 {
			c.leafDepth = depth
		} else if c.leafDepth != depth {
			return util.Corrupt("check", id, "leaf at depth %d, others at %d", depth, c.leafDepth)
		}
		c.leaves = append(c.leaves, n)
		return nil
	}

	if len(n.children) != len(n.keys)+1 {
		return fmt.Errorf("node %d has %d keys and %d children", id, len(n.keys), len(n.children))
	}

	for i, child := range n.children {
		childLo, childHi := lo, hi
		if i > 0 {
			childLo = n.keys[i-1]
		}
		if i < len(n.keys) {
			childHi = n.keys[i]
		}
		if err := c.visit(child, childLo, childHi, depth+1); err != nil {
			return err
		}
	}

	return nil
}

type checker struct {
	tree      *BplusTree
	leafDepth int
	leaves    []*node
}
