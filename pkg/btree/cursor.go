package btree

import (
	"github.com/cuemby/gridcore/pkg/pagestore"
	"github.com/cuemby/gridcore/pkg/pageid"
)

// Row is one (key, link) pair yielded by a Cursor.
type Row struct {
	Key  []byte
	Link pageid.Link
}

// Cursor iterates leaf entries in key order within [lower, upper]
// (either bound nil means unbounded), following leaf sibling pointers --
// the standard B+Tree range-scan technique, avoiding repeated descents
// from the root for each successive key.
type Cursor struct {
	tree  *Tree
	upper []byte

	entries []leafEntry
	idx     int
	next    pageid.PageId
	done    bool
}

// FindAll opens a cursor positioned at the first entry >= lower.
func (t *Tree) FindAll(lower, upper []byte) (*Cursor, error) {
	if lower != nil {
		lower = t.truncate(lower)
	}
	if upper != nil {
		upper = t.truncate(upper)
	}

	pid := t.rootPageId
	if lower != nil {
		pid = t.leafFor(lower)
	} else {
		pid = t.leftmostLeaf(t.rootPageId)
	}

	c := &Cursor{tree: t, upper: upper}
	if err := c.loadLeaf(pid); err != nil {
		return nil, err
	}
	if lower != nil {
		for c.idx < len(c.entries) && t.cmp(c.entries[c.idx].key, lower) < 0 {
			c.idx++
		}
	}
	return c, nil
}

func (t *Tree) leftmostLeaf(pid pageid.PageId) pageid.PageId {
	for {
		buf := make([]byte, t.store.PageSize())
		if err := t.store.Read(pid, buf, false); err != nil {
			return pid
		}
		pageType, _, _ := pagestore.ReadHeader(buf)
		if pageType == pagestore.PageTypeBTreeLeaf {
			return pid
		}
		leftmost, _, err := decodeInnerPage(buf)
		if err != nil {
			return pid
		}
		pid = leftmost
	}
}

func (c *Cursor) loadLeaf(pid pageid.PageId) error {
	buf := make([]byte, c.tree.store.PageSize())
	if err := c.tree.store.Read(pid, buf, false); err != nil {
		return err
	}
	next, entries, err := decodeLeafPage(buf)
	if err != nil {
		return err
	}
	c.entries = entries
	c.idx = 0
	c.next = next
	return nil
}

// Next advances the cursor and reports whether a row was produced.
func (c *Cursor) Next() (Row, bool, error) {
	if c.done {
		return Row{}, false, nil
	}
	for {
		if c.idx < len(c.entries) {
			e := c.entries[c.idx]
			if c.upper != nil && c.tree.cmp(e.key, c.upper) > 0 {
				c.done = true
				return Row{}, false, nil
			}
			c.idx++
			return Row{Key: e.key, Link: e.link}, true, nil
		}
		if c.next == 0 {
			c.done = true
			return Row{}, false, nil
		}
		if err := c.loadLeaf(c.next); err != nil {
			return Row{}, false, err
		}
	}
}
