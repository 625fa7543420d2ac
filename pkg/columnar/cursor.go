package columnar

import (
	"github.com/ajitpratap0/strata/pkg/errors"
)

// Cursor iterates one column in ascending RowID order. It is lazy and
// forward-only; to restart, open a new cursor for a fresh range. Each call
// to Next takes the index's read lock and repositions by RowID, so writes
// between calls never invalidate the cursor.
type Cursor struct {
	idx   *Index
	col   *Column
	rng   RowRange
	next  RowID
	cur   Entry
	valid bool
	done  bool
	err   error
}

func newCursor(idx *Index, col *Column, rng RowRange) *Cursor {
	return &Cursor{idx: idx, col: col, rng: rng, next: rng.Start}
}

// Next advances to the next entry and reports whether there is one.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}

	c.idx.mu.RLock()
	defer c.idx.mu.RUnlock()

	if c.idx.dropped {
		c.fail(errors.New(errors.ErrorTypeStorage, "column store index was dropped during the scan").
			WithDetail("index", c.idx.name))
		return false
	}
	if c.col == nil {
		c.finish()
		return false
	}

	i := c.col.search(c.next)
	if i >= len(c.col.entries) || !c.rng.Contains(c.col.entries[i].RowID) {
		c.finish()
		return false
	}
	c.cur = c.col.entries[i]
	c.valid = true
	if c.cur.RowID == MaxRowID-1 {
		c.done = true
	} else {
		c.next = c.cur.RowID + 1
	}
	return true
}

// SkipTo advances until the current entry's RowID is at least id. It reports
// whether the cursor is positioned on an entry afterwards.
func (c *Cursor) SkipTo(id RowID) bool {
	for !c.valid || c.cur.RowID < id {
		if !c.Next() {
			return false
		}
	}
	return true
}

// Entry returns the current entry. Valid only after Next returned true.
func (c *Cursor) Entry() Entry { return c.cur }

// Valid reports whether the cursor is positioned on an entry.
func (c *Cursor) Valid() bool { return c.valid }

// Err returns the error that ended iteration, if any.
func (c *Cursor) Err() error { return c.err }

// Path returns the dotted path of the scanned column.
func (c *Cursor) Path() string {
	if c.col == nil || c.col.path == nil {
		return ""
	}
	return c.col.path.String()
}

func (c *Cursor) finish() {
	c.valid = false
	c.done = true
}

func (c *Cursor) fail(err error) {
	c.err = err
	c.finish()
}
