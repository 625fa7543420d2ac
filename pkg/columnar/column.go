package columnar

import (
	"math"
	"sort"

	"github.com/ajitpratap0/strata/pkg/path"
)

// RowID is the stable surrogate a collection assigns to each document.
type RowID uint64

// MaxRowID is an exclusive upper bound beyond every real RowID.
const MaxRowID RowID = math.MaxUint64

// RowRange is the half-open interval [Start, End).
type RowRange struct {
	Start RowID
	End   RowID
}

// AllRows covers every RowID.
func AllRows() RowRange {
	return RowRange{Start: 0, End: MaxRowID}
}

// Contains reports whether id falls inside r.
func (r RowRange) Contains(id RowID) bool {
	return id >= r.Start && id < r.End
}

// Entry is one row of a column.
type Entry struct {
	RowID RowID
	Cell  Cell
}

// Column holds the cells of one path ordered by RowID.
type Column struct {
	path    path.Path
	key     string
	entries []Entry
	bytes   int64
}

func newColumn(p path.Path, key string) *Column {
	return &Column{path: p, key: key}
}

// Path returns the column's path. The row-id column has a nil path.
func (c *Column) Path() path.Path { return c.path }

// Key returns the column's storage key.
func (c *Column) Key() string { return c.key }

// Len returns the number of rows with a cell.
func (c *Column) Len() int { return len(c.entries) }

// MemoryUsage estimates the bytes retained by the column.
func (c *Column) MemoryUsage() int64 {
	return 64 + int64(len(c.key)) + c.bytes + int64(len(c.entries))*8
}

// search returns the index of the first entry with RowID >= id.
func (c *Column) search(id RowID) int {
	return sort.Search(len(c.entries), func(i int) bool { return c.entries[i].RowID >= id })
}

func (c *Column) get(id RowID) (Cell, bool) {
	i := c.search(id)
	if i < len(c.entries) && c.entries[i].RowID == id {
		return c.entries[i].Cell, true
	}
	return Cell{}, false
}

// put stores cell for id, replacing any previous cell.
func (c *Column) put(id RowID, cell Cell) {
	i := c.search(id)
	if i < len(c.entries) && c.entries[i].RowID == id {
		c.bytes += cell.MemoryUsage() - c.entries[i].Cell.MemoryUsage()
		c.entries[i].Cell = cell
		return
	}
	c.bytes += cell.MemoryUsage()
	if i == len(c.entries) {
		c.entries = append(c.entries, Entry{RowID: id, Cell: cell})
		return
	}
	c.entries = append(c.entries, Entry{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = Entry{RowID: id, Cell: cell}
}

func (c *Column) remove(id RowID) bool {
	i := c.search(id)
	if i >= len(c.entries) || c.entries[i].RowID != id {
		return false
	}
	c.bytes -= c.entries[i].Cell.MemoryUsage()
	copy(c.entries[i:], c.entries[i+1:])
	c.entries[len(c.entries)-1] = Entry{}
	c.entries = c.entries[:len(c.entries)-1]
	return true
}
