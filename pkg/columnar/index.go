package columnar

import (
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
)

// Index is a column store index over one collection.
type Index struct {
	name    string
	mu      sync.RWMutex
	columns map[string]*Column
	keys    []string // sorted keys of columns
	rowIDs  *Column
	dropped bool
	logger  *zap.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the index logger.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Index) {
		if l != nil {
			idx.logger = l
		}
	}
}

// NewIndex creates an empty index.
func NewIndex(name string, opts ...Option) *Index {
	idx := &Index{
		name:    name,
		columns: make(map[string]*Column),
		rowIDs:  newColumn(nil, path.RowIDKey),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = idx.logger.With(zap.String("index", name))
	return idx
}

// Name returns the index name.
func (idx *Index) Name() string { return idx.name }

// Put stores cell for (p, id), replacing any previous cell. A nil cell
// removes the entry.
func (idx *Index) Put(p path.Path, id RowID, cell *Cell) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return err
	}
	if cell == nil {
		idx.removeLocked(p.Key(), id)
		return nil
	}
	idx.putLocked(p, id, *cell)
	return nil
}

// Insert shreds doc and stores all of its cells under id.
func (idx *Index) Insert(id RowID, doc bson.D) error {
	ems, err := Shred(doc)
	if err != nil {
		return err
	}
	return idx.InsertShredded(id, ems)
}

// InsertShredded stores cells produced by Shred. Index builds shred
// documents concurrently and apply the results here.
func (idx *Index) InsertShredded(id RowID, ems []Emission) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return err
	}
	for _, em := range ems {
		idx.putLocked(em.Path, id, em.Cell)
	}
	idx.rowIDs.put(id, Cell{})
	return nil
}

// Remove deletes every cell of the row. doc, when known, limits the work to
// its paths.
func (idx *Index) Remove(id RowID, doc bson.D) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return err
	}
	if doc == nil {
		for _, k := range append([]string(nil), idx.keys...) {
			idx.removeLocked(k, id)
		}
	} else {
		for _, p := range Paths(doc) {
			idx.removeLocked(p.Key(), id)
		}
	}
	idx.rowIDs.remove(id)
	return nil
}

// Replace swaps the row's cells for those of newDoc.
func (idx *Index) Replace(id RowID, oldDoc, newDoc bson.D) error {
	ems, err := Shred(newDoc)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(ems))
	for _, em := range ems {
		keep[em.Path.Key()] = struct{}{}
	}
	var stale []string
	if oldDoc != nil {
		for _, p := range Paths(oldDoc) {
			stale = append(stale, p.Key())
		}
	} else {
		stale = append(stale, idx.keys...)
	}
	for _, k := range stale {
		if _, ok := keep[k]; !ok {
			idx.removeLocked(k, id)
		}
	}
	for _, em := range ems {
		idx.putLocked(em.Path, id, em.Cell)
	}
	idx.rowIDs.put(id, Cell{})
	return nil
}

func (idx *Index) putLocked(p path.Path, id RowID, cell Cell) {
	key := p.Key()
	col, ok := idx.columns[key]
	if !ok {
		col = newColumn(append(path.Path(nil), p...), key)
		idx.columns[key] = col
		i := sort.SearchStrings(idx.keys, key)
		idx.keys = append(idx.keys, "")
		copy(idx.keys[i+1:], idx.keys[i:])
		idx.keys[i] = key
	}
	col.put(id, cell)
}

func (idx *Index) removeLocked(key string, id RowID) {
	col, ok := idx.columns[key]
	if !ok || !col.remove(id) {
		return
	}
	if col.Len() == 0 {
		delete(idx.columns, key)
		i := sort.SearchStrings(idx.keys, key)
		if i < len(idx.keys) && idx.keys[i] == key {
			idx.keys = append(idx.keys[:i], idx.keys[i+1:]...)
		}
	}
}

func (idx *Index) checkLive() error {
	if idx.dropped {
		return errors.New(errors.ErrorTypeStorage, "column store index was dropped").
			WithDetail("index", idx.name)
	}
	return nil
}

// Scan opens a cursor over the column for p. A path with no column yields
// an empty cursor.
func (idx *Index) Scan(p path.Path, rng RowRange) *Cursor {
	return idx.ScanKey(p.Key(), rng)
}

// ScanKey opens a cursor over the column stored under key. path.RowIDKey
// selects the dense row-id column.
func (idx *Index) ScanKey(key string, rng RowRange) *Cursor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if key == path.RowIDKey {
		return newCursor(idx, idx.rowIDs, rng)
	}
	return newCursor(idx, idx.columns[key], rng)
}

// ScanRowIDs opens a cursor over the dense row-id column.
func (idx *Index) ScanRowIDs(rng RowRange) *Cursor {
	return idx.ScanKey(path.RowIDKey, rng)
}

// HasColumn reports whether any live row has a cell for p.
func (idx *Index) HasColumn(p path.Path) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.columns[p.Key()]
	return ok
}

// ColumnKeys returns the keys of all path columns in sorted order.
func (idx *Index) ColumnKeys() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]string(nil), idx.keys...)
}

// Paths returns the paths of all columns in key order.
func (idx *Index) Paths() []path.Path {
	keys := idx.ColumnKeys()
	out := make([]path.Path, len(keys))
	for i, k := range keys {
		out[i] = path.FromKey(k)
	}
	return out
}

// Descendants returns the paths of every column strictly below p.
func (idx *Index) Descendants(p path.Path) []path.Path {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.descendantsLocked(p)
}

func (idx *Index) descendantsLocked(p path.Path) []path.Path {
	prefix := p.DescendantKeyPrefix()
	var out []path.Path
	for i := sort.SearchStrings(idx.keys, prefix); i < len(idx.keys) && strings.HasPrefix(idx.keys[i], prefix); i++ {
		out = append(out, idx.columns[idx.keys[i]].path)
	}
	return out
}

// Closure returns the keys of the existing columns needed to rebuild the
// values at paths: each path, its proper prefixes and its descendants.
func (idx *Index) Closure(paths []path.Path) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	set := make(map[string]struct{})
	add := func(p path.Path) {
		k := p.Key()
		if _, ok := idx.columns[k]; ok {
			set[k] = struct{}{}
		}
	}
	for _, p := range paths {
		if len(p) == 0 {
			for _, k := range idx.keys {
				set[k] = struct{}{}
			}
			continue
		}
		for _, a := range p.Ancestors() {
			add(a)
		}
		add(p)
		for _, d := range idx.descendantsLocked(p) {
			set[d.Key()] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RowCount returns the number of live rows.
func (idx *Index) RowCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.rowIDs.Len()
}

// ColumnLen returns the number of cells stored for p.
func (idx *Index) ColumnLen(p path.Path) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if col, ok := idx.columns[p.Key()]; ok {
		return col.Len()
	}
	return 0
}

// IsDense reports whether every live row has a cell for p.
func (idx *Index) IsDense(p path.Path) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	col, ok := idx.columns[p.Key()]
	return ok && col.Len() == idx.rowIDs.Len()
}

// Contains reports whether id is a live row.
func (idx *Index) Contains(id RowID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.rowIDs.get(id)
	return ok
}

// Document rebuilds the full stored document for id from every column.
func (idx *Index) Document(id RowID) (bson.D, bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkLive(); err != nil {
		return nil, false, err
	}
	if _, ok := idx.rowIDs.get(id); !ok {
		return nil, false, nil
	}
	asm := NewAssembler()
	for _, k := range idx.keys {
		col := idx.columns[k]
		cell, ok := col.get(id)
		if !ok {
			continue
		}
		if err := asm.Add(col.path, cell); err != nil {
			return nil, true, err
		}
	}
	return asm.Document(), true, nil
}

// Drop discards all data. Open cursors fail on their next call.
func (idx *Index) Drop() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.dropped = true
	idx.columns = make(map[string]*Column)
	idx.keys = nil
	idx.rowIDs = newColumn(nil, path.RowIDKey)
	idx.logger.Info("column store index dropped")
}

// Dropped reports whether Drop was called.
func (idx *Index) Dropped() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dropped
}

// ColumnStats describes one column.
type ColumnStats struct {
	Path        string `json:"path"`
	Cells       int    `json:"cells"`
	MemoryBytes int64  `json:"memoryBytes"`
	Dense       bool   `json:"dense"`
}

// Stats describes the whole index.
type Stats struct {
	Name        string        `json:"name"`
	Rows        int           `json:"rows"`
	Columns     int           `json:"columns"`
	Cells       int           `json:"cells"`
	MemoryBytes int64         `json:"memoryBytes"`
	PerColumn   []ColumnStats `json:"perColumn,omitempty"`
}

// Stats summarizes the index. perColumn adds one entry per column.
func (idx *Index) Stats(perColumn bool) Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := Stats{
		Name:        idx.name,
		Rows:        idx.rowIDs.Len(),
		Columns:     len(idx.keys),
		MemoryBytes: 64 + idx.rowIDs.MemoryUsage(),
	}
	for _, k := range idx.keys {
		col := idx.columns[k]
		s.Cells += col.Len()
		s.MemoryBytes += col.MemoryUsage()
		if perColumn {
			s.PerColumn = append(s.PerColumn, ColumnStats{
				Path:        col.path.String(),
				Cells:       col.Len(),
				MemoryBytes: col.MemoryUsage(),
				Dense:       col.Len() == s.Rows,
			})
		}
	}
	return s
}
