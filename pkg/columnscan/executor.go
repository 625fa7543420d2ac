// Package columnscan executes COLUMN_SCAN plans: it walks the columns of a
// column store index in RowID lock-step, evaluates pushed-down filters on
// per-path partial documents and rebuilds the projected output.
package columnscan

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
	"github.com/ajitpratap0/strata/pkg/query"
)

// Stage is the explain name of the plan stage.
const Stage = "COLUMN_SCAN"

// Anchor names.
const (
	AnchorID    = "_id"
	AnchorRowID = "$rowId"
)

// Options configures an Executor.
type Options struct {
	// Projection must be an inclusion projection.
	Projection *query.Projection
	Filter     *query.Filter
	Collator   collation.Collator
	// Range limits the scan; the zero value scans every row.
	Range columnar.RowRange
	// ExtraFieldsPermitted returns the assembled partial documents without
	// applying the projection. Callers that only read the projected paths
	// set it to skip the projection pass.
	ExtraFieldsPermitted bool
	Logger               *zap.Logger
}

// Stats holds execution counters.
type Stats struct {
	RowsScanned          int64         `json:"rowsScanned"`
	RowsFilteredByPath   int64         `json:"rowsFilteredByPath"`
	RowsFilteredResidual int64         `json:"rowsFilteredResidual"`
	RowsReturned         int64         `json:"rowsReturned"`
	CellsRead            int64         `json:"cellsRead"`
	Columns              int           `json:"columns"`
	Duration             time.Duration `json:"duration"`
}

type column struct {
	key    string
	path   path.Path
	cursor *columnar.Cursor
}

type pathFilter struct {
	filter  *query.PathFilter
	columns []*column
}

// Executor is a pull-based column scan. It is not safe for concurrent use.
type Executor struct {
	idx    *columnar.Index
	opts   Options
	split  *query.Split
	logger *zap.Logger

	anchor    *columnar.Cursor
	anchorKey string
	columns   map[string]*column
	filters   []*pathFilter
	output    []*column

	outputFields []path.Path
	matchFields  []path.Path

	asm   *columnar.Assembler
	doc   bson.D
	stats Stats
	start time.Time
	err   error
	done  bool
}

// New opens a column scan over idx.
func New(idx *columnar.Index, opts Options) (*Executor, error) {
	if idx == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "column scan needs an index")
	}
	if idx.Dropped() {
		return nil, errors.New(errors.ErrorTypeStorage, "column store index was dropped").
			WithDetail("index", idx.Name())
	}
	if !opts.Projection.IsInclusion() {
		return nil, errors.New(errors.ErrorTypeCapability, "column scan needs an inclusion projection")
	}
	if opts.Filter == nil {
		opts.Filter = query.MatchAll()
	}
	if opts.Range == (columnar.RowRange{}) {
		opts.Range = columnar.AllRows()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Executor{
		idx:     idx,
		opts:    opts,
		split:   opts.Filter.Split(),
		logger:  logger,
		columns: make(map[string]*column),
		asm:     columnar.NewAssembler(),
		start:   time.Now(),
	}
	e.outputFields = opts.Projection.Paths()

	idPath := path.Path{AnchorID}
	if opts.Projection.IncludesID() && idx.IsDense(idPath) {
		e.anchorKey = AnchorID
		e.anchor = idx.Scan(idPath, opts.Range)
	} else {
		e.anchorKey = AnchorRowID
		e.anchor = idx.ScanRowIDs(opts.Range)
	}

	for _, pf := range e.split.PerPath {
		e.filters = append(e.filters, &pathFilter{
			filter:  pf,
			columns: e.open(idx.Closure([]path.Path{pf.Path})),
		})
		e.matchFields = append(e.matchFields, pf.Path)
	}

	need := append([]path.Path(nil), e.outputFields...)
	if e.split.Residual != nil {
		rp, whole := e.split.ResidualPaths()
		if whole {
			// An empty path selects every column.
			need = append(need, path.Path{})
		} else {
			need = append(need, rp...)
			e.matchFields = append(e.matchFields, rp...)
		}
	}
	e.output = e.open(idx.Closure(need))
	e.stats.Columns = len(e.columns)

	logger.Debug("column scan opened",
		zap.String("index", idx.Name()),
		zap.String("anchor", e.anchorKey),
		zap.Int("columns", len(e.columns)),
		zap.Int("path_filters", len(e.filters)),
		zap.Bool("post_assembly_filter", e.split.Residual != nil))
	return e, nil
}

// open returns the cursors for keys, sharing one cursor per column across
// filters and output.
func (e *Executor) open(keys []string) []*column {
	out := make([]*column, 0, len(keys))
	for _, k := range keys {
		c, ok := e.columns[k]
		if !ok {
			c = &column{key: k, path: path.FromKey(k), cursor: e.idx.ScanKey(k, e.opts.Range)}
			e.columns[k] = c
		}
		out = append(out, c)
	}
	return out
}

// Next advances to the next matching row.
func (e *Executor) Next() bool {
	if e.done {
		return false
	}
	for e.anchor.Next() {
		id := e.anchor.Entry().RowID
		e.stats.RowsScanned++
		ok, err := e.row(id)
		if err != nil {
			e.fail(err)
			return false
		}
		if ok {
			e.stats.RowsReturned++
			return true
		}
	}
	if err := e.anchor.Err(); err != nil {
		e.fail(err)
		return false
	}
	e.finish()
	return false
}

func (e *Executor) row(id columnar.RowID) (bool, error) {
	for _, pf := range e.filters {
		partial, err := e.assemble(id, pf.columns)
		if err != nil {
			return false, err
		}
		if !pf.filter.Matches(partial, e.opts.Collator) {
			e.stats.RowsFilteredByPath++
			return false, nil
		}
	}

	partial, err := e.assemble(id, e.output)
	if err != nil {
		return false, err
	}
	if e.split.Residual != nil && !e.split.Residual.Matches(partial, e.opts.Collator) {
		e.stats.RowsFilteredResidual++
		return false, nil
	}
	if e.opts.ExtraFieldsPermitted {
		e.doc = partial
	} else {
		e.doc = e.opts.Projection.Apply(partial)
	}
	return true, nil
}

func (e *Executor) assemble(id columnar.RowID, cols []*column) (bson.D, error) {
	e.asm.Reset()
	for _, c := range cols {
		if !c.cursor.SkipTo(id) {
			if err := c.cursor.Err(); err != nil {
				return nil, err
			}
			continue
		}
		entry := c.cursor.Entry()
		if entry.RowID != id {
			continue
		}
		if err := e.asm.Add(c.path, entry.Cell); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "column scan failed to rebuild row").
				WithDetail("row_id", uint64(id))
		}
		e.stats.CellsRead++
	}
	return e.asm.Document(), nil
}

// Document returns the current row. Valid after Next returned true.
func (e *Executor) Document() bson.D { return e.doc }

// Err returns the error that stopped the scan.
func (e *Executor) Err() error { return e.err }

// Close stops the scan. It is safe to call more than once.
func (e *Executor) Close() error {
	if !e.done {
		e.finish()
	}
	return nil
}

// Stats returns the execution counters.
func (e *Executor) Stats() Stats { return e.stats }

func (e *Executor) fail(err error) {
	e.err = err
	e.logger.Warn("column scan aborted", zap.String("index", e.idx.Name()), zap.Error(err))
	e.finish()
}

func (e *Executor) finish() {
	e.done = true
	e.doc = nil
	e.stats.Duration = time.Since(e.start)
	e.logger.Debug("column scan finished",
		zap.String("index", e.idx.Name()),
		zap.Int64("rows_scanned", e.stats.RowsScanned),
		zap.Int64("rows_returned", e.stats.RowsReturned),
		zap.Int64("cells_read", e.stats.CellsRead),
		zap.Duration("duration", e.stats.Duration))
}

// Explain describes the plan.
func (e *Executor) Explain() bson.D {
	filters := bson.D{}
	for _, pf := range e.split.PerPath {
		filters = append(filters, bson.E{Key: pf.Path.String(), Value: pf.Render()})
	}
	var residual interface{} = bson.D{}
	if e.split.Residual != nil {
		residual = e.split.Residual.Render()
	}

	all := append(append([]path.Path(nil), e.outputFields...), e.matchFields...)
	return bson.D{
		{Key: "stage", Value: Stage},
		{Key: "index", Value: e.idx.Name()},
		{Key: "anchor", Value: e.anchorKey},
		{Key: "allFields", Value: fieldList(all)},
		{Key: "outputFields", Value: fieldList(e.outputFields)},
		{Key: "matchFields", Value: fieldList(e.matchFields)},
		{Key: "filtersByPath", Value: filters},
		{Key: "postAssemblyFilter", Value: residual},
		{Key: "extraFieldsPermitted", Value: e.opts.ExtraFieldsPermitted},
	}
}

// fieldList renders a sorted, de-duplicated list of dotted paths.
func fieldList(paths []path.Path) bson.A {
	seen := make(map[string]struct{}, len(paths))
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		s := p.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		names = append(names, s)
	}
	sort.Strings(names)
	out := make(bson.A, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
