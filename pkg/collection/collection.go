// Package collection is an in-memory document collection with an optional
// column store index. Reads are planned per query: a column scan over the
// index when the query touches few enough fields, otherwise a row scan.
package collection

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/planner"
	"github.com/ajitpratap0/strata/pkg/query"
)

// IndexName is the name of the column store index.
const IndexName = "$**_columnstore"

const idField = "_id"

// Options configures a Collection.
type Options struct {
	Planner planner.Options
	// BuildWorkers bounds the goroutines shredding documents in CreateIndex.
	BuildWorkers int
	Logger       *zap.Logger
}

// Collection stores documents by RowID. It is safe for concurrent use.
type Collection struct {
	name    string
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Collector

	mu     sync.RWMutex
	ids    []columnar.RowID // ascending
	docs   map[columnar.RowID]bson.D
	keys   map[string]columnar.RowID // _id hash key to row
	nextID columnar.RowID
	index  *columnar.Index
}

// New creates an empty collection.
func New(name string, opts Options) *Collection {
	if opts.Planner == (planner.Options{}) {
		opts.Planner = planner.DefaultOptions()
	}
	l := opts.Logger
	if l == nil {
		l = logger.Get()
	}
	return &Collection{
		name:    name,
		opts:    opts,
		logger:  l.With(zap.String("collection", name)),
		metrics: metrics.NewCollector(name),
		docs:    make(map[columnar.RowID]bson.D),
		keys:    make(map[string]columnar.RowID),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Len returns the number of stored documents.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// Index returns the column store index, or nil.
func (c *Collection) Index() *columnar.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index
}

// Insert stores docs and returns their _id values. A document without _id
// gets a new ObjectID. Documents are validated first; nothing is stored when
// any of them is rejected.
func (c *Collection) Insert(ctx context.Context, docs ...interface{}) ([]interface{}, error) {
	_, span := observability.StartSpan(ctx, "collection.insert",
		attribute.String("collection", c.name),
		attribute.Int("documents", len(docs)))
	defer span.End()

	prepared := make([]bson.D, len(docs))
	for i, raw := range docs {
		d, err := prepare(raw)
		if err != nil {
			span.Fail(err)
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid document").
				WithDetail("position", i)
		}
		prepared[i] = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	batch := make(map[string]struct{}, len(prepared))
	for i, d := range prepared {
		k := idKey(d)
		_, dupBatch := batch[k]
		if _, dup := c.keys[k]; dup || dupBatch {
			err := errors.New(errors.ErrorTypeConflict, "duplicate _id").
				WithDetail("position", i).
				WithDetail("_id", d[0].Value)
			span.Fail(err)
			return nil, err
		}
		batch[k] = struct{}{}
	}

	out := make([]interface{}, len(prepared))
	for i, d := range prepared {
		c.nextID++
		id := c.nextID
		if c.index != nil {
			if err := c.index.Insert(id, d); err != nil {
				span.Fail(err)
				return out[:i], err
			}
		}
		c.ids = append(c.ids, id)
		c.docs[id] = d
		c.keys[idKey(d)] = id
		out[i] = d[0].Value
	}
	c.recordIndexLocked()
	return out, nil
}

// ReplaceOne replaces the first document matching filter. The replacement
// keeps the stored _id; naming a different one is an error.
func (c *Collection) ReplaceOne(ctx context.Context, filter bson.D, replacement interface{}) (int, error) {
	_, span := observability.StartSpan(ctx, "collection.replace_one", attribute.String("collection", c.name))
	defer span.End()

	f, err := query.ParseFilter(filter)
	if err != nil {
		span.Fail(err)
		return 0, err
	}
	repl, err := document.Normalize(replacement)
	if err != nil {
		return 0, err
	}
	if err := document.Validate(repl); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.ids {
		old := c.docs[id]
		if !f.Matches(old, nil) {
			continue
		}
		oldID := old[0].Value
		if v, ok := document.Lookup(repl, idField); ok {
			if !document.Equal(v, oldID, nil) {
				err := errors.New(errors.ErrorTypeValidation, "the _id field cannot be changed").
					WithDetail("_id", oldID)
				span.Fail(err)
				return 0, err
			}
			repl = withIDFirst(repl)
		} else {
			repl = append(bson.D{{Key: idField, Value: oldID}}, repl...)
		}
		if c.index != nil {
			if err := c.index.Replace(id, old, repl); err != nil {
				span.Fail(err)
				return 0, err
			}
		}
		c.docs[id] = repl
		c.recordIndexLocked()
		return 1, nil
	}
	return 0, nil
}

// DeleteMany removes every document matching filter and returns how many
// were removed.
func (c *Collection) DeleteMany(ctx context.Context, filter bson.D) (int, error) {
	_, span := observability.StartSpan(ctx, "collection.delete_many", attribute.String("collection", c.name))
	defer span.End()

	f, err := query.ParseFilter(filter)
	if err != nil {
		span.Fail(err)
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.ids[:0]
	removed := 0
	var firstErr error
	for _, id := range c.ids {
		d := c.docs[id]
		if firstErr != nil || !f.Matches(d, nil) {
			kept = append(kept, id)
			continue
		}
		if c.index != nil {
			if err := c.index.Remove(id, d); err != nil {
				firstErr = err
				kept = append(kept, id)
				continue
			}
		}
		delete(c.docs, id)
		delete(c.keys, idKey(d))
		removed++
	}
	c.ids = kept
	c.recordIndexLocked()
	span.SetAttribute("removed", removed)
	if firstErr != nil {
		span.Fail(firstErr)
	}
	return removed, firstErr
}

// Get returns the stored document for id.
func (c *Collection) Get(id columnar.RowID) (bson.D, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	return d, ok
}

// snapshot returns the live rows in RowID order and the current index.
func (c *Collection) snapshot() ([]row, *columnar.Index) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows := make([]row, len(c.ids))
	for i, id := range c.ids {
		rows[i] = row{id: id, doc: c.docs[id]}
	}
	return rows, c.index
}

func (c *Collection) recordIndexLocked() {
	if c.index == nil {
		return
	}
	s := c.index.Stats(false)
	c.metrics.RecordIndex(c.indexLabel(), s.Rows, s.Columns)
}

func (c *Collection) indexLabel() string {
	return c.name + "." + IndexName
}

type row struct {
	id  columnar.RowID
	doc bson.D
}

// prepare normalizes raw and moves or adds _id as the first field.
func prepare(raw interface{}) (bson.D, error) {
	d, err := document.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if err := document.Validate(d); err != nil {
		return nil, err
	}
	if _, ok := document.Lookup(d, idField); !ok {
		return append(bson.D{{Key: idField, Value: primitive.NewObjectID()}}, d...), nil
	}
	return withIDFirst(d), nil
}

func withIDFirst(d bson.D) bson.D {
	i := document.Index(d, idField)
	if i <= 0 {
		return d
	}
	out := make(bson.D, 0, len(d))
	out = append(out, d[i])
	out = append(out, d[:i]...)
	return append(out, d[i+1:]...)
}

func idKey(d bson.D) string {
	return document.HashKey(d[0].Value, nil)
}

// collator builds the collator for spec; nil spec means binary comparison.
func collator(spec *collation.Spec) (collation.Collator, error) {
	if spec == nil {
		return nil, nil
	}
	return collation.New(spec)
}

// RowIDs returns the live RowIDs in ascending order.
func (c *Collection) RowIDs() []columnar.RowID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]columnar.RowID(nil), c.ids...)
}
