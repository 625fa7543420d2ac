package collection

import (
	"context"
	"io"
	"runtime"

	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/planner"
)

// CreateIndex builds the column store index. spec must be
// {"$**": "columnstore"}. Documents are shredded on BuildWorkers goroutines
// and their cells applied in RowID order; writers wait for the build.
func (c *Collection) CreateIndex(ctx context.Context, spec bson.D) (string, error) {
	ctx, span := observability.StartSpan(ctx, "collection.create_index", attribute.String("collection", c.name))
	defer span.End()

	if !isColumnStoreSpec(spec) {
		err := errors.New(errors.ErrorTypeCapability, "only the {\"$**\": \"columnstore\"} index is supported").
			WithDetail("spec", spec)
		span.Fail(err)
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != nil {
		err := errors.New(errors.ErrorTypeConflict, "column store index already exists").
			WithDetail("index", IndexName)
		span.Fail(err)
		return "", err
	}

	timer := metrics.NewTimer("index_build")
	shredded := make([][]columnar.Emission, len(c.ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for i, id := range c.ids {
		i, doc := i, c.docs[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ems, err := columnar.Shred(doc)
			if err != nil {
				return err
			}
			shredded[i] = ems
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.Fail(err)
		c.logger.Warn("index build failed", zap.Error(err))
		return "", err
	}

	idx := columnar.NewIndex(IndexName, columnar.WithLogger(c.logger))
	for i, id := range c.ids {
		if err := idx.InsertShredded(id, shredded[i]); err != nil {
			span.Fail(err)
			return "", err
		}
	}
	c.index = idx
	c.recordIndexLocked()

	d := timer.Stop()
	metrics.IndexBuildDuration.Observe(d.Seconds())
	s := idx.Stats(false)
	span.SetAttribute("rows", s.Rows)
	span.SetAttribute("columns", s.Columns)
	c.logger.Info("column store index built",
		zap.Int("rows", s.Rows),
		zap.Int("columns", s.Columns),
		zap.Int("cells", s.Cells),
		zap.Int("workers", c.workers()),
		zap.Duration("duration", d))
	return IndexName, nil
}

func (c *Collection) workers() int {
	if c.opts.BuildWorkers > 0 {
		return c.opts.BuildWorkers
	}
	return runtime.NumCPU()
}

func isColumnStoreSpec(spec bson.D) bool {
	if len(spec) != 1 {
		return false
	}
	kind, ok := spec[0].Value.(string)
	return ok && spec[0].Key == planner.ColumnStoreHint[0].Key && kind == planner.ColumnStoreHint[0].Value
}

// DropIndex drops the named index. Scans still running over it fail with a
// storage error.
func (c *Collection) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil || name != IndexName {
		return errors.New(errors.ErrorTypeNotFound, "index not found").WithDetail("index", name)
	}
	c.index.Drop()
	c.index = nil
	c.metrics.ForgetIndex(c.indexLabel())
	return nil
}

// ValidateIndex rebuilds every document from the index and checks that it
// is byte for byte the stored one, so a value whose BSON type changed is a
// mismatch.
func (c *Collection) ValidateIndex(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "collection.validate_index", attribute.String("collection", c.name))
	defer span.End()

	rows, idx := c.snapshot()
	if idx == nil {
		return errors.New(errors.ErrorTypeNotFound, "index not found").WithDetail("index", IndexName)
	}
	if n := idx.RowCount(); n != len(rows) {
		err := errors.Newf(errors.ErrorTypeStorage, "index has %d rows, collection has %d", n, len(rows))
		span.Fail(err)
		return err
	}

	var mismatches []uint64
	for i, r := range rows {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rebuilt, ok, err := idx.Document(r.id)
		if err != nil {
			span.Fail(err)
			return err
		}
		if !ok || !document.Identical(rebuilt, r.doc) {
			mismatches = append(mismatches, uint64(r.id))
		}
	}
	if len(mismatches) > 0 {
		err := errors.Newf(errors.ErrorTypeStorage, "%d documents differ from the index", len(mismatches)).
			WithDetail("row_ids", mismatches)
		span.Fail(err)
		c.logger.Warn("index validation failed", zap.Int("mismatches", len(mismatches)))
		return err
	}
	c.logger.Debug("index validated", zap.Int("rows", len(rows)))
	return nil
}

// IndexStats describes the column store index.
func (c *Collection) IndexStats(perColumn bool) (columnar.Stats, error) {
	idx := c.Index()
	if idx == nil {
		return columnar.Stats{}, errors.New(errors.ErrorTypeNotFound, "index not found").WithDetail("index", IndexName)
	}
	return idx.Stats(perColumn), nil
}

// SaveIndex writes an index snapshot to w.
func (c *Collection) SaveIndex(w io.Writer, cfg *compression.Config) (*columnar.Manifest, error) {
	idx := c.Index()
	if idx == nil {
		return nil, errors.New(errors.ErrorTypeNotFound, "index not found").WithDetail("index", IndexName)
	}
	m, err := idx.Save(w, cfg)
	if err != nil {
		return nil, err
	}
	c.logger.Info("index snapshot saved",
		zap.Int("rows", m.Rows),
		zap.Int("columns", m.Columns),
		zap.String("algorithm", string(m.Algorithm)))
	return m, nil
}

// LoadIndex installs the index stored in r, replacing any current one. The
// snapshot must describe exactly the collection's rows.
func (c *Collection) LoadIndex(r io.Reader) (*columnar.Manifest, error) {
	idx, m, err := columnar.Load(r, columnar.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	if idx.Name() != IndexName {
		return nil, errors.New(errors.ErrorTypeStorage, "snapshot holds a different index").
			WithDetail("index", idx.Name())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if idx.RowCount() != len(c.ids) {
		return nil, errors.Newf(errors.ErrorTypeStorage, "snapshot has %d rows, collection has %d", idx.RowCount(), len(c.ids)).
			WithDetail("index", IndexName)
	}
	for _, id := range c.ids {
		if !idx.Contains(id) {
			return nil, errors.New(errors.ErrorTypeStorage, "snapshot does not match the collection").
				WithDetail("row_id", uint64(id))
		}
	}
	if c.index != nil {
		c.index.Drop()
	}
	c.index = idx
	c.recordIndexLocked()
	return m, nil
}
