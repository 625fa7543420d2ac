package collection

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/aggregate"
	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/columnscan"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/planner"
	"github.com/ajitpratap0/strata/pkg/query"
)

// checkEvery is how many rows a scan reads between context checks.
const checkEvery = 1024

// FindOptions configures Find and Explain.
type FindOptions struct {
	Projection bson.D
	// Hint is {"$natural": 1} or {"$**": "columnstore"}.
	Hint      bson.D
	Collation *collation.Spec
}

// AggregateOptions configures Aggregate and ExplainAggregate.
type AggregateOptions struct {
	Hint      bson.D
	Collation *collation.Spec
}

// plan is a parsed and planned read.
type plan struct {
	filter     *query.Filter
	projection *query.Projection
	collator   collation.Collator
	decision   planner.Decision
	rows       []row
	index      *columnar.Index
}

func (c *Collection) planFind(filter bson.D, opts FindOptions) (*plan, error) {
	f, err := query.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	proj, err := query.ParseProjection(opts.Projection)
	if err != nil {
		return nil, err
	}
	return c.choose(f, proj, opts.Hint, opts.Collation)
}

func (c *Collection) choose(f *query.Filter, proj *query.Projection, hint bson.D, spec *collation.Spec) (*plan, error) {
	coll, err := collator(spec)
	if err != nil {
		return nil, err
	}
	rows, idx := c.snapshot()
	d, err := planner.Choose(planner.Request{
		Filter:     f,
		Projection: proj,
		Hint:       hint,
		HasIndex:   idx != nil && !idx.Dropped(),
	}, c.opts.Planner)
	if err != nil {
		return nil, err
	}
	return &plan{filter: f, projection: proj, collator: coll, decision: d, rows: rows, index: idx}, nil
}

// Find returns the documents matching filter, projected per opts, in RowID
// order.
func (c *Collection) Find(ctx context.Context, filter bson.D, opts FindOptions) ([]bson.D, error) {
	ctx, span := observability.StartSpan(ctx, "collection.find", attribute.String("collection", c.name))
	defer span.End()

	p, err := c.planFind(filter, opts)
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	span.SetAttribute("plan", string(p.decision.Stage))

	out, err := c.run(ctx, p, false, func(src aggregate.Source) ([]bson.D, error) {
		var docs []bson.D
		for n := 0; src.Next(); n++ {
			if n%checkEvery == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			docs = append(docs, src.Document())
		}
		return docs, src.Err()
	})
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	span.SetAttribute("returned", len(out))
	return out, nil
}

// Aggregate runs pipeline. Leading $match stages and the fields the pipeline
// reads are pushed into the scan; the rest runs over the scanned documents.
func (c *Collection) Aggregate(ctx context.Context, pipeline bson.A, opts AggregateOptions) ([]bson.D, error) {
	ctx, span := observability.StartSpan(ctx, "collection.aggregate",
		attribute.String("collection", c.name),
		attribute.Int("stages", len(pipeline)))
	defer span.End()

	pl, pd, p, err := c.planAggregate(pipeline, opts)
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	span.SetAttribute("plan", string(p.decision.Stage))

	columnScan := p.decision.Stage == planner.StageColumnScan
	out, err := c.run(ctx, p, pd.ExtraFieldsPermitted, func(src aggregate.Source) ([]bson.D, error) {
		if columnScan {
			return aggregate.Execute(ctx, pd.Remaining, src, p.collator)
		}
		return aggregate.Execute(ctx, pl.Stages, src, p.collator)
	})
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	return out, nil
}

func (c *Collection) planAggregate(pipeline bson.A, opts AggregateOptions) (*aggregate.Pipeline, *aggregate.Pushdown, *plan, error) {
	pl, err := aggregate.Parse(pipeline)
	if err != nil {
		return nil, nil, nil, err
	}
	pl.Optimize()
	pd := pl.Analyze()
	p, err := c.choose(pd.Filter, pd.Projection, opts.Hint, opts.Collation)
	if err != nil {
		return nil, nil, nil, err
	}
	if p.decision.Stage != planner.StageColumnScan {
		// The row scan feeds whole documents to the full pipeline.
		p.filter = query.MatchAll()
		p.projection = nil
	}
	return pl, pd, p, nil
}

// run opens the source p chose and hands it to consume.
func (c *Collection) run(ctx context.Context, p *plan, extraFields bool, consume func(aggregate.Source) ([]bson.D, error)) ([]bson.D, error) {
	timer := metrics.NewTimer(string(p.decision.Stage))
	c.metrics.RecordPlan(string(p.decision.Stage))
	log := c.logger.With(zap.String("plan", string(p.decision.Stage)))
	if p.decision.Reason != "" {
		log = log.With(zap.String("column_scan_rejected", p.decision.Reason))
	}

	if p.decision.Stage == planner.StageColumnScan {
		exec, err := columnscan.New(p.index, columnscan.Options{
			Projection:           p.projection,
			Filter:               p.filter,
			Collator:             p.collator,
			ExtraFieldsPermitted: extraFields,
			Logger:               log,
		})
		if err != nil {
			return nil, err
		}
		defer exec.Close()

		out, err := consume(exec)
		s := exec.Stats()
		c.metrics.RecordScan(string(p.decision.Stage), timer.Stop(), map[string]int64{
			metrics.ResultReturned:         s.RowsReturned,
			metrics.ResultFilteredByPath:   s.RowsFilteredByPath,
			metrics.ResultFilteredResidual: s.RowsFilteredResidual,
		}, s.CellsRead)
		if err != nil {
			log.Warn("read failed", zap.Error(err))
			return nil, err
		}
		log.Debug("read finished",
			zap.Int64("rows_scanned", s.RowsScanned),
			zap.Int64("cells_read", s.CellsRead),
			zap.Int("results", len(out)))
		return out, nil
	}

	src := &rowScan{rows: p.rows, filter: p.filter, projection: p.projection, collator: p.collator}
	out, err := consume(src)
	c.metrics.RecordScan(string(p.decision.Stage), timer.Stop(), nil, 0)
	if err != nil {
		log.Warn("read failed", zap.Error(err))
		return nil, err
	}
	log.Debug("read finished",
		zap.Int("rows_scanned", src.scanned),
		zap.Int("results", len(out)))
	return out, nil
}

// Explain describes how Find would run.
func (c *Collection) Explain(ctx context.Context, filter bson.D, opts FindOptions) (bson.D, error) {
	p, err := c.planFind(filter, opts)
	if err != nil {
		return nil, err
	}
	winning, err := c.winningPlan(p, false)
	if err != nil {
		return nil, err
	}
	return planner.Explain(p.decision, winning), nil
}

// ExplainAggregate describes how Aggregate would run.
func (c *Collection) ExplainAggregate(ctx context.Context, pipeline bson.A, opts AggregateOptions) (bson.D, error) {
	pl, pd, p, err := c.planAggregate(pipeline, opts)
	if err != nil {
		return nil, err
	}
	winning, err := c.winningPlan(p, pd.ExtraFieldsPermitted)
	if err != nil {
		return nil, err
	}
	remaining := pl.Stages
	if p.decision.Stage == planner.StageColumnScan {
		remaining = pd.Remaining
	}
	stages := bson.A{}
	for _, s := range remaining {
		stages = append(stages, s.Render())
	}
	out := planner.Explain(p.decision, winning)
	return append(out, bson.E{Key: "stages", Value: stages}), nil
}

func (c *Collection) winningPlan(p *plan, extraFields bool) (bson.D, error) {
	if p.decision.Stage == planner.StageColumnScan {
		exec, err := columnscan.New(p.index, columnscan.Options{
			Projection:           p.projection,
			Filter:               p.filter,
			Collator:             p.collator,
			ExtraFieldsPermitted: extraFields,
		})
		if err != nil {
			return nil, err
		}
		defer exec.Close()
		return exec.Explain(), nil
	}

	filter := p.filter.Document()
	if filter == nil {
		filter = bson.D{}
	}
	winning := bson.D{
		{Key: "stage", Value: string(planner.StageCollScan)},
		{Key: "filter", Value: filter},
		{Key: "direction", Value: "forward"},
	}
	if !p.projection.IsEmpty() {
		winning = append(winning, bson.E{Key: "projection", Value: p.projection.Document()})
	}
	return winning, nil
}

// rowScan reads stored documents in RowID order, filtering and projecting
// each one.
type rowScan struct {
	rows       []row
	filter     *query.Filter
	projection *query.Projection
	collator   collation.Collator

	pos     int
	scanned int
	doc     bson.D
}

func (s *rowScan) Next() bool {
	for s.pos < len(s.rows) {
		d := s.rows[s.pos].doc
		s.pos++
		s.scanned++
		if !s.filter.Matches(d, s.collator) {
			continue
		}
		s.doc = s.projection.Apply(d)
		return true
	}
	s.doc = nil
	return false
}

func (s *rowScan) Document() bson.D { return s.doc }
func (s *rowScan) Err() error       { return nil }
func (s *rowScan) Close() error     { return nil }
