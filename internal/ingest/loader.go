// Package ingest loads newline-delimited extended JSON into a collection.
//
// A reader goroutine parses lines and a writer goroutine inserts them in
// batches, so parsing overlaps with index maintenance:
//
//	loader := ingest.NewLoader(coll, ingest.DefaultConfig(), logger)
//	stats, err := loader.Load(ctx, file)
//
// Blank lines are skipped. Any malformed line stops the load; batches already
// inserted stay in the collection.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/strata/pkg/collection"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/pool"
)

// maxLineSize is the largest accepted line, the BSON document size limit.
const maxLineSize = 16 * 1024 * 1024

// Config controls batching.
type Config struct {
	BatchSize int // Documents per Insert call
	// QueueSize bounds parsed documents waiting for the writer.
	QueueSize int
}

// DefaultConfig returns the default batching settings.
func DefaultConfig() *Config {
	return &Config{
		BatchSize: 1000,
		QueueSize: 4096,
	}
}

// Stats summarizes one load.
type Stats struct {
	Lines     int           `json:"lines"`
	Documents int           `json:"documents"`
	Batches   int           `json:"batches"`
	Duration  time.Duration `json:"duration"`
}

// Loader inserts documents read from a stream into a collection.
type Loader struct {
	coll    *collection.Collection
	cfg     Config
	logger  *zap.Logger
	batches *pool.SlicePool[interface{}]
}

// NewLoader creates a loader. A nil config uses DefaultConfig.
func NewLoader(coll *collection.Collection, cfg *Config, logger *zap.Logger) *Loader {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultConfig().BatchSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		coll:    coll,
		cfg:     c,
		logger:  logger.With(zap.String("collection", coll.Name())),
		batches: pool.NewSlicePool[interface{}](c.BatchSize),
	}
}

// Load reads r to the end and inserts every document.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Stats, error) {
	start := time.Now()
	docs := make(chan bson.D, l.cfg.QueueSize)

	var stats Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(docs)
		lines, err := l.read(gctx, r, docs)
		stats.Lines = lines
		return err
	})
	g.Go(func() error {
		n, batches, err := l.write(gctx, docs)
		stats.Documents = n
		stats.Batches = batches
		return err
	})
	err := g.Wait()
	stats.Duration = time.Since(start)
	if err != nil {
		l.logger.Warn("load failed",
			zap.Int("documents", stats.Documents),
			zap.Error(err))
		return stats, err
	}

	l.logger.Info("load completed",
		zap.Int("lines", stats.Lines),
		zap.Int("documents", stats.Documents),
		zap.Int("batches", stats.Batches),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// read parses r line by line into out and returns the number of lines seen.
func (l *Loader) read(ctx context.Context, r io.Reader, out chan<- bson.D) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return line, err
		}
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		doc, err := ParseDocument(raw)
		if err != nil {
			return line, errors.Wrap(err, errors.ErrorTypeValidation, "invalid extended JSON").
				WithDetail("line", line)
		}
		select {
		case out <- doc:
		case <-ctx.Done():
			return line, ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return line, errors.Wrap(err, errors.ErrorTypeFile, "failed to read input").
			WithDetail("line", line+1)
	}
	return line, nil
}

// write drains in, inserting BatchSize documents at a time.
func (l *Loader) write(ctx context.Context, in <-chan bson.D) (int, int, error) {
	batch := l.batches.Get()
	defer func() { l.batches.Put(batch) }()
	inserted, batches := 0, 0

	flush := func() error {
		if len(*batch) == 0 {
			return nil
		}
		if _, err := l.coll.Insert(ctx, (*batch)...); err != nil {
			return err
		}
		inserted += len(*batch)
		batches++
		l.logger.Debug("batch inserted",
			zap.Int("batch", batches),
			zap.Int("size", len(*batch)))
		l.batches.Put(batch)
		batch = l.batches.Get()
		return nil
	}

	for {
		select {
		case doc, ok := <-in:
			if !ok {
				return inserted, batches, flush()
			}
			*batch = append(*batch, doc)
			if len(*batch) >= l.cfg.BatchSize {
				if err := flush(); err != nil {
					return inserted, batches, err
				}
			}
		case <-ctx.Done():
			return inserted, batches, ctx.Err()
		}
	}
}

// ParseDocument decodes one extended JSON document, canonical or relaxed.
func ParseDocument(raw []byte) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseOptional decodes s, returning nil for an empty string. The CLI uses
// it for optional document flags.
func ParseOptional(s string) (bson.D, error) {
	if len(bytes.TrimSpace([]byte(s))) == 0 {
		return nil, nil
	}
	doc, err := ParseDocument([]byte(s))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid extended JSON")
	}
	return doc, nil
}

// ParseArray decodes an extended JSON array such as an aggregation pipeline.
func ParseArray(s string) (bson.A, error) {
	// UnmarshalExtJSON only accepts documents at the top level.
	wrapped := append(append([]byte(`{"v":`), s...), '}')
	var holder struct {
		V bson.A `bson:"v"`
	}
	if err := bson.UnmarshalExtJSON(wrapped, false, &holder); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid extended JSON array")
	}
	if holder.V == nil {
		return bson.A{}, nil
	}
	return holder.V, nil
}
