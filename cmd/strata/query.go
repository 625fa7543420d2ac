package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/internal/ingest"
	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/collection"
	"github.com/ajitpratap0/strata/pkg/mmap"
)

// source describes where a command's collection comes from.
type source struct {
	data      string
	snapshot  string
	batchSize int
	noIndex   bool
}

func (s *source) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.data, "data", "d", "", "Newline-delimited extended JSON documents (required)")
	cmd.Flags().StringVar(&s.snapshot, "snapshot", "", "Load the index from this snapshot instead of building it")
	cmd.Flags().IntVar(&s.batchSize, "batch-size", ingest.DefaultConfig().BatchSize, "Documents inserted per batch while loading")
	cmd.Flags().BoolVar(&s.noIndex, "no-index", false, "Do not build or load the column store index")
	_ = cmd.MarkFlagRequired("data")
}

// open loads the documents and installs the index.
func (a *app) open(ctx context.Context, s *source) (*collection.Collection, error) {
	coll := collection.New(a.cfg.Name, collection.Options{
		Planner:      a.cfg.Planner,
		BuildWorkers: a.cfg.Index.GetWorkers(),
		Logger:       a.log,
	})

	f, err := os.Open(s.data)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	loader := ingest.NewLoader(coll, &ingest.Config{BatchSize: s.batchSize}, a.log)
	if _, err := loader.Load(ctx, f); err != nil {
		return nil, err
	}
	if s.noIndex {
		return coll, nil
	}

	snapshot := s.snapshot
	if snapshot == "" {
		snapshot = a.cfg.Storage.SnapshotPath
	}
	if snapshot != "" {
		if _, err := os.Stat(snapshot); err == nil {
			if err := a.loadSnapshot(coll, snapshot); err != nil {
				return nil, err
			}
			return coll, nil
		}
		a.log.Debug("snapshot not found, building index", zap.String("path", snapshot))
	}
	if _, err := coll.CreateIndex(ctx, bson.D{{Key: "$**", Value: "columnstore"}}); err != nil {
		return nil, err
	}
	return coll, nil
}

func (a *app) loadSnapshot(coll *collection.Collection, path string) error {
	r, err := mmap.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	m, err := coll.LoadIndex(r.NewReader())
	if err != nil {
		return err
	}
	a.log.Info("index loaded from snapshot",
		zap.String("path", path),
		zap.Int("rows", m.Rows),
		zap.String("algorithm", string(m.Algorithm)))
	return nil
}

func newFindCommand(a *app) *cobra.Command {
	var src source
	var filter, projection, hint, collationSpec string
	var explain bool
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Run a find query",
		Long: `Load documents, then print those matching --filter, one extended JSON
document per line.

Example:
  strata find --data orders.jsonl --filter '{"status": "A"}' --projection '{"amount": 1}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ingest.ParseOptional(filter)
			if err != nil {
				return err
			}
			if f == nil {
				f = bson.D{}
			}
			opts := collection.FindOptions{}
			if opts.Projection, err = ingest.ParseOptional(projection); err != nil {
				return err
			}
			if opts.Hint, err = ingest.ParseOptional(hint); err != nil {
				return err
			}
			if opts.Collation, err = parseCollation(collationSpec); err != nil {
				return err
			}

			ctx := cmd.Context()
			coll, err := a.open(ctx, &src)
			if err != nil {
				return err
			}
			if explain {
				out, err := coll.Explain(ctx, f, opts)
				if err != nil {
					return err
				}
				return writeIndented(cmd.OutOrStdout(), out)
			}
			docs, err := coll.Find(ctx, f, opts)
			if err != nil {
				return err
			}
			return writeLines(cmd.OutOrStdout(), docs)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&filter, "filter", "", "Query filter as extended JSON")
	cmd.Flags().StringVar(&projection, "projection", "", "Projection as extended JSON")
	cmd.Flags().StringVar(&hint, "hint", "", `Plan hint: {"$natural": 1} or {"$**": "columnstore"}`)
	cmd.Flags().StringVar(&collationSpec, "collation", "", `Collation, e.g. {"locale": "en", "strength": 2}`)
	cmd.Flags().BoolVar(&explain, "explain", false, "Print the query plan instead of the results")
	return cmd
}

func newAggregateCommand(a *app) *cobra.Command {
	var src source
	var pipeline, hint, collationSpec string
	var explain bool
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Run an aggregation pipeline",
		Long: `Load documents, then run --pipeline over them and print the results, one
extended JSON document per line.

Example:
  strata aggregate --data orders.jsonl --pipeline '[{"$group": {"_id": "$status", "n": {"$sum": 1}}}]'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := ingest.ParseArray(pipeline)
			if err != nil {
				return err
			}
			opts := collection.AggregateOptions{}
			if opts.Hint, err = ingest.ParseOptional(hint); err != nil {
				return err
			}
			if opts.Collation, err = parseCollation(collationSpec); err != nil {
				return err
			}

			ctx := cmd.Context()
			coll, err := a.open(ctx, &src)
			if err != nil {
				return err
			}
			if explain {
				out, err := coll.ExplainAggregate(ctx, stages, opts)
				if err != nil {
					return err
				}
				return writeIndented(cmd.OutOrStdout(), out)
			}
			docs, err := coll.Aggregate(ctx, stages, opts)
			if err != nil {
				return err
			}
			return writeLines(cmd.OutOrStdout(), docs)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&pipeline, "pipeline", "[]", "Pipeline as an extended JSON array")
	cmd.Flags().StringVar(&hint, "hint", "", `Plan hint: {"$natural": 1} or {"$**": "columnstore"}`)
	cmd.Flags().StringVar(&collationSpec, "collation", "", `Collation, e.g. {"locale": "en", "strength": 2}`)
	cmd.Flags().BoolVar(&explain, "explain", false, "Print the plan instead of the results")
	return cmd
}

func parseCollation(s string) (*collation.Spec, error) {
	d, err := ingest.ParseOptional(s)
	if err != nil || d == nil {
		return nil, err
	}
	return collation.FromDocument(d)
}

// writeLines prints each document as relaxed extended JSON on its own line.
func writeLines(w io.Writer, docs []bson.D) error {
	for _, d := range docs {
		data, err := bson.MarshalExtJSON(d, false, false)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(data)); err != nil {
			return err
		}
	}
	return nil
}

func writeIndented(w io.Writer, d bson.D) error {
	data, err := bson.MarshalExtJSONIndent(d, false, false, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
