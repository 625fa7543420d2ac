// Package strata is a column store index for document collections and the
// read path that uses it.
//
// Every document is decomposed into one column per distinct field path. A
// column cell holds the scalar values found at its path together with the
// array structure around them, so the original document can be rebuilt from
// its cells. Queries that touch only a few paths are answered by a column
// scan that merges just those columns in RowID order, evaluates pushed-down
// filters on the reconstructed partial documents and hands the rest of the
// pipeline only the fields it needs.
//
// # Architecture
//
// The read path is layered bottom-up:
//
//  1. Path translation: dotted field paths, prefixes, and the closure of a
//     projection over the paths that exist in an index.
//  2. Column store: per-path columns of cells keyed by RowID, built by
//     shredding documents and read back through cursors.
//  3. Column scan: a k-way merge over the needed columns that assembles
//     partial documents and filters them with collation-aware matching.
//  4. Planning: a cost rule (number of fields against configured limits)
//     chooses between a column scan and a full row scan, honouring hints.
//  5. Aggregation: leading $match stages and the fields later stages depend
//     on are pushed into the scan; $group and friends run on top.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "go.mongodb.org/mongo-driver/bson"
//	    "github.com/ajitpratap0/strata/pkg/collection"
//	)
//
//	coll := collection.New("orders", collection.Options{})
//	_, _ = coll.Insert(ctx, bson.D{{Key: "status", Value: "A"}, {Key: "amount", Value: 50}})
//	_, _ = coll.CreateIndex(ctx, bson.D{{Key: "$**", Value: "columnstore"}})
//
//	docs, err := coll.Find(ctx,
//	    bson.D{{Key: "status", Value: "A"}},
//	    collection.FindOptions{Projection: bson.D{{Key: "amount", Value: 1}}})
//
// # Key Packages
//
//	pkg/path          - Field paths, prefixes and projection closures
//	pkg/document      - BSON document helpers, comparison and equality
//	pkg/collation     - Collation specs and string collators
//	pkg/columnar      - Column store index, cells, cursors and snapshots
//	pkg/query         - Filter and projection parsing and evaluation
//	pkg/columnscan    - Column scan executor
//	pkg/planner       - Column scan eligibility and explain output
//	pkg/aggregate     - Aggregation pipeline and pushdown analysis
//	pkg/collection    - Collection API tying the read path together
//	pkg/config        - YAML configuration
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics
//	pkg/observability - OpenTelemetry tracing
//
// # Command Line
//
// The strata command loads newline-delimited extended JSON and runs queries
// against it:
//
//	strata find --data orders.jsonl --filter '{"status": "A"}' --explain
//	strata aggregate --data orders.jsonl --pipeline '[{"$group": {"_id": "$status"}}]'
//	strata index build --data orders.jsonl --out orders.idx --compression zstd
//	strata index inspect orders.idx --columns
//	strata validate --data orders.jsonl --snapshot orders.idx
//
// # Configuration
//
// Configuration is read from YAML with ${VAR_NAME} substitution, then
// overridden by STRATA_* environment variables and command line flags:
//
//	name: orders
//	index:
//	  build_workers: 8
//	planner:
//	  enable_column_scan: true
//	  max_fields_unfiltered: 5
//	  max_fields_filtered: 12
//	storage:
//	  compression: zstd
//	  snapshot_path: /var/lib/strata/orders.idx
package strata
