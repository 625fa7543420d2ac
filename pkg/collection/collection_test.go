package collection

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/planner"
	"github.com/ajitpratap0/strata/pkg/testutil"
)

var (
	natural     = bson.D{{Key: "$natural", Value: int32(1)}}
	columnStore = bson.D{{Key: "$**", Value: "columnstore"}}
)

func newCollection(t *testing.T, exts []string, index bool) *Collection {
	t.Helper()
	c := New("test", Options{BuildWorkers: 4, Logger: testutil.TestLogger(t)})
	if len(exts) > 0 {
		docs := testutil.ExtDocs(t, exts)
		raw := make([]interface{}, len(docs))
		for i, d := range docs {
			raw[i] = d
		}
		_, err := c.Insert(context.Background(), raw...)
		require.NoError(t, err)
	}
	if index {
		name, err := c.CreateIndex(context.Background(), columnStore)
		require.NoError(t, err)
		require.Equal(t, IndexName, name)
	}
	return c
}

func ext(t *testing.T, s string) bson.D {
	t.Helper()
	return testutil.ExtDoc(t, s)
}

// field walks nested documents by key.
func field(t *testing.T, d bson.D, keys ...string) interface{} {
	t.Helper()
	var cur interface{} = d
	for _, k := range keys {
		doc, ok := cur.(bson.D)
		require.True(t, ok, "%v is not a document at %q", cur, k)
		v, found := document.Lookup(doc, k)
		require.True(t, found, "no %q in %v", k, doc)
		cur = v
	}
	return cur
}

func TestInsert(t *testing.T) {
	ctx := context.Background()
	c := New("insert", Options{Logger: testutil.TestLogger(t)})

	ids, err := c.Insert(ctx, bson.D{{Key: "a", Value: int32(1)}})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	_, isOID := ids[0].(primitive.ObjectID)
	assert.True(t, isOID)

	ids, err = c.Insert(ctx, ext(t, `{"b": 1, "_id": 5}`))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(5)}, ids)

	rowIDs := c.RowIDs()
	require.Len(t, rowIDs, 2)
	stored, ok := c.Get(rowIDs[1])
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "_id", Value: int32(5)}, {Key: "b", Value: int32(1)}}, stored)

	t.Run("duplicate _id", func(t *testing.T) {
		_, err := c.Insert(ctx, ext(t, `{"_id": 5}`))
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
		_, err = c.Insert(ctx, ext(t, `{"_id": 6}`), ext(t, `{"_id": 6}`))
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
		assert.Equal(t, 2, c.Len())
	})

	t.Run("duplicate field names", func(t *testing.T) {
		_, err := c.Insert(ctx, bson.D{{Key: "a", Value: int32(1)}, {Key: "a", Value: int32(2)}})
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		assert.Equal(t, 2, c.Len())
	})
}

func TestFindMatchesRowScan(t *testing.T) {
	c := newCollection(t, testutil.ProjectionDocs, true)
	ctx := context.Background()

	filters := []string{`{}`, `{"a.b": 1}`, `{"a": {"$exists": true}}`, `{"$or": [{"a": 1}, {"x": "hello"}]}`}
	for _, proj := range testutil.ProjectionCases {
		for _, f := range filters {
			t.Run(proj+" "+f, func(t *testing.T) {
				opts := FindOptions{Projection: ext(t, proj)}
				explain, err := c.Explain(ctx, ext(t, f), opts)
				require.NoError(t, err)
				assert.Equal(t, string(planner.StageColumnScan), field(t, explain, "queryPlanner", "winningPlan", "stage"))

				got, err := c.Find(ctx, ext(t, f), opts)
				require.NoError(t, err)

				opts.Hint = natural
				want, err := c.Find(ctx, ext(t, f), opts)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			})
		}
	}
}

func TestFindPlanSelection(t *testing.T) {
	c := newCollection(t, []string{
		`{"_id": 1, "a": 1, "b": 2, "c": 3, "d": 4, "e": 5, "f": 6}`,
		`{"_id": 2, "a": 2, "b": 3, "c": 4, "d": 5, "e": 6, "f": 7}`,
	}, true)
	ctx := context.Background()

	tests := []struct {
		name       string
		filter     string
		projection string
		hint       bson.D
		stage      planner.Stage
		reason     string
		results    int
	}{
		{name: "no projection", filter: `{"a": 1}`, stage: planner.StageCollScan, reason: planner.ReasonWholeDocument, results: 1},
		{name: "exclusion", projection: `{"a": 0}`, stage: planner.StageCollScan, reason: planner.ReasonExclusion, results: 2},
		{name: "inclusion", projection: `{"a": 1, "b": 1}`, stage: planner.StageColumnScan, results: 2},
		{name: "too many unfiltered", projection: `{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}`, stage: planner.StageCollScan, reason: planner.ReasonTooManyFields, results: 2},
		{name: "filtered limit is higher", filter: `{"f": 7}`, projection: `{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}`, stage: planner.StageColumnScan, results: 1},
		{name: "natural hint", projection: `{"a": 1}`, hint: natural, stage: planner.StageCollScan, reason: planner.ReasonHintNatural, results: 2},
		{name: "hint lifts the field limit", projection: `{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}`, hint: columnStore, stage: planner.StageColumnScan, results: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := bson.D{}
			if tt.filter != "" {
				filter = ext(t, tt.filter)
			}
			opts := FindOptions{Hint: tt.hint}
			if tt.projection != "" {
				opts.Projection = ext(t, tt.projection)
			}

			explain, err := c.Explain(ctx, filter, opts)
			require.NoError(t, err)
			assert.Equal(t, string(tt.stage), field(t, explain, "queryPlanner", "winningPlan", "stage"))
			qp := field(t, explain, "queryPlanner").(bson.D)
			reason, _ := document.Lookup(qp, "columnScanRejected")
			if tt.reason == "" {
				assert.Nil(t, reason)
			} else {
				assert.Equal(t, tt.reason, reason)
			}

			out, err := c.Find(ctx, filter, opts)
			require.NoError(t, err)
			assert.Len(t, out, tt.results)
		})
	}
}

func TestFindHintErrors(t *testing.T) {
	ctx := context.Background()
	noIndex := newCollection(t, []string{`{"a": 1}`}, false)
	indexed := newCollection(t, []string{`{"a": 1}`}, true)

	_, err := noIndex.Find(ctx, bson.D{}, FindOptions{Projection: ext(t, `{"a": 1}`), Hint: columnStore})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = indexed.Find(ctx, bson.D{}, FindOptions{Projection: ext(t, `{"a": 0}`), Hint: columnStore})
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))

	_, err = indexed.Find(ctx, bson.D{}, FindOptions{Hint: ext(t, `{"a": 1}`)})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestGroupByABC(t *testing.T) {
	c := newCollection(t, testutil.GroupByABCDocs, true)
	ctx := context.Background()
	pipeline := bson.A{ext(t, `{"$group": {"_id": "$a.b.c", "docs": {"$push": "$num"}}}`)}

	explain, err := c.ExplainAggregate(ctx, pipeline, AggregateOptions{})
	require.NoError(t, err)
	assert.Equal(t, string(planner.StageColumnScan), field(t, explain, "queryPlanner", "winningPlan", "stage"))
	assert.Equal(t, bson.A{"a.b.c", "num"}, field(t, explain, "queryPlanner", "winningPlan", "allFields"))
	assert.Equal(t, true, field(t, explain, "queryPlanner", "winningPlan", "extraFieldsPermitted"))
	assert.Len(t, field(t, explain, "stages"), 1)

	columnar, err := c.Aggregate(ctx, pipeline, AggregateOptions{})
	require.NoError(t, err)
	assertBuckets(t, testutil.GroupByABCBuckets, columnar)

	rows, err := c.Aggregate(ctx, pipeline, AggregateOptions{Hint: natural})
	require.NoError(t, err)
	assert.Equal(t, rows, columnar)
}

func assertBuckets(t *testing.T, want []testutil.GroupBucket, got []bson.D) {
	t.Helper()
	require.Len(t, got, len(want))
	gotByKey := make(map[string]bson.A, len(got))
	for _, g := range got {
		gotByKey[document.HashKey(g[0].Value, nil)] = g[1].Value.(bson.A)
	}
	for _, b := range want {
		docs, ok := gotByKey[document.HashKey(testutil.ExtValue(t, b.ID), nil)]
		if !assert.True(t, ok, "missing bucket %s", b.ID) {
			continue
		}
		nums := make([]int, len(docs))
		for i, d := range docs {
			n, _ := document.ToInt64(d)
			nums[i] = int(n)
		}
		assert.Equal(t, b.Nums, nums, "bucket %s", b.ID)
	}
}

func TestAggregate(t *testing.T) {
	c := newCollection(t, []string{
		`{"k": 1, "v": 10, "s": "b"}`,
		`{"k": 1, "v": 20, "s": "a"}`,
		`{"k": 2, "v": 30, "s": "c"}`,
	}, true)
	ctx := context.Background()

	tests := []struct {
		name     string
		pipeline string
		stage    planner.Stage
		want     []string
	}{
		{
			name:     "match then group",
			pipeline: `[{"$match": {"k": 1}}, {"$group": {"_id": "$k", "n": {"$count": {}}}}]`,
			stage:    planner.StageColumnScan,
			want:     []string{`{"_id": 1, "n": 2}`},
		},
		{
			name:     "leading inclusion project",
			pipeline: `[{"$project": {"s": 1, "_id": 0}}, {"$sort": {"s": 1}}]`,
			stage:    planner.StageColumnScan,
			want:     []string{`{"s": "a"}`, `{"s": "b"}`, `{"s": "c"}`},
		},
		{
			name:     "sort then first becomes top",
			pipeline: `[{"$sort": {"v": -1}}, {"$group": {"_id": "$k", "best": {"$first": "$s"}}}]`,
			stage:    planner.StageColumnScan,
			want:     []string{`{"_id": 1, "best": "a"}`, `{"_id": 2, "best": "c"}`},
		},
		{
			name:     "count",
			pipeline: `[{"$match": {"v": {"$gt": 15}}}, {"$count": "n"}]`,
			stage:    planner.StageColumnScan,
			want:     []string{`{"n": 2}`},
		},
		{
			name:     "whole documents",
			pipeline: `[{"$match": {"k": 2}}, {"$project": {"_id": 0, "k": 0}}]`,
			stage:    planner.StageCollScan,
			want:     []string{`{"v": 30, "s": "c"}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var wrapper bson.D
			require.NoError(t, bson.UnmarshalExtJSON([]byte(`{"p": `+tt.pipeline+`}`), false, &wrapper))
			norm, err := document.Normalize(wrapper)
			require.NoError(t, err)
			pipeline := norm[0].Value.(bson.A)

			explain, err := c.ExplainAggregate(ctx, pipeline, AggregateOptions{})
			require.NoError(t, err)
			assert.Equal(t, string(tt.stage), field(t, explain, "queryPlanner", "winningPlan", "stage"))

			out, err := c.Aggregate(ctx, pipeline, AggregateOptions{})
			require.NoError(t, err)
			assert.Equal(t, testutil.ExtDocs(t, tt.want), out)
		})
	}
}

func TestCollation(t *testing.T) {
	docs := []string{`{"x": "hello"}`, `{"x": "Hello"}`, `{"x": "HELLO"}`}
	ctx := context.Background()

	tests := []struct {
		name string
		spec *collation.Spec
		want int
	}{
		{name: "binary", want: 1},
		{name: "simple", spec: &collation.Spec{Locale: "simple"}, want: 1},
		{name: "strength 3", spec: &collation.Spec{Locale: "en", Strength: 3}, want: 1},
		{name: "strength 2", spec: &collation.Spec{Locale: "en", Strength: 2}, want: 3},
		{name: "strength 1", spec: &collation.Spec{Locale: "en", Strength: 1}, want: 3},
	}
	for _, index := range []bool{true, false} {
		c := newCollection(t, docs, index)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				opts := FindOptions{Projection: ext(t, `{"x": 1, "_id": 0}`), Collation: tt.spec}
				out, err := c.Find(ctx, ext(t, `{"x": "hello"}`), opts)
				require.NoError(t, err)
				assert.Len(t, out, tt.want)

				explain, err := c.Explain(ctx, ext(t, `{"x": "hello"}`), opts)
				require.NoError(t, err)
				if index {
					filters := field(t, explain, "queryPlanner", "winningPlan", "filtersByPath").(bson.D)
					require.Len(t, filters, 1)
					assert.Equal(t, "x", filters[0].Key)
				} else {
					assert.Equal(t, planner.ReasonNoIndex, field(t, explain, "queryPlanner", "columnScanRejected"))
				}
			})
		}
	}

	t.Run("invalid collation", func(t *testing.T) {
		c := newCollection(t, docs, false)
		_, err := c.Find(ctx, bson.D{}, FindOptions{Collation: &collation.Spec{Locale: "en", Strength: 9}})
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestWritesMaintainIndex(t *testing.T) {
	c := newCollection(t, []string{
		`{"_id": 1, "a": {"b": 1}}`,
		`{"_id": 2, "a": [{"b": 2}, {"b": 3}]}`,
		`{"_id": 3, "a": "x"}`,
	}, true)
	ctx := context.Background()

	_, err := c.Insert(ctx, ext(t, `{"_id": 4, "a": {"b": 4}, "c": true}`))
	require.NoError(t, err)

	n, err := c.ReplaceOne(ctx, ext(t, `{"_id": 2}`), ext(t, `{"a": {"b": 20}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.ReplaceOne(ctx, ext(t, `{"_id": 99}`), ext(t, `{"a": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = c.ReplaceOne(ctx, ext(t, `{"_id": 1}`), ext(t, `{"_id": 7, "a": 1}`))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	n, err = c.DeleteMany(ctx, ext(t, `{"a": "x"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.ValidateIndex(ctx))

	out, err := c.Find(ctx, bson.D{}, FindOptions{Projection: ext(t, `{"a.b": 1}`)})
	require.NoError(t, err)
	assert.Equal(t, testutil.ExtDocs(t, []string{
		`{"_id": 1, "a": {"b": 1}}`,
		`{"_id": 2, "a": {"b": 20}}`,
		`{"_id": 4, "a": {"b": 4}}`,
	}), out)

	stats, err := c.IndexStats(false)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Rows)
}

func TestValidateIndexDetectsChangedTypes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		stored  string
		altered string
		field   string
	}{
		{name: "int32 to double", stored: `{"_id": 1, "a": {"$numberInt": "7"}}`, altered: `{"_id": 1, "a": {"$numberDouble": "7.0"}}`, field: "a"},
		{name: "int32 to int64", stored: `{"_id": 1, "a": {"$numberInt": "7"}}`, altered: `{"_id": 1, "a": {"$numberLong": "7"}}`, field: "a"},
		{name: "nested array element", stored: `{"_id": 1, "a": [{"b": {"$numberInt": "1"}}]}`, altered: `{"_id": 1, "a": [{"b": {"$numberDouble": "1.0"}}]}`, field: "a.b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCollection(t, []string{tt.stored}, true)
			require.NoError(t, c.ValidateIndex(ctx))

			ems, err := columnar.Shred(ext(t, tt.altered))
			require.NoError(t, err)
			var replaced bool
			for _, e := range ems {
				if e.Path.String() == tt.field {
					cell := e.Cell
					require.NoError(t, c.Index().Put(e.Path, columnar.RowID(1), &cell))
					replaced = true
				}
			}
			require.True(t, replaced)

			err = c.ValidateIndex(ctx)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
		})
	}
}

func TestIndexLifecycle(t *testing.T) {
	c := newCollection(t, []string{`{"a": 1}`}, true)
	ctx := context.Background()

	_, err := c.CreateIndex(ctx, columnStore)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	_, err = c.CreateIndex(ctx, ext(t, `{"a": 1}`))
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))

	assert.True(t, errors.IsType(c.DropIndex("a_1"), errors.ErrorTypeNotFound))
	require.NoError(t, c.DropIndex(IndexName))
	assert.Nil(t, c.Index())
	assert.True(t, errors.IsType(c.DropIndex(IndexName), errors.ErrorTypeNotFound))
	assert.True(t, errors.IsType(c.ValidateIndex(ctx), errors.ErrorTypeNotFound))

	_, err = c.Find(ctx, bson.D{}, FindOptions{Projection: ext(t, `{"a": 1}`), Hint: columnStore})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	out, err := c.Find(ctx, bson.D{}, FindOptions{Projection: ext(t, `{"a": 1, "_id": 0}`)})
	require.NoError(t, err)
	assert.Equal(t, testutil.ExtDocs(t, []string{`{"a": 1}`}), out)
}

func TestSaveAndLoadIndex(t *testing.T) {
	docs := []string{
		`{"_id": 1, "a": [1, {"b": "x"}], "c": null}`,
		`{"_id": 2, "a": {"b": "y"}}`,
		`{"_id": 3}`,
	}
	src := newCollection(t, docs, true)
	ctx := context.Background()

	for _, alg := range compression.Algorithms {
		t.Run(string(alg), func(t *testing.T) {
			var buf bytes.Buffer
			m, err := src.SaveIndex(&buf, &compression.Config{Algorithm: alg, Level: compression.Default})
			require.NoError(t, err)
			assert.Equal(t, 3, m.Rows)

			dst := newCollection(t, docs, false)
			loaded, err := dst.LoadIndex(&buf)
			require.NoError(t, err)
			assert.Equal(t, alg, loaded.Algorithm)
			require.NoError(t, dst.ValidateIndex(ctx))

			want, err := src.Find(ctx, bson.D{}, FindOptions{Projection: ext(t, `{"a.b": 1}`)})
			require.NoError(t, err)
			got, err := dst.Find(ctx, bson.D{}, FindOptions{Projection: ext(t, `{"a.b": 1}`)})
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	t.Run("row mismatch", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := src.SaveIndex(&buf, compression.DefaultConfig())
		require.NoError(t, err)
		other := newCollection(t, docs[:2], false)
		_, err = other.LoadIndex(&buf)
		assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
		assert.Nil(t, other.Index())
	})
}

func TestValidateIndexDetectsDrift(t *testing.T) {
	c := newCollection(t, []string{`{"_id": 1, "a": 1}`, `{"_id": 2, "a": 2}`}, true)
	ctx := context.Background()

	// Write behind the collection's back.
	require.NoError(t, c.Index().Insert(c.RowIDs()[0], ext(t, `{"_id": 1, "a": 5}`)))
	err := c.ValidateIndex(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
}

func TestFindHonoursCancellation(t *testing.T) {
	c := newCollection(t, []string{`{"a": 1}`, `{"a": 2}`}, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Find(ctx, bson.D{}, FindOptions{Projection: ext(t, `{"a": 1}`)})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = c.Find(ctx, bson.D{}, FindOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
