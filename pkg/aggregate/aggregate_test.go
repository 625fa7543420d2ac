package aggregate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/columnscan"
	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
	"github.com/ajitpratap0/strata/pkg/testutil"
)

func pipeline(t *testing.T, ext string) *Pipeline {
	t.Helper()
	var wrapper bson.D
	require.NoError(t, bson.UnmarshalExtJSON([]byte(`{"p": `+ext+`}`), false, &wrapper))
	norm, err := document.Normalize(wrapper)
	require.NoError(t, err)
	p, err := Parse(norm[0].Value.(bson.A))
	require.NoError(t, err)
	return p
}

func run(t *testing.T, p *Pipeline, docs []bson.D) []bson.D {
	t.Helper()
	out, err := Execute(context.Background(), p.Stages, NewSliceSource(docs), nil)
	require.NoError(t, err)
	return out
}

const groupByABC = `[{"$group": {"_id": "$a.b.c", "docs": {"$push": "$num"}}}]`

// assertBuckets checks group output against the expected buckets,
// keying groups by value so group order does not matter.
func assertBuckets(t *testing.T, want []testutil.GroupBucket, got []bson.D) {
	t.Helper()
	gotByKey := make(map[string]bson.A, len(got))
	for _, g := range got {
		gotByKey[document.HashKey(g[0].Value, nil)] = g[1].Value.(bson.A)
	}
	total := 0
	for _, b := range want {
		key := document.HashKey(testutil.ExtValue(t, b.ID), nil)
		docs, ok := gotByKey[key]
		if !assert.True(t, ok, "missing bucket %s", b.ID) {
			continue
		}
		nums := make([]int, len(docs))
		for i, d := range docs {
			n, _ := document.ToInt64(d)
			nums[i] = int(n)
		}
		assert.Equal(t, b.Nums, nums, "bucket %s", b.ID)
		total += len(b.Nums)
	}
	assert.Len(t, got, len(want))
	assert.Equal(t, len(testutil.GroupByABCDocs), total)
}

func TestGroupByABCRowScan(t *testing.T) {
	docs := testutil.ExtDocs(t, testutil.GroupByABCDocs)
	assertBuckets(t, testutil.GroupByABCBuckets, run(t, pipeline(t, groupByABC), docs))
}

func TestGroupByABCColumnScan(t *testing.T) {
	docs := testutil.ExtDocs(t, testutil.GroupByABCDocs)
	idx := testutil.BuildIndex(t, docs)

	p := pipeline(t, groupByABC)
	p.Optimize()
	pd := p.Analyze()
	require.NotNil(t, pd.Projection)
	assert.True(t, pd.ExtraFieldsPermitted)
	assert.Equal(t, []string{"a.b.c", "num"}, path.Strings(pd.Projection.Paths()))

	exec, err := columnscan.New(idx, columnscan.Options{
		Projection:           pd.Projection,
		Filter:               pd.Filter,
		ExtraFieldsPermitted: pd.ExtraFieldsPermitted,
		Logger:               testutil.TestLogger(t),
	})
	require.NoError(t, err)
	out, err := Execute(context.Background(), pd.Remaining, exec, nil)
	require.NoError(t, err)
	assertBuckets(t, testutil.GroupByABCBuckets, out)

	// The scan never opened columns outside the closure of the two paths.
	for _, f := range exec.Explain() {
		if f.Key == "allFields" {
			assert.Equal(t, bson.A{"a.b.c", "num"}, f.Value)
		}
	}
}

func TestNestedArrayGroup(t *testing.T) {
	docs := testutil.ExtDocs(t, []string{
		`{"num": 0, "a": [[{"b": 1}]]}`,
		`{"num": 1, "a": [{"b": 1}]}`,
	})
	out := run(t, pipeline(t, `[{"$group": {"_id": "$a.b", "docs": {"$push": "$num"}}}]`), docs)
	assert.Equal(t, []bson.D{
		{{Key: "_id", Value: bson.A{}}, {Key: "docs", Value: bson.A{int32(0)}}},
		{{Key: "_id", Value: bson.A{int32(1)}}, {Key: "docs", Value: bson.A{int32(1)}}},
	}, out)
}

func TestAccumulators(t *testing.T) {
	docs := testutil.ExtDocs(t, []string{
		`{"k": 1, "v": 3, "s": "b"}`,
		`{"k": 1, "v": 1.5, "s": "a"}`,
		`{"k": 1, "s": "c"}`,
		`{"k": 1, "v": null, "s": "a"}`,
		`{"k": 2, "v": {"$numberLong": "4"}, "s": "z"}`,
	})
	p := pipeline(t, `[{"$group": {
		"_id": "$k",
		"sum": {"$sum": "$v"},
		"avg": {"$avg": "$v"},
		"min": {"$min": "$v"},
		"max": {"$max": "$s"},
		"push": {"$push": "$v"},
		"set": {"$addToSet": "$s"},
		"first": {"$first": "$v"},
		"last": {"$last": "$v"},
		"n": {"$count": {}},
		"top": {"$top": {"output": "$s", "sortBy": {"v": -1}}},
		"bottom": {"$bottom": {"output": "$s", "sortBy": {"v": -1}}}
	}}]`)
	out := run(t, p, docs)
	require.Len(t, out, 2)

	assert.Equal(t, bson.D{
		{Key: "_id", Value: int32(1)},
		{Key: "sum", Value: 4.5},
		{Key: "avg", Value: 2.25},
		{Key: "min", Value: 1.5},
		{Key: "max", Value: "c"},
		{Key: "push", Value: bson.A{int32(3), 1.5, nil}},
		{Key: "set", Value: bson.A{"b", "a", "c"}},
		{Key: "first", Value: int32(3)},
		{Key: "last", Value: nil},
		{Key: "n", Value: int32(4)},
		{Key: "top", Value: "b"},
		{Key: "bottom", Value: "a"},
	}, out[0])
	assert.Equal(t, int64(4), out[1][1].Value)
}

func TestTopKAbsorption(t *testing.T) {
	docs := testutil.ExtDocs(t, []string{
		`{"g": "x", "t": 3, "v": "late"}`,
		`{"g": "x", "t": 1, "v": "early"}`,
		`{"g": "y", "t": 2, "v": "only"}`,
		`{"g": "x", "t": 1, "v": "early-tie"}`,
		`{"g": "x", "t": 3, "v": "late-tie"}`,
	})
	const ext = `[
		{"$sort": {"t": 1}},
		{"$group": {"_id": "$g", "first": {"$first": "$v"}, "last": {"$last": "$v"}}}
	]`
	plain := run(t, pipeline(t, ext), docs)

	p := pipeline(t, ext)
	p.Optimize()
	require.Len(t, p.Stages, 1)
	g := p.Stages[0].(*GroupStage)
	assert.Equal(t, AccTop, g.Accumulators[0].Op)
	assert.Equal(t, AccBottom, g.Accumulators[1].Op)
	assert.Equal(t,
		bson.D{{Key: "$top", Value: bson.D{{Key: "output", Value: "$v"}, {Key: "sortBy", Value: bson.D{{Key: "t", Value: int32(1)}}}}}},
		g.Render()[0].Value.(bson.D)[1].Value)

	absorbed := run(t, p, docs)
	byID := func(ds []bson.D) map[interface{}]bson.D {
		m := make(map[interface{}]bson.D)
		for _, d := range ds {
			m[d[0].Value] = d
		}
		return m
	}
	assert.Equal(t, byID(plain), byID(absorbed))
	assert.Equal(t, "early", byID(absorbed)["x"][1].Value)
	assert.Equal(t, "late-tie", byID(absorbed)["x"][2].Value)

	pd := p.Analyze()
	assert.Equal(t, []string{"g", "t", "v"}, path.Strings(pd.Projection.Paths()))
}

func TestOptimizeLeavesOtherGroups(t *testing.T) {
	p := pipeline(t, `[{"$sort": {"t": 1}}, {"$group": {"_id": null, "f": {"$first": "$v"}, "s": {"$sum": 1}}}]`)
	p.Optimize()
	assert.Len(t, p.Stages, 2)
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name      string
		pipeline  string
		filter    bson.D
		paths     []string
		extra     bool
		remaining int
		whole     bool
	}{
		{
			name:      "match then group",
			pipeline:  `[{"$match": {"a": 1}}, {"$match": {"b": 2}}, {"$group": {"_id": "$c", "n": {"$sum": "$d.e"}}}]`,
			filter:    bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "a", Value: int32(1)}}, bson.D{{Key: "b", Value: int32(2)}}}}},
			paths:     []string{"c", "d.e"},
			extra:     true,
			remaining: 1,
		},
		{
			name:      "leading project is absorbed",
			pipeline:  `[{"$match": {"a": 1}}, {"$project": {"x": 1, "_id": 0}}, {"$group": {"_id": "$x"}}]`,
			filter:    bson.D{{Key: "a", Value: int32(1)}},
			paths:     []string{"x"},
			remaining: 1,
		},
		{
			name:      "count needs nothing",
			pipeline:  `[{"$match": {"a": 1}}, {"$count": "n"}]`,
			filter:    bson.D{{Key: "a", Value: int32(1)}},
			paths:     []string{},
			extra:     true,
			remaining: 1,
		},
		{
			name:      "group on _id",
			pipeline:  `[{"$sort": {"s": 1}}, {"$limit": 3}, {"$group": {"_id": "$_id"}}]`,
			filter:    bson.D{},
			paths:     []string{"s", "_id"},
			extra:     true,
			remaining: 3,
		},
		{
			name:      "no group",
			pipeline:  `[{"$match": {"a": 1}}, {"$sort": {"s": 1}}]`,
			filter:    bson.D{{Key: "a", Value: int32(1)}},
			remaining: 1,
			whole:     true,
		},
		{
			name:      "root needed",
			pipeline:  `[{"$group": {"_id": null, "docs": {"$push": "$$ROOT"}}}]`,
			filter:    bson.D{},
			remaining: 1,
			whole:     true,
		},
		{
			name:      "positional match dependency",
			pipeline:  `[{"$group": {"_id": "$k"}}, {"$match": {"a.0": 1}}]`,
			filter:    bson.D{},
			paths:     []string{"k"},
			extra:     true,
			remaining: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pipeline(t, tt.pipeline)
			p.Optimize()
			pd := p.Analyze()
			assert.Equal(t, tt.filter, pd.Filter.Document())
			assert.Len(t, pd.Remaining, tt.remaining)
			if tt.whole {
				assert.Nil(t, pd.Projection)
				return
			}
			require.NotNil(t, pd.Projection)
			assert.Equal(t, tt.paths, path.Strings(pd.Projection.Paths()))
			assert.Equal(t, tt.extra, pd.ExtraFieldsPermitted)
		})
	}
}

func TestStages(t *testing.T) {
	docs := testutil.ExtDocs(t, []string{
		`{"_id": 1, "a": 3, "b": "x"}`,
		`{"_id": 2, "a": 1, "b": "y"}`,
		`{"_id": 3, "b": "z"}`,
		`{"_id": 4, "a": 2, "b": "w"}`,
	})
	tests := []struct {
		name     string
		pipeline string
		want     []string
	}{
		{name: "sort desc missing last", pipeline: `[{"$sort": {"a": -1}}, {"$project": {"_id": 1}}]`, want: []string{`{"_id": 1}`, `{"_id": 4}`, `{"_id": 2}`, `{"_id": 3}`}},
		{name: "skip and limit", pipeline: `[{"$skip": 1}, {"$limit": 2}, {"$project": {"b": 1, "_id": 0}}]`, want: []string{`{"b": "y"}`, `{"b": "z"}`}},
		{name: "skip everything", pipeline: `[{"$skip": 10}]`, want: nil},
		{name: "match then count", pipeline: `[{"$match": {"a": {"$gte": 2}}}, {"$count": "n"}]`, want: []string{`{"n": 2}`}},
		{name: "count nothing", pipeline: `[{"$match": {"a": 100}}, {"$count": "n"}]`, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, pipeline(t, tt.pipeline), docs)
			if tt.want == nil {
				assert.Empty(t, out)
				return
			}
			assert.Equal(t, testutil.ExtDocs(t, tt.want), out)
		})
	}
}

func TestSortArrayKeys(t *testing.T) {
	docs := testutil.ExtDocs(t, []string{
		`{"_id": 1, "a": [5, 1]}`,
		`{"_id": 2, "a": 3}`,
		`{"_id": 3, "a": [4, 2]}`,
		`{"_id": 4, "a": []}`,
		`{"_id": 5}`,
	})
	ids := func(ds []bson.D) []interface{} {
		out := make([]interface{}, len(ds))
		for i, d := range ds {
			out[i] = d[0].Value
		}
		return out
	}

	// Ascending uses the smallest element, descending the largest; an empty
	// array sorts before null either way round.
	asc := run(t, pipeline(t, `[{"$sort": {"a": 1}}]`), docs)
	assert.Equal(t, []interface{}{int32(4), int32(5), int32(1), int32(3), int32(2)}, ids(asc))

	desc := run(t, pipeline(t, `[{"$sort": {"a": -1}}]`), docs)
	assert.Equal(t, []interface{}{int32(1), int32(3), int32(2), int32(5), int32(4)}, ids(desc))

	for _, dir := range []string{"1", "-1"} {
		t.Run("absorbed "+dir, func(t *testing.T) {
			ext := `[{"$sort": {"a": ` + dir + `}}, {"$group": {"_id": null, "f": {"$first": "$_id"}, "l": {"$last": "$_id"}}}]`
			plain := run(t, pipeline(t, ext), docs)
			p := pipeline(t, ext)
			p.Optimize()
			require.Len(t, p.Stages, 1)
			assert.Equal(t, plain, run(t, p, docs))
		})
	}
	absorbed := pipeline(t, `[{"$sort": {"a": -1}}, {"$group": {"_id": null, "f": {"$first": "$_id"}, "l": {"$last": "$_id"}}}]`)
	absorbed.Optimize()
	out := run(t, absorbed, docs)
	require.Len(t, out, 1)
	assert.Equal(t, int32(1), out[0][1].Value)
	assert.Equal(t, int32(4), out[0][2].Value)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		pipeline bson.A
		errType  errors.ErrorType
	}{
		{name: "not a document", pipeline: bson.A{int32(1)}},
		{name: "two keys", pipeline: bson.A{bson.D{{Key: "$match", Value: bson.D{}}, {Key: "$limit", Value: 1}}}},
		{name: "unknown stage", pipeline: bson.A{bson.D{{Key: "$lookup", Value: bson.D{}}}}, errType: errors.ErrorTypeCapability},
		{name: "group without _id", pipeline: bson.A{bson.D{{Key: "$group", Value: bson.D{{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}}}}}}},
		{name: "unknown accumulator", pipeline: bson.A{bson.D{{Key: "$group", Value: bson.D{{Key: "_id", Value: nil}, {Key: "n", Value: bson.D{{Key: "$stdDevPop", Value: "$a"}}}}}}}, errType: errors.ErrorTypeCapability},
		{name: "bad limit", pipeline: bson.A{bson.D{{Key: "$limit", Value: 0}}}},
		{name: "bad sort", pipeline: bson.A{bson.D{{Key: "$sort", Value: bson.D{{Key: "a", Value: 2}}}}}},
		{name: "bad count", pipeline: bson.A{bson.D{{Key: "$count", Value: "a.b"}}}},
		{name: "exclusion mixed", pipeline: bson.A{bson.D{{Key: "$project", Value: bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 0}}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.pipeline)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), err.Error())
			if tt.errType != "" {
				assert.True(t, errors.HasType(err, tt.errType), err.Error())
			}
		})
	}
}

func TestExecuteHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Execute(ctx, nil, NewSliceSource([]bson.D{{}}), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
