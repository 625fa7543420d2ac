package aggregate

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
)

// Source yields the documents a pipeline consumes. Both the row scan and
// the column scan implement it.
type Source interface {
	Next() bool
	Document() bson.D
	Err() error
	Close() error
}

// checkEvery is how many source documents are read between context checks.
const checkEvery = 1024

// Execute drains src and runs stages over the result.
func Execute(ctx context.Context, stages []Stage, src Source, c collation.Collator) ([]bson.D, error) {
	defer src.Close()

	var docs []bson.D
	for n := 0; src.Next(); n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeQuery, "aggregation cancelled")
			}
		}
		docs = append(docs, src.Document())
	}
	if err := src.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "aggregation source failed")
	}
	return RunStages(ctx, stages, docs, c)
}

// RunStages applies stages in order to docs.
func RunStages(ctx context.Context, stages []Stage, docs []bson.D, c collation.Collator) ([]bson.D, error) {
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "aggregation cancelled")
		}
		switch s := st.(type) {
		case *MatchStage:
			kept := docs[:0:0]
			for _, d := range docs {
				if s.Filter.Matches(d, c) {
					kept = append(kept, d)
				}
			}
			docs = kept
		case *ProjectStage:
			out := make([]bson.D, len(docs))
			for i, d := range docs {
				out[i] = s.Projection.Apply(d)
			}
			docs = out
		case *GroupStage:
			docs = s.run(docs, c)
		case *CountStage:
			if len(docs) == 0 {
				docs = nil
				continue
			}
			docs = []bson.D{{{Key: s.Field, Value: narrowInt(int64(len(docs)))}}}
		case *SortStage:
			sorted := append([]bson.D(nil), docs...)
			sort.SliceStable(sorted, func(i, j int) bool {
				return compareByKeys(sorted[i], sorted[j], s.Keys, c) < 0
			})
			docs = sorted
		case *LimitStage:
			if int64(len(docs)) > s.N {
				docs = docs[:s.N]
			}
		case *SkipStage:
			if int64(len(docs)) <= s.N {
				docs = nil
			} else {
				docs = docs[s.N:]
			}
		default:
			return nil, errors.New(errors.ErrorTypeInternal, "unknown stage").
				WithDetail("stage", st.Name())
		}
	}
	return docs, nil
}

// compareByKeys orders two documents by sort keys. A missing value sorts
// as null. An array sorts by its smallest element ascending and by its
// largest element descending.
func compareByKeys(a, b bson.D, keys []SortKey, c collation.Collator) int {
	for _, k := range keys {
		av, _ := document.EvaluatePath(a, k.Path)
		bv, _ := document.EvaluatePath(b, k.Path)
		r := document.Compare(sortValue(av, k.Descending, c), sortValue(bv, k.Descending, c), c)
		if k.Descending {
			r = -r
		}
		if r != 0 {
			return r
		}
	}
	return 0
}

// sortValue picks the element an array sorts by. An empty array sorts
// before null.
func sortValue(v interface{}, descending bool, c collation.Collator) interface{} {
	arr, ok := v.(bson.A)
	if !ok {
		return v
	}
	if len(arr) == 0 {
		return primitive.Undefined{}
	}
	best := arr[0]
	for _, e := range arr[1:] {
		r := document.Compare(e, best, c)
		if descending && r > 0 || !descending && r < 0 {
			best = e
		}
	}
	return best
}

// SliceSource serves a fixed list of documents.
type SliceSource struct {
	docs []bson.D
	pos  int
}

// NewSliceSource returns a Source over docs.
func NewSliceSource(docs []bson.D) *SliceSource {
	return &SliceSource{docs: docs, pos: -1}
}

func (s *SliceSource) Next() bool {
	if s.pos+1 >= len(s.docs) {
		s.pos = len(s.docs)
		return false
	}
	s.pos++
	return true
}

func (s *SliceSource) Document() bson.D {
	if s.pos < 0 || s.pos >= len(s.docs) {
		return nil
	}
	return s.docs[s.pos]
}

func (s *SliceSource) Err() error   { return nil }
func (s *SliceSource) Close() error { return nil }
