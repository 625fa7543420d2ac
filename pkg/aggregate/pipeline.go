// Package aggregate parses and runs aggregation pipelines and works out how
// much of a pipeline a column scan can absorb.
package aggregate

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
	"github.com/ajitpratap0/strata/pkg/query"
)

// Stage is one pipeline stage.
type Stage interface {
	Name() string
	Render() bson.D
}

// MatchStage is $match.
type MatchStage struct{ Filter *query.Filter }

// ProjectStage is $project with a find-style projection.
type ProjectStage struct{ Projection *query.Projection }

// CountStage is $count.
type CountStage struct{ Field string }

// LimitStage is $limit.
type LimitStage struct{ N int64 }

// SkipStage is $skip.
type SkipStage struct{ N int64 }

// SortStage is $sort.
type SortStage struct{ Keys []SortKey }

func (s *MatchStage) Name() string   { return "$match" }
func (s *ProjectStage) Name() string { return "$project" }
func (s *CountStage) Name() string   { return "$count" }
func (s *LimitStage) Name() string   { return "$limit" }
func (s *SkipStage) Name() string    { return "$skip" }
func (s *SortStage) Name() string    { return "$sort" }

func (s *MatchStage) Render() bson.D {
	return bson.D{{Key: "$match", Value: s.Filter.Document()}}
}

func (s *ProjectStage) Render() bson.D {
	return bson.D{{Key: "$project", Value: s.Projection.Document()}}
}

func (s *CountStage) Render() bson.D { return bson.D{{Key: "$count", Value: s.Field}} }
func (s *LimitStage) Render() bson.D { return bson.D{{Key: "$limit", Value: s.N}} }
func (s *SkipStage) Render() bson.D  { return bson.D{{Key: "$skip", Value: s.N}} }

func (s *SortStage) Render() bson.D {
	return bson.D{{Key: "$sort", Value: renderSortKeys(s.Keys)}}
}

// Pipeline is a parsed aggregation pipeline.
type Pipeline struct {
	Stages []Stage
}

// Parse parses a pipeline given as an array of single-key stage documents.
func Parse(raw bson.A) (*Pipeline, error) {
	p := &Pipeline{}
	for i, item := range raw {
		d, ok := item.(bson.D)
		if !ok || len(d) != 1 {
			return nil, errors.New(errors.ErrorTypeValidation, "each pipeline stage must be a document with exactly one field").
				WithDetail("stage", i)
		}
		st, err := parseStage(d[0])
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid pipeline stage").
				WithDetail("stage", i).
				WithDetail("name", d[0].Key)
		}
		p.Stages = append(p.Stages, st)
	}
	return p, nil
}

// Render returns the pipeline in its document form.
func (p *Pipeline) Render() bson.A {
	return renderStages(p.Stages)
}

func renderStages(stages []Stage) bson.A {
	out := make(bson.A, 0, len(stages))
	for _, s := range stages {
		out = append(out, s.Render())
	}
	return out
}

func parseStage(e bson.E) (Stage, error) {
	switch e.Key {
	case "$match":
		d, ok := e.Value.(bson.D)
		if !ok {
			return nil, errors.New(errors.ErrorTypeValidation, "$match takes a document")
		}
		f, err := query.ParseFilter(d)
		if err != nil {
			return nil, err
		}
		return &MatchStage{Filter: f}, nil
	case "$project":
		d, ok := e.Value.(bson.D)
		if !ok || len(d) == 0 {
			return nil, errors.New(errors.ErrorTypeValidation, "$project takes a non-empty document")
		}
		proj, err := query.ParseProjection(d)
		if err != nil {
			return nil, err
		}
		return &ProjectStage{Projection: proj}, nil
	case "$group":
		d, ok := e.Value.(bson.D)
		if !ok {
			return nil, errors.New(errors.ErrorTypeValidation, "$group takes a document")
		}
		return parseGroup(d)
	case "$count":
		s, ok := e.Value.(string)
		if !ok || s == "" || s[0] == '$' || containsDot(s) {
			return nil, errors.New(errors.ErrorTypeValidation, "$count takes a non-empty field name without '$' or '.'")
		}
		return &CountStage{Field: s}, nil
	case "$sort":
		d, ok := e.Value.(bson.D)
		if !ok {
			return nil, errors.New(errors.ErrorTypeValidation, "$sort takes a document")
		}
		keys, err := parseSortKeys(d)
		if err != nil {
			return nil, err
		}
		return &SortStage{Keys: keys}, nil
	case "$limit", "$skip":
		n, ok := document.ToInt64(e.Value)
		if !ok || n < 0 || (e.Key == "$limit" && n == 0) {
			return nil, errors.New(errors.ErrorTypeValidation, "expected a non-negative integer").
				WithDetail("stage", e.Key)
		}
		if e.Key == "$limit" {
			return &LimitStage{N: n}, nil
		}
		return &SkipStage{N: n}, nil
	}
	return nil, errors.New(errors.ErrorTypeCapability, "unsupported pipeline stage").
		WithDetail("stage", e.Key)
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}

// SortKey is one $sort component.
type SortKey struct {
	Path       path.Path
	Descending bool
}

func parseSortKeys(d bson.D) ([]SortKey, error) {
	if len(d) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "sort specification is empty")
	}
	keys := make([]SortKey, 0, len(d))
	for _, e := range d {
		dir, ok := document.ToInt64(e.Value)
		if !ok || (dir != 1 && dir != -1) {
			return nil, errors.New(errors.ErrorTypeValidation, "sort direction must be 1 or -1").
				WithDetail("path", e.Key)
		}
		keys = append(keys, SortKey{Path: path.Parse(e.Key), Descending: dir == -1})
	}
	return keys, nil
}

func renderSortKeys(keys []SortKey) bson.D {
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		dir := int32(1)
		if k.Descending {
			dir = -1
		}
		out = append(out, bson.E{Key: k.Path.String(), Value: dir})
	}
	return out
}
