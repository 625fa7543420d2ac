package aggregate

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/path"
	"github.com/ajitpratap0/strata/pkg/query"
)

// Pushdown is the part of a pipeline a scan can absorb.
type Pushdown struct {
	// Filter combines the leading $match stages. Never nil.
	Filter *query.Filter
	// Projection narrows the scan to the paths the rest of the pipeline
	// reads. Nil when the pipeline needs whole documents.
	Projection *query.Projection
	// ExtraFieldsPermitted is true when Projection was derived from
	// dependencies, so the scan may return its partial documents as is.
	ExtraFieldsPermitted bool
	// Remaining are the stages left to run on the scan output.
	Remaining []Stage
}

// Optimize rewrites the pipeline in place. A $sort immediately followed by
// a $group whose accumulators are all $first or $last becomes a single
// $group using $top and $bottom with the sort as sortBy.
func (p *Pipeline) Optimize() {
	var out []Stage
	for i := 0; i < len(p.Stages); i++ {
		sortStage, isSort := p.Stages[i].(*SortStage)
		if isSort && i+1 < len(p.Stages) {
			if g, ok := p.Stages[i+1].(*GroupStage); ok {
				if rewritten, ok := absorbSort(sortStage, g); ok {
					out = append(out, rewritten)
					i++
					continue
				}
			}
		}
		out = append(out, p.Stages[i])
	}
	p.Stages = out
}

func absorbSort(s *SortStage, g *GroupStage) (*GroupStage, bool) {
	if len(g.Accumulators) == 0 {
		return nil, false
	}
	accs := make([]Accumulator, len(g.Accumulators))
	for i, a := range g.Accumulators {
		switch a.Op {
		case AccFirst:
			accs[i] = Accumulator{Field: a.Field, Op: AccTop, Arg: a.Arg, SortBy: s.Keys}
		case AccLast:
			accs[i] = Accumulator{Field: a.Field, Op: AccBottom, Arg: a.Arg, SortBy: s.Keys}
		default:
			return nil, false
		}
	}
	return &GroupStage{ID: g.ID, Accumulators: accs}, true
}

// Analyze splits the pipeline for a scan. Leading $match stages become the
// scan filter. Dependencies are then collected up to the first $group or
// $count, or an inclusion $project, whichever comes first; a leading
// inclusion $project directly becomes the scan projection.
func (p *Pipeline) Analyze() *Pushdown {
	pd := &Pushdown{}
	i := 0
	var filters []*query.Filter
	for ; i < len(p.Stages); i++ {
		m, ok := p.Stages[i].(*MatchStage)
		if !ok {
			break
		}
		if !m.Filter.IsEmpty() {
			filters = append(filters, m.Filter)
		}
	}
	pd.Filter = combineFilters(filters)
	pd.Remaining = p.Stages[i:]

	if len(pd.Remaining) > 0 {
		if ps, ok := pd.Remaining[0].(*ProjectStage); ok && ps.Projection.IsInclusion() {
			pd.Projection = ps.Projection
			pd.Remaining = pd.Remaining[1:]
			return pd
		}
	}

	deps, finite := dependencies(pd.Remaining)
	if !finite {
		return pd
	}
	pd.Projection = query.InclusionOf(deps, false)
	pd.ExtraFieldsPermitted = true
	return pd
}

func combineFilters(filters []*query.Filter) *query.Filter {
	switch len(filters) {
	case 0:
		return query.MatchAll()
	case 1:
		return filters[0]
	}
	docs := make(bson.A, len(filters))
	for i, f := range filters {
		docs[i] = f.Document()
	}
	return query.MustParseFilter(bson.D{{Key: "$and", Value: docs}})
}

// dependencies returns the paths stages read before their output stops
// depending on the input documents. finite is false when the documents
// flow to the end of the pipeline or an expression needs them whole.
func dependencies(stages []Stage) ([]path.Path, bool) {
	deps, finite := collectDependencies(stages)
	for _, d := range deps {
		// An empty path stands for the whole document.
		if len(d) == 0 {
			return nil, false
		}
	}
	return deps, finite
}

func collectDependencies(stages []Stage) (deps []path.Path, finite bool) {
	for _, st := range stages {
		switch s := st.(type) {
		case *MatchStage:
			ps, whole := s.Filter.Paths()
			if whole {
				return nil, false
			}
			deps = append(deps, ps...)
		case *SortStage:
			for _, k := range s.Keys {
				deps = append(deps, k.Path)
			}
		case *LimitStage, *SkipStage:
		case *ProjectStage:
			if !s.Projection.IsInclusion() {
				return nil, false
			}
			return append(deps, s.Projection.Paths()...), true
		case *GroupStage:
			ps, whole := s.Dependencies()
			if whole {
				return nil, false
			}
			return append(deps, ps...), true
		case *CountStage:
			return deps, true
		default:
			return nil, false
		}
	}
	return nil, false
}
