package query

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/path"
)

// PathFilter groups the pushed-down conjuncts that read a single path.
type PathFilter struct {
	Path  path.Path
	Exprs []Expr
}

// Matches reports whether doc satisfies every conjunct.
func (pf *PathFilter) Matches(doc bson.D, c collation.Collator) bool {
	for _, e := range pf.Exprs {
		if !e.Matches(doc, c) {
			return false
		}
	}
	return true
}

// Render returns the conjuncts as a single predicate document.
func (pf *PathFilter) Render() bson.D {
	return (&AndExpr{Children: pf.Exprs}).Render()
}

// Split is a filter divided for the column scan.
type Split struct {
	// PerPath holds predicates that read a single path without positional
	// components, ordered by path.
	PerPath []*PathFilter
	// Residual holds everything else and runs on the assembled output.
	// It is nil when every conjunct was pushed down.
	Residual Expr
}

// ResidualPaths returns the paths the residual needs.
func (s *Split) ResidualPaths() ([]path.Path, bool) {
	if s.Residual == nil {
		return nil, false
	}
	return s.Residual.Paths()
}

// Split divides the top-level conjuncts of f. A conjunct is pushed down
// when it reads exactly one path with no numeric component: a plain field
// predicate, or an $or/$nor whose branches all read that same path.
func (f *Filter) Split() *Split {
	s := &Split{}
	byKey := make(map[string]*PathFilter)
	var residual []Expr

	for _, clause := range f.Clauses() {
		p, ok := singlePath(clause)
		if !ok {
			residual = append(residual, clause)
			continue
		}
		pf, exists := byKey[p.Key()]
		if !exists {
			pf = &PathFilter{Path: p}
			byKey[p.Key()] = pf
			s.PerPath = append(s.PerPath, pf)
		}
		pf.Exprs = append(pf.Exprs, clause)
	}
	sort.Slice(s.PerPath, func(i, j int) bool {
		return s.PerPath[i].Path.Key() < s.PerPath[j].Path.Key()
	})

	switch len(residual) {
	case 0:
	case 1:
		s.Residual = residual[0]
	default:
		s.Residual = &AndExpr{Children: residual}
	}
	return s
}

func singlePath(e Expr) (path.Path, bool) {
	switch x := e.(type) {
	case *PathExpr:
		if x.Path.HasNumeric() {
			return nil, false
		}
		return x.Path, true
	case *OrExpr:
		return sharedPath(x.Children)
	case *NorExpr:
		return sharedPath(x.Children)
	case *AndExpr:
		return sharedPath(x.Children)
	}
	return nil, false
}

func sharedPath(children []Expr) (path.Path, bool) {
	var shared path.Path
	for i, ch := range children {
		p, ok := singlePath(ch)
		if !ok {
			return nil, false
		}
		if i == 0 {
			shared = p
		} else if !shared.Equal(p) {
			return nil, false
		}
	}
	return shared, shared != nil
}
