// Package planner chooses between a column scan and a collection scan.
package planner

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
	"github.com/ajitpratap0/strata/pkg/query"
)

// Stage is a plan stage name as it appears in explain output.
type Stage string

const (
	StageColumnScan Stage = "COLUMN_SCAN"
	StageCollScan   Stage = "COLLSCAN"
)

// Reasons a column scan was not chosen.
const (
	ReasonDisabled        = "column scan disabled"
	ReasonNoIndex         = "no column store index"
	ReasonHintNatural     = "hinted $natural"
	ReasonWholeDocument   = "query needs whole documents"
	ReasonExclusion       = "exclusion projection"
	ReasonTooManyFields   = "too many fields"
	ReasonFilterWholeDocs = "filter needs whole documents"
)

// ColumnStoreHint is the index spec that forces a column scan.
var ColumnStoreHint = bson.D{{Key: "$**", Value: "columnstore"}}

// Options are the planner knobs.
type Options struct {
	EnableColumnScan bool `yaml:"enable_column_scan" json:"enable_column_scan"`
	// MaxFieldsUnfiltered caps the fields an unfiltered column scan may read.
	MaxFieldsUnfiltered int `yaml:"max_fields_unfiltered" json:"max_fields_unfiltered"`
	// MaxFieldsFiltered caps the fields a filtered column scan may read.
	MaxFieldsFiltered int `yaml:"max_fields_filtered" json:"max_fields_filtered"`
}

// DefaultOptions returns the default knobs.
func DefaultOptions() Options {
	return Options{
		EnableColumnScan:    true,
		MaxFieldsUnfiltered: 5,
		MaxFieldsFiltered:   12,
	}
}

// Request describes a query to plan.
type Request struct {
	Filter     *query.Filter
	Projection *query.Projection
	Hint       bson.D
	// HasIndex reports whether a live column store index exists.
	HasIndex bool
}

// Decision is the chosen plan.
type Decision struct {
	Stage  Stage
	Reason string
	Hinted bool
	Fields []path.Path
}

// Choose picks the plan for req. Shapes a column scan can not serve fall
// back to COLLSCAN with a reason; only an unusable hint is an error.
func Choose(req Request, opts Options) (Decision, error) {
	hinted := false
	switch {
	case len(req.Hint) == 0:
	case isNaturalHint(req.Hint):
		return Decision{Stage: StageCollScan, Reason: ReasonHintNatural, Hinted: true}, nil
	case isColumnStoreHint(req.Hint):
		if !req.HasIndex {
			return Decision{}, errors.New(errors.ErrorTypeNotFound, "hint does not correspond to an existing index").
				WithDetail("hint", req.Hint)
		}
		hinted = true
	default:
		return Decision{}, errors.New(errors.ErrorTypeValidation, "unsupported hint").
			WithDetail("hint", req.Hint)
	}

	reject := func(reason string) (Decision, error) {
		if hinted {
			return Decision{}, errors.New(errors.ErrorTypeCapability, "column store index can not serve this query").
				WithDetail("reason", reason)
		}
		return Decision{Stage: StageCollScan, Reason: reason}, nil
	}

	if !hinted {
		if !opts.EnableColumnScan {
			return reject(ReasonDisabled)
		}
		if !req.HasIndex {
			return reject(ReasonNoIndex)
		}
	}
	if req.Projection.IsExclusion() {
		return reject(ReasonExclusion)
	}
	if !req.Projection.IsInclusion() {
		return reject(ReasonWholeDocument)
	}

	fields := append([]path.Path(nil), req.Projection.Paths()...)
	filterPaths, whole := req.Filter.Paths()
	if whole {
		return reject(ReasonFilterWholeDocs)
	}
	for _, p := range filterPaths {
		if len(p) == 0 {
			return reject(ReasonFilterWholeDocs)
		}
	}
	fields = append(fields, filterPaths...)
	fields = path.Simplify(fields)

	if !hinted {
		limit := opts.MaxFieldsUnfiltered
		if !req.Filter.IsEmpty() {
			limit = opts.MaxFieldsFiltered
		}
		if limit > 0 && len(fields) > limit {
			return reject(ReasonTooManyFields)
		}
	}
	return Decision{Stage: StageColumnScan, Hinted: hinted, Fields: fields}, nil
}

func isNaturalHint(h bson.D) bool {
	return len(h) == 1 && h[0].Key == "$natural"
}

func isColumnStoreHint(h bson.D) bool {
	if len(h) != 1 {
		return false
	}
	s, ok := h[0].Value.(string)
	return h[0].Key == "$**" && ok && s == "columnstore"
}

// Explain wraps the winning plan in a queryPlanner document.
func Explain(d Decision, winning bson.D) bson.D {
	qp := bson.D{{Key: "winningPlan", Value: winning}}
	if d.Reason != "" {
		qp = append(qp, bson.E{Key: "columnScanRejected", Value: d.Reason})
	}
	if d.Hinted {
		qp = append(qp, bson.E{Key: "hinted", Value: true})
	}
	return bson.D{{Key: "queryPlanner", Value: qp}}
}
