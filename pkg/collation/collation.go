// Package collation turns a collation document into a string comparator.
//
// A nil Collator means binary (simple) comparison everywhere in the engine.
package collation

import (
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// SimpleLocale selects binary comparison.
const SimpleLocale = "simple"

// Collator compares strings under a locale's rules.
type Collator interface {
	// Compare returns -1, 0 or 1.
	Compare(a, b string) int
	// Key returns a sort key; equal keys mean Compare returns 0.
	Key(s string) []byte
}

// Spec is the user-facing collation document.
type Spec struct {
	Locale          string `bson:"locale" json:"locale" yaml:"locale"`
	CaseLevel       bool   `bson:"caseLevel,omitempty" json:"caseLevel,omitempty" yaml:"caseLevel,omitempty"`
	CaseFirst       string `bson:"caseFirst,omitempty" json:"caseFirst,omitempty" yaml:"caseFirst,omitempty"`
	Strength        int    `bson:"strength,omitempty" json:"strength,omitempty" yaml:"strength,omitempty"`
	NumericOrdering bool   `bson:"numericOrdering,omitempty" json:"numericOrdering,omitempty" yaml:"numericOrdering,omitempty"`
	Alternate       string `bson:"alternate,omitempty" json:"alternate,omitempty" yaml:"alternate,omitempty"`
	MaxVariable     string `bson:"maxVariable,omitempty" json:"maxVariable,omitempty" yaml:"maxVariable,omitempty"`
	Normalization   bool   `bson:"normalization,omitempty" json:"normalization,omitempty" yaml:"normalization,omitempty"`
	Backwards       bool   `bson:"backwards,omitempty" json:"backwards,omitempty" yaml:"backwards,omitempty"`
}

// FromDocument parses and validates a collation document.
func FromDocument(doc bson.D) (*Spec, error) {
	spec := &Spec{}
	for _, e := range doc {
		var err error
		switch e.Key {
		case "locale":
			spec.Locale, err = stringField(e)
		case "caseLevel":
			spec.CaseLevel, err = boolField(e)
		case "caseFirst":
			spec.CaseFirst, err = stringField(e)
		case "strength":
			spec.Strength, err = intField(e)
		case "numericOrdering":
			spec.NumericOrdering, err = boolField(e)
		case "alternate":
			spec.Alternate, err = stringField(e)
		case "maxVariable":
			spec.MaxVariable, err = stringField(e)
		case "normalization":
			spec.Normalization, err = boolField(e)
		case "backwards":
			spec.Backwards, err = boolField(e)
		default:
			err = errors.Newf(errors.ErrorTypeValidation, "unknown collation option %q", e.Key)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks option values.
func (s *Spec) Validate() error {
	if s.Locale == "" {
		return errors.New(errors.ErrorTypeValidation, "collation requires a locale")
	}
	if s.Locale == SimpleLocale {
		if s.CaseLevel || s.CaseFirst != "" || s.Strength != 0 || s.NumericOrdering ||
			s.Alternate != "" || s.MaxVariable != "" || s.Normalization || s.Backwards {
			return errors.New(errors.ErrorTypeValidation, "the simple locale accepts no other collation options")
		}
		return nil
	}
	if _, err := language.Parse(normalizeLocale(s.Locale)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid collation locale").
			WithDetail("locale", s.Locale)
	}
	if s.Strength != 0 && (s.Strength < 1 || s.Strength > 5) {
		return errors.New(errors.ErrorTypeValidation, "collation strength must be between 1 and 5").
			WithDetail("strength", s.Strength)
	}
	switch s.CaseFirst {
	case "", "upper", "lower", "off":
	default:
		return errors.Newf(errors.ErrorTypeValidation, "invalid caseFirst %q", s.CaseFirst)
	}
	switch s.Alternate {
	case "", "non-ignorable", "shifted":
	default:
		return errors.Newf(errors.ErrorTypeValidation, "invalid alternate %q", s.Alternate)
	}
	switch s.MaxVariable {
	case "", "punct", "space":
	default:
		return errors.Newf(errors.ErrorTypeValidation, "invalid maxVariable %q", s.MaxVariable)
	}
	return nil
}

// IsSimple reports whether s selects binary comparison.
func (s *Spec) IsSimple() bool {
	return s == nil || s.Locale == SimpleLocale
}

// EffectiveStrength returns the strength with the ICU default applied.
func (s *Spec) EffectiveStrength() int {
	if s.Strength == 0 {
		return 3
	}
	return s.Strength
}

// Document renders s for explain output.
func (s *Spec) Document() bson.D {
	if s == nil {
		return nil
	}
	doc := bson.D{{Key: "locale", Value: s.Locale}}
	if s.IsSimple() {
		return doc
	}
	return append(doc,
		bson.E{Key: "caseLevel", Value: s.CaseLevel},
		bson.E{Key: "caseFirst", Value: orDefault(s.CaseFirst, "off")},
		bson.E{Key: "strength", Value: int32(s.EffectiveStrength())},
		bson.E{Key: "numericOrdering", Value: s.NumericOrdering},
		bson.E{Key: "alternate", Value: orDefault(s.Alternate, "non-ignorable")},
		bson.E{Key: "maxVariable", Value: orDefault(s.MaxVariable, "punct")},
		bson.E{Key: "normalization", Value: s.Normalization},
		bson.E{Key: "backwards", Value: s.Backwards},
	)
}

// New builds a Collator for s. It returns nil for the simple locale.
func New(s *Spec) (Collator, error) {
	if s.IsSimple() {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var ext []string
	if s.Alternate == "shifted" {
		ext = append(ext, "ka-shifted")
	}
	if s.Backwards {
		ext = append(ext, "kb-true")
	}
	if s.CaseFirst == "upper" || s.CaseFirst == "lower" {
		ext = append(ext, "kf-"+s.CaseFirst)
	}
	if s.MaxVariable != "" {
		ext = append(ext, "kv-"+s.MaxVariable)
	}
	tagText := normalizeLocale(s.Locale)
	if len(ext) > 0 {
		tagText += "-u-" + strings.Join(ext, "-")
	}
	tag, err := language.Parse(tagText)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid collation locale").
			WithDetail("locale", s.Locale)
	}

	opts := []collate.Option{collate.OptionsFromTag(tag)}
	switch s.EffectiveStrength() {
	case 1:
		if s.CaseLevel {
			opts = append(opts, collate.IgnoreDiacritics)
		} else {
			opts = append(opts, collate.IgnoreCase, collate.IgnoreDiacritics, collate.IgnoreWidth)
		}
	case 2:
		if !s.CaseLevel {
			opts = append(opts, collate.IgnoreCase)
		}
	}
	if s.NumericOrdering {
		opts = append(opts, collate.Numeric)
	}

	return &icuCollator{c: collate.New(tag, opts...)}, nil
}

// MustNew is New for tests and static specs.
func MustNew(s *Spec) Collator {
	c, err := New(s)
	if err != nil {
		panic(err)
	}
	return c
}

// icuCollator serialises access to an x/text collator, which keeps scratch
// buffers and is not safe for concurrent use.
type icuCollator struct {
	mu  sync.Mutex
	c   *collate.Collator
	buf collate.Buffer
}

func (c *icuCollator) Compare(a, b string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c.CompareString(a, b)
}

func (c *icuCollator) Key(s string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	k := c.c.KeyFromString(&c.buf, s)
	out := make([]byte, len(k))
	copy(out, k)
	return out
}

func normalizeLocale(locale string) string {
	return strings.ReplaceAll(locale, "_", "-")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func stringField(e bson.E) (string, error) {
	s, ok := e.Value.(string)
	if !ok {
		return "", errors.Newf(errors.ErrorTypeValidation, "collation option %q must be a string", e.Key)
	}
	return s, nil
}

func boolField(e bson.E) (bool, error) {
	b, ok := e.Value.(bool)
	if !ok {
		return false, errors.Newf(errors.ErrorTypeValidation, "collation option %q must be a boolean", e.Key)
	}
	return b, nil
}

func intField(e bson.E) (int, error) {
	switch v := e.Value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	}
	return 0, errors.Newf(errors.ErrorTypeValidation, "collation option %q must be an integer", e.Key).
		WithDetail("value", e.Value)
}
