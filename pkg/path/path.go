// Package path models canonical field paths.
//
// A Path is the ordered list of field names leading from a document's root
// to a value. Array positions are never components: arrays are traversed
// implicitly. Components may be empty, contain literal dots or start with
// '$', so the dotted rendering returned by String is for display only; Key is
// the lossless identity used to name columns.
package path

import (
	"sort"
	"strings"
)

const (
	keySeparator = "\x00"

	// RowIDKey names the dense row-existence column. It is not valid UTF-8
	// and can never be produced by Key.
	RowIDKey = "\xff"
)

// Path is a canonical field path.
type Path []string

// Parse splits a dotted user path on '.'. An empty string is the single
// empty-named field and "." is two empty-named fields.
func Parse(dotted string) Path {
	return Path(strings.Split(dotted, "."))
}

// FromKey is the inverse of Key.
func FromKey(key string) Path {
	return Path(strings.Split(key, keySeparator))
}

// Key returns the lossless column identity for p.
func (p Path) Key() string {
	return strings.Join(p, keySeparator)
}

// String renders p with dots.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Len returns the number of components.
func (p Path) Len() int { return len(p) }

// Equal reports whether p and q name the same path.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether q is a prefix of p (p itself included).
func (p Path) HasPrefix(q Path) bool {
	if len(q) > len(p) {
		return false
	}
	for i := range q {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// IsStrictPrefixOf reports whether p is a proper prefix of q.
func (p Path) IsStrictPrefixOf(q Path) bool {
	return len(p) < len(q) && q.HasPrefix(p)
}

// Prefix returns the first n components.
func (p Path) Prefix(n int) Path {
	return p[:n:n]
}

// Ancestors returns the proper prefixes of p, shortest first.
func (p Path) Ancestors() []Path {
	out := make([]Path, 0, len(p))
	for i := 1; i < len(p); i++ {
		out = append(out, p.Prefix(i))
	}
	return out
}

// Append returns a new path with extra components.
func (p Path) Append(components ...string) Path {
	out := make(Path, 0, len(p)+len(components))
	out = append(out, p...)
	return append(out, components...)
}

// DescendantKeyPrefix is the key prefix shared by every strict descendant of p.
func (p Path) DescendantKeyPrefix() string {
	return p.Key() + keySeparator
}

// IsNumeric reports whether component c is a non-empty string of ASCII
// digits, i.e. something a matcher may treat as an array index.
func IsNumeric(c string) bool {
	if c == "" {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < '0' || c[i] > '9' {
			return false
		}
	}
	return true
}

// TruncateAtNumeric returns p up to (excluding) its first numeric component.
// Positional paths like a.0.b depend on the whole of a.
func (p Path) TruncateAtNumeric() Path {
	for i, c := range p {
		if IsNumeric(c) {
			return p.Prefix(i)
		}
	}
	return p
}

// HasNumeric reports whether any component could be read as an array index.
func (p Path) HasNumeric() bool {
	for _, c := range p {
		if IsNumeric(c) {
			return true
		}
	}
	return false
}

// Simplify drops duplicates and every path that has another member as a
// prefix, since the prefix already brings the whole subtree. The result is
// ordered by key.
func Simplify(paths []Path) []Path {
	sorted := make([]Path, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if len(p) == 0 {
			continue
		}
		k := p.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })

	out := sorted[:0]
	for _, p := range sorted {
		covered := false
		for _, q := range out {
			if q.IsStrictPrefixOf(p) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	return out
}

// Strings renders paths with dots.
func Strings(paths []Path) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}
