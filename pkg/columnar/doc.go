// Package columnar implements the column store index: a secondary
// representation of a collection that keeps every field path of every
// document in its own row-ordered column.
//
// # Write path
//
// Shred decomposes a document into one Cell per reachable path. A cell
// records the structure between the document root and the path as a compact
// shape string plus the scalar values found at the path:
//
//	{a: [{b: 1}, 2, {c: 3}]}   path a.b   shape o0 [3 o0 v _ _   values [1]
//
// Arrays are traversed at every depth and recorded with their length, so the
// set of all cells of a document reassembles it exactly.
//
// # Read path
//
// Index.Scan returns a lazy, forward-only Cursor over one column in RowID
// order. An Assembler merges the cells a reader collected for one row into a
// partial document. To rebuild the value at a path R, feed it the cells of R,
// of every proper prefix of R (Index.Closure computes this set) and of every
// descendant of R; the result agrees with the stored document everywhere a
// projection or matcher on R looks.
//
// # Row existence
//
// Every live document has an entry in the dense row-id column (ScanRowIDs),
// so scans anchored on it produce one row per document even when a document
// has none of the requested paths.
package columnar
