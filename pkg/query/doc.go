// Package query holds the find language shared by the row scan and the
// column scan: projections, filters and aggregation expressions.
//
// Both plans evaluate exactly the same code. The column scan feeds it partial
// documents rebuilt from the column store, the row scan feeds it stored
// documents, so any difference in results is a reconstruction bug.
package query
