package columnar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
)

func mustDoc(t *testing.T, ext string) bson.D {
	t.Helper()
	var d bson.D
	require.NoError(t, bson.UnmarshalExtJSON([]byte(ext), false, &d))
	out, err := document.Normalize(d)
	require.NoError(t, err)
	return out
}

var roundTripDocs = []string{
	`{}`,
	`{"a": 1}`,
	`{"a": {"b": {"c": "x"}}, "z": null}`,
	`{"a": [1, {"b": 2}, [3, {"b": 4}], [], {}]}`,
	`{"a": [[{"b": [[1, 2], [{}], 2]}]]}`,
	`{"a": {"b.c": 1, "$d": {"": 2}}, "": {"": [null]}}`,
	`{"a": [{"b": [{"c": 1}, {"c": [1, 2]}]}, {"b": {"c": {"d": true}}}]}`,
	`{"_id": {"$oid": "5f1b0c0c0c0c0c0c0c0c0c0c"}, "d": {"$date": "2020-01-01T00:00:00Z"}, "n": {"$numberDecimal": "1.50"}}`,
	`{"a": [{}, {"x": 1}, {"b": null}]}`,
}

func TestShredAssembleRoundTrip(t *testing.T) {
	for _, ext := range roundTripDocs {
		t.Run(ext, func(t *testing.T) {
			doc := mustDoc(t, ext)
			ems, err := Shred(doc)
			require.NoError(t, err)

			asm := NewAssembler()
			for _, em := range ems {
				require.NoError(t, asm.Add(em.Path, em.Cell))
			}
			assert.Equal(t, doc, asm.Document())
			assert.Equal(t, len(ems), asm.Cells())
		})
	}
}

func TestShredPaths(t *testing.T) {
	doc := mustDoc(t, `{"a": [{"b": 1}, {"c": {"d": 2}}], "a.b": 3, "e": [[{"f": 1}]]}`)
	assert.Equal(t,
		[]string{"a", "a.b", "a.c", "a.c.d", "a.b", "e", "e.f"},
		path.Strings(Paths(doc)),
	)
	keys := make([]string, 0)
	for _, p := range Paths(doc) {
		keys = append(keys, p.Key())
	}
	assert.Contains(t, keys, "a.b")
	assert.Contains(t, keys, "a\x00b")
}

func TestShredShape(t *testing.T) {
	doc := mustDoc(t, `{"a": [{"b": 1}, 2, {"c": 3}]}`)
	ems, err := Shred(doc)
	require.NoError(t, err)

	byPath := map[string]Cell{}
	for _, em := range ems {
		byPath[em.Path.String()] = em.Cell
	}
	require.Contains(t, byPath, "a.b")
	assert.Equal(t, []byte{'o', 0, '[', 3, 'o', 0, 'v', '_', '_'}, byPath["a.b"].Shape)
	assert.Len(t, byPath["a.b"].Values, 1)
	assert.True(t, byPath["a.b"].IsArrayValued())

	assert.Equal(t, []byte{'o', 0, '[', 3, 'O', 'v', 'O'}, byPath["a"].Shape)
}

func TestAssemblerRejectsCorruptCells(t *testing.T) {
	tests := []struct {
		name string
		path string
		cell Cell
	}{
		{name: "truncated", path: "a", cell: Cell{Shape: []byte{'o'}}},
		{name: "value before end", path: "a.b", cell: Cell{Shape: []byte{'o', 0, 'v'}}},
		{name: "missing value", path: "a", cell: Cell{Shape: []byte{'o', 0, 'v'}}},
		{name: "unknown tag", path: "a", cell: Cell{Shape: []byte{'o', 0, '?'}}},
		{name: "array too long", path: "a", cell: Cell{Shape: []byte{'o', 0, '[', 100}}},
		{name: "trailing bytes", path: "a", cell: Cell{Shape: []byte{'o', 0, 'O', 'O'}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAssembler().Add(path.Parse(tt.path), tt.cell)
			require.Error(t, err)
			assert.True(t, errors.HasType(err, errors.ErrorTypeStorage))
		})
	}
}

func TestIndexPutScan(t *testing.T) {
	idx := NewIndex("test", WithLogger(zaptest.NewLogger(t)))
	p := path.Parse("a")
	cell := func(tag byte) *Cell { return &Cell{Shape: []byte{'o', 0, tag}} }

	require.NoError(t, idx.Put(p, 5, cell('O')))
	require.NoError(t, idx.Put(p, 1, cell('O')))
	require.NoError(t, idx.Put(p, 3, cell('O')))
	require.NoError(t, idx.Put(p, 3, cell('O'))) // idempotent

	var ids []RowID
	cur := idx.Scan(p, AllRows())
	for cur.Next() {
		ids = append(ids, cur.Entry().RowID)
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, []RowID{1, 3, 5}, ids)

	ids = nil
	cur = idx.Scan(p, RowRange{Start: 2, End: 5})
	for cur.Next() {
		ids = append(ids, cur.Entry().RowID)
	}
	assert.Equal(t, []RowID{3}, ids)

	require.NoError(t, idx.Put(p, 3, nil))
	assert.Equal(t, 2, idx.ColumnLen(p))

	assert.False(t, idx.Scan(path.Parse("missing"), AllRows()).Next())
}

func TestCursorSeesConcurrentInserts(t *testing.T) {
	idx := NewIndex("test")
	p := path.Parse("a")
	require.NoError(t, idx.Put(p, 1, &Cell{Shape: []byte{'o', 0, 'O'}}))
	require.NoError(t, idx.Put(p, 3, &Cell{Shape: []byte{'o', 0, 'O'}}))

	cur := idx.Scan(p, AllRows())
	require.True(t, cur.Next())
	assert.Equal(t, RowID(1), cur.Entry().RowID)

	require.NoError(t, idx.Put(p, 0, &Cell{Shape: []byte{'o', 0, 'O'}}))
	require.NoError(t, idx.Put(p, 2, &Cell{Shape: []byte{'o', 0, 'O'}}))

	require.True(t, cur.Next())
	assert.Equal(t, RowID(2), cur.Entry().RowID)
	require.True(t, cur.SkipTo(3))
	assert.Equal(t, RowID(3), cur.Entry().RowID)
	assert.False(t, cur.Next())
}

func TestIndexDocumentLifecycle(t *testing.T) {
	idx := NewIndex("test")
	d1 := mustDoc(t, `{"_id": 1, "a": {"b": 1, "c": [1, 2]}}`)
	d2 := mustDoc(t, `{"_id": 2, "x": "y"}`)

	require.NoError(t, idx.Insert(1, d1))
	require.NoError(t, idx.Insert(2, d2))
	assert.Equal(t, 2, idx.RowCount())
	assert.True(t, idx.IsDense(path.Parse("_id")))
	assert.False(t, idx.IsDense(path.Parse("a")))
	assert.Equal(t, []string{"_id", "a", "a\x00b", "a\x00c", "x"}, idx.ColumnKeys())
	assert.Equal(t, []string{"a.b", "a.c"}, path.Strings(idx.Descendants(path.Parse("a"))))

	got, ok, err := idx.Document(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d1, got)

	d1b := mustDoc(t, `{"_id": 1, "a": 5, "n": true}`)
	require.NoError(t, idx.Replace(1, d1, d1b))
	got, _, err = idx.Document(1)
	require.NoError(t, err)
	assert.Equal(t, d1b, got)
	assert.False(t, idx.HasColumn(path.Parse("a.b")))

	require.NoError(t, idx.Remove(2, d2))
	assert.Equal(t, 1, idx.RowCount())
	assert.False(t, idx.HasColumn(path.Parse("x")))
	_, ok, err = idx.Document(2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idx.Remove(1, nil))
	assert.Equal(t, 0, idx.RowCount())
	assert.Empty(t, idx.ColumnKeys())
}

func TestClosure(t *testing.T) {
	idx := NewIndex("test")
	require.NoError(t, idx.Insert(1, mustDoc(t, `{"a": {"b": {"c": 1, "d": 2}, "e": 3}, "f": 4, "": {"": 5}}`)))

	tests := []struct {
		name  string
		paths []string
		want  []string
	}{
		{name: "leaf", paths: []string{"a.b.c"}, want: []string{"a", "a.b", "a.b.c"}},
		{name: "prefix brings descendants", paths: []string{"a.b"}, want: []string{"a", "a.b", "a.b.c", "a.b.d"}},
		{name: "missing path keeps ancestors", paths: []string{"a.x"}, want: []string{"a"}},
		{name: "empty name", paths: []string{""}, want: []string{"", "."}},
		{name: "dot", paths: []string{"."}, want: []string{"", "."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := make([]path.Path, len(tt.paths))
			for i, s := range tt.paths {
				ps[i] = path.Parse(s)
			}
			var got []string
			for _, k := range idx.Closure(ps) {
				got = append(got, path.FromKey(k).String())
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestDropFailsOpenCursors(t *testing.T) {
	idx := NewIndex("test")
	require.NoError(t, idx.Insert(1, mustDoc(t, `{"a": 1}`)))
	require.NoError(t, idx.Insert(2, mustDoc(t, `{"a": 2}`)))

	cur := idx.Scan(path.Parse("a"), AllRows())
	require.True(t, cur.Next())
	idx.Drop()
	assert.False(t, cur.Next())
	require.Error(t, cur.Err())
	assert.True(t, errors.IsType(cur.Err(), errors.ErrorTypeStorage))
	assert.True(t, idx.Dropped())
	assert.Error(t, idx.Insert(3, mustDoc(t, `{"a": 3}`)))
}

func TestSnapshotRoundTrip(t *testing.T) {
	idx := NewIndex("fixtures")
	for i, ext := range roundTripDocs {
		require.NoError(t, idx.Insert(RowID(i*3+1), mustDoc(t, ext)))
	}

	for _, algo := range []compression.Algorithm{compression.None, compression.Zstd, compression.LZ4, compression.S2} {
		t.Run(string(algo), func(t *testing.T) {
			var buf bytes.Buffer
			m, err := idx.Save(&buf, &compression.Config{Algorithm: algo, Level: compression.Default})
			require.NoError(t, err)
			assert.Equal(t, len(roundTripDocs), m.Rows)

			loaded, lm, err := Load(&buf, WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, err)
			assert.Equal(t, m.Columns, lm.Columns)
			assert.Equal(t, idx.ColumnKeys(), loaded.ColumnKeys())
			assert.Equal(t, idx.RowCount(), loaded.RowCount())

			for i, ext := range roundTripDocs {
				got, ok, err := loaded.Document(RowID(i*3 + 1))
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, mustDoc(t, ext), got)
			}
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, _, err := Load(bytes.NewReader([]byte("not a snapshot at all")))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
}

func TestStats(t *testing.T) {
	idx := NewIndex("stats")
	require.NoError(t, idx.Insert(1, mustDoc(t, `{"a": 1, "b": {"c": 2}}`)))
	require.NoError(t, idx.Insert(2, mustDoc(t, `{"a": 2}`)))

	s := idx.Stats(true)
	assert.Equal(t, 2, s.Rows)
	assert.Equal(t, 3, s.Columns)
	assert.Equal(t, 4, s.Cells)
	assert.Positive(t, s.MemoryBytes)
	require.Len(t, s.PerColumn, 3)
	assert.Equal(t, ColumnStats{Path: "a", Cells: 2, MemoryBytes: s.PerColumn[0].MemoryBytes, Dense: true}, s.PerColumn[0])
}
