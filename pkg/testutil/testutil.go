// Package testutil provides testing utilities for strata
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/strata/pkg/columnar"
	"github.com/ajitpratap0/strata/pkg/document"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// ExtDoc parses a relaxed extended JSON document and normalizes it.
func ExtDoc(t testing.TB, ext string) bson.D {
	t.Helper()
	d, err := ParseExtDoc(ext)
	require.NoError(t, err, ext)
	return d
}

// ExtDocs parses every document in exts.
func ExtDocs(t testing.TB, exts []string) []bson.D {
	t.Helper()
	out := make([]bson.D, len(exts))
	for i, ext := range exts {
		out[i] = ExtDoc(t, ext)
	}
	return out
}

// ExtValue parses a relaxed extended JSON value.
func ExtValue(t testing.TB, ext string) interface{} {
	t.Helper()
	d := ExtDoc(t, `{"v": `+ext+`}`)
	return d[0].Value
}

// ParseExtDoc is ExtDoc without a test handle.
func ParseExtDoc(ext string) (bson.D, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON([]byte(ext), false, &d); err != nil {
		return nil, err
	}
	return document.Normalize(d)
}

// BuildIndex shreds docs into a new index, giving document i RowID i+1.
func BuildIndex(t testing.TB, docs []bson.D) *columnar.Index {
	t.Helper()
	idx := columnar.NewIndex("$**_columnstore")
	for i, d := range docs {
		require.NoError(t, idx.Insert(columnar.RowID(i+1), d))
	}
	return idx
}
