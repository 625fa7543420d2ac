package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/collection"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/testutil"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		batchSize int
		docs      int
		batches   int
	}{
		{name: "empty", input: "", batchSize: 2},
		{name: "single batch", input: "{\"a\": 1}\n{\"a\": 2}\n", batchSize: 10, docs: 2, batches: 1},
		{name: "partial last batch", input: "{\"a\": 1}\n{\"a\": 2}\n{\"a\": 3}\n", batchSize: 2, docs: 3, batches: 2},
		{name: "blank lines skipped", input: "\n{\"a\": 1}\n   \n{\"a\": {\"$numberLong\": \"2\"}}", batchSize: 1, docs: 2, batches: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll := collection.New("ingest", collection.Options{Logger: testutil.TestLogger(t)})
			l := NewLoader(coll, &Config{BatchSize: tt.batchSize}, testutil.TestLogger(t))

			ctx, cancel := testutil.TestContext(t)
			defer cancel()
			stats, err := l.Load(ctx, strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.docs, stats.Documents)
			assert.Equal(t, tt.batches, stats.Batches)
			assert.Equal(t, tt.docs, coll.Len())
		})
	}
}

func TestLoadKeepsOrder(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&sb, "{\"n\": 1, \"i\": %d}\n", i)
	}
	coll := collection.New("ingest", collection.Options{Logger: testutil.TestLogger(t)})
	l := NewLoader(coll, &Config{BatchSize: 7, QueueSize: 3}, testutil.TestLogger(t))
	_, err := l.Load(context.Background(), strings.NewReader(sb.String()))
	require.NoError(t, err)

	docs, err := coll.Find(context.Background(), bson.D{}, collection.FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 50)
	for i, d := range docs {
		assert.Equal(t, "i", d[2].Key)
		assert.Equal(t, int32(i), d[2].Value)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("malformed line", func(t *testing.T) {
		coll := collection.New("ingest", collection.Options{Logger: testutil.TestLogger(t)})
		l := NewLoader(coll, &Config{BatchSize: 1}, testutil.TestLogger(t))
		_, err := l.Load(context.Background(), strings.NewReader("{\"a\": 1}\n{\"a\": \n"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		var e *errors.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, 2, e.Details["line"])
	})

	t.Run("duplicate _id", func(t *testing.T) {
		coll := collection.New("ingest", collection.Options{Logger: testutil.TestLogger(t)})
		l := NewLoader(coll, &Config{BatchSize: 1}, testutil.TestLogger(t))
		_, err := l.Load(context.Background(), strings.NewReader("{\"_id\": 1}\n{\"_id\": 1}\n"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
		assert.Equal(t, 1, coll.Len())
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		coll := collection.New("ingest", collection.Options{Logger: testutil.TestLogger(t)})
		l := NewLoader(coll, nil, testutil.TestLogger(t))
		_, err := l.Load(ctx, strings.NewReader(strings.Repeat("{\"a\": 1}\n", 10000)))
		require.Error(t, err)
	})
}

func TestParseArray(t *testing.T) {
	pipeline, err := ParseArray(`[{"$match": {"a": 1}}, {"$count": "n"}]`)
	require.NoError(t, err)
	require.Len(t, pipeline, 2)
	stage, ok := pipeline[0].(bson.D)
	require.True(t, ok)
	assert.Equal(t, "$match", stage[0].Key)

	empty, err := ParseArray(`[]`)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseArray(`{"$match": {}}`)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestParseOptional(t *testing.T) {
	d, err := ParseOptional("  ")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = ParseOptional(`{"a": {"$gt": 1}}`)
	require.NoError(t, err)
	assert.Equal(t, "a", d[0].Key)

	_, err = ParseOptional(`{"a": `)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
