package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "json info", cfg: Config{Level: "info", Encoding: "json"}},
		{name: "console debug", cfg: Config{Level: "debug", Encoding: "console", Development: true}},
		{name: "default encoding", cfg: Config{Level: "warn"}},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestWithContext(t *testing.T) {
	ctx := ContextWithQueryID(context.Background(), "q-1")
	ctx = ContextWithCollection(ctx, "fixtures")
	ctx = ContextWithPlan(ctx, "COLUMN_SCAN")

	assert.Equal(t, "q-1", ctx.Value(QueryIDKey))
	assert.Equal(t, "fixtures", ctx.Value(CollectionKey))
	assert.Equal(t, "COLUMN_SCAN", ctx.Value(PlanKey))
	assert.NotNil(t, WithContext(ctx))
}
