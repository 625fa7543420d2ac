package collation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/errors"
)

func TestFromDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     bson.D
		want    *Spec
		wantErr bool
	}{
		{
			name: "locale and strength",
			doc:  bson.D{{Key: "locale", Value: "en_US"}, {Key: "strength", Value: int32(2)}},
			want: &Spec{Locale: "en_US", Strength: 2},
		},
		{
			name: "integral double strength",
			doc:  bson.D{{Key: "locale", Value: "en"}, {Key: "strength", Value: 1.0}},
			want: &Spec{Locale: "en", Strength: 1},
		},
		{name: "simple", doc: bson.D{{Key: "locale", Value: "simple"}}, want: &Spec{Locale: "simple"}},
		{name: "missing locale", doc: bson.D{{Key: "strength", Value: int32(2)}}, wantErr: true},
		{name: "strength out of range", doc: bson.D{{Key: "locale", Value: "en"}, {Key: "strength", Value: int32(99)}}, wantErr: true},
		{name: "fractional strength", doc: bson.D{{Key: "locale", Value: "en"}, {Key: "strength", Value: 9.9}}, wantErr: true},
		{name: "simple with options", doc: bson.D{{Key: "locale", Value: "simple"}, {Key: "strength", Value: int32(1)}}, wantErr: true},
		{name: "unknown option", doc: bson.D{{Key: "locale", Value: "en"}, {Key: "speed", Value: "fast"}}, wantErr: true},
		{name: "bad caseFirst", doc: bson.D{{Key: "locale", Value: "en"}, {Key: "caseFirst", Value: "middle"}}, wantErr: true},
		{name: "bad alternate type", doc: bson.D{{Key: "locale", Value: "en"}, {Key: "alternate", Value: int32(1)}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromDocument(tt.doc)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrength(t *testing.T) {
	tests := []struct {
		name     string
		strength int
		a, b     string
		equal    bool
	}{
		{name: "primary ignores case", strength: 1, a: "hello", b: "HELLO", equal: true},
		{name: "primary ignores accents", strength: 1, a: "resume", b: "résumé", equal: true},
		{name: "secondary ignores case", strength: 2, a: "hello", b: "Hello", equal: true},
		{name: "secondary keeps accents", strength: 2, a: "resume", b: "résumé", equal: false},
		{name: "tertiary keeps case", strength: 3, a: "hello", b: "Hello", equal: false},
		{name: "different letters", strength: 1, a: "hello", b: "help", equal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := MustNew(&Spec{Locale: "en_US", Strength: tt.strength})
			require.NotNil(t, c)
			assert.Equal(t, tt.equal, c.Compare(tt.a, tt.b) == 0)
			assert.Equal(t, tt.equal, string(c.Key(tt.a)) == string(c.Key(tt.b)))
		})
	}
}

func TestSimpleIsBinary(t *testing.T) {
	c, err := New(&Spec{Locale: SimpleLocale})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(nil)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNumericOrdering(t *testing.T) {
	c := MustNew(&Spec{Locale: "en", NumericOrdering: true})
	assert.Equal(t, -1, c.Compare("2", "10"))

	plain := MustNew(&Spec{Locale: "en"})
	assert.Equal(t, 1, plain.Compare("2", "10"))
}

func TestDocument(t *testing.T) {
	doc := (&Spec{Locale: "fr", Strength: 2}).Document()
	require.NotEmpty(t, doc)
	assert.Equal(t, "locale", doc[0].Key)
	assert.Equal(t, bson.D{{Key: "locale", Value: "simple"}}, (&Spec{Locale: "simple"}).Document())
}
