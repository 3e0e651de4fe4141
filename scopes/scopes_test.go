package scopes_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legit-games/oauth2/scopes"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: []string{}},
		{name: "blank", in: "   \t ", want: []string{}},
		{name: "single", in: "read", want: []string{"read"}},
		{name: "duplicates", in: "a b a", want: []string{"a", "b"}},
		{name: "mixed whitespace", in: " read\twrite  admin ", want: []string{"read", "write", "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scopes.Parse(tt.in).All())
		})
	}
}

func TestRoundTripIgnoresOrderAndDuplicates(t *testing.T) {
	inputs := []string{"a b a", "b a", "write read public", "public public", ""}
	for _, in := range inputs {
		s := scopes.Parse(in)
		again := scopes.Parse(s.String())
		assert.True(t, s.Equal(again), "round trip of %q", in)
	}
	assert.True(t, scopes.Parse("a b").Equal(scopes.Parse("b a a")))
	assert.Equal(t, "a b", scopes.Parse("a b a").String())
}

func TestSubsetUnionIntersect(t *testing.T) {
	rw := scopes.Parse("read write")
	r := scopes.Parse("read")

	assert.True(t, r.IsSubsetOf(rw))
	assert.False(t, rw.IsSubsetOf(r))
	assert.True(t, scopes.Set{}.IsSubsetOf(r))
	assert.True(t, rw.IsSubsetOf(scopes.Parse("write read")))

	assert.True(t, r.Union(scopes.Parse("admin")).Equal(scopes.Parse("read admin")))
	assert.True(t, rw.Intersect(scopes.Parse("write admin")).Equal(scopes.Parse("write")))
	assert.True(t, rw.Intersect(scopes.Set{}).IsEmpty())

	assert.True(t, rw.Has("write"))
	assert.False(t, rw.Has("admin"))
	assert.True(t, rw.HasAny("admin", "read"))
	assert.False(t, rw.HasAny())
}

func TestValid(t *testing.T) {
	assert.True(t, scopes.Valid("read write"))
	assert.False(t, scopes.Valid("read\nwrite"))
	assert.False(t, scopes.Valid("read\twrite"))
}

func TestSQLAndJSON(t *testing.T) {
	s := scopes.Parse("read write")
	v, err := s.Value()
	require.NoError(t, err)
	assert.Equal(t, "read write", v)

	var scanned scopes.Set
	require.NoError(t, scanned.Scan([]byte("write read")))
	assert.True(t, s.Equal(scanned))
	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsEmpty())
	assert.Error(t, scanned.Scan(42))

	b, err := json.Marshal(struct {
		Scopes scopes.Set `json:"scopes"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"scopes":"read write"}`, string(b))

	var decoded struct {
		Scopes scopes.Set `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, s.Equal(decoded.Scopes))
}
