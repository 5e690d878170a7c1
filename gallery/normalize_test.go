package gallery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStrings_Legacy(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want []string
	}{
		{
			"numeric sort, prefix stripped, default tagged",
			[]string{"20-u2", "10-u1"},
			[]string{"u1?original", "u2?original"},
		},
		{
			"numeric not lexicographic",
			[]string{"100-u3", "20-u2", "10-u1"},
			[]string{"u1?original", "u2?original", "u3?original"},
		},
		{
			"row without prefix sorts first",
			[]string{"10-u1", "u0"},
			[]string{"u0?original", "u1?original"},
		},
		{
			"prefix-less ties break by string order",
			[]string{"10-u1", "zz", "aa"},
			[]string{"aa?original", "u1?original", "zz?original"},
		},
		{
			"already tagged row keeps its tag",
			[]string{"20-u2?add", "10-u1"},
			[]string{"u1?original", "u2?add"},
		},
		{
			// A prefix too large for int clamps to the maximum key, so
			// the row still loses its prefix and sorts last.
			"overflowing prefix stripped and sorted last",
			[]string{"99999999999999999999-u2", "10-u1"},
			[]string{"u1?original", "u2?original"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStrings(tt.raw))
		})
	}
}

func TestNormalizeStrings_Canonical(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want []string
	}{
		{"nil input", nil, []string{}},
		{"empty input", []string{}, []string{}},
		{
			"untagged entries default to original",
			[]string{"u1", "u2?add"},
			[]string{"u1?original", "u2?add"},
		},
		{
			"empty elements dropped",
			[]string{"", "u1?original", ""},
			[]string{"u1?original"},
		},
		{
			"cdn query params stripped before tagging",
			[]string{"u1?w=200&h=100"},
			[]string{"u1?original"},
		},
		{
			// The detection rule only inspects the first element; later
			// prefixed rows in a canonical array are left alone.
			"canonical array with prefixed later element",
			[]string{"u1?original", "10-u2"},
			[]string{"u1?original", "10-u2?original"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStrings(tt.raw))
		})
	}
}

func TestNormalize_BuildsRemoteEntries(t *testing.T) {
	c := Normalize([]string{"5-u1", "1-u2"})

	entries := c.Entries()
	require.Len(t, entries, 2)

	assert.Equal(t, "u2", entries[0].Path())
	assert.Equal(t, "u1", entries[1].Path())

	for _, e := range entries {
		assert.Equal(t, KindRemote, e.Kind())
		assert.Equal(t, StateOriginal, e.State())
		assert.NotEmpty(t, e.ID())
	}

	// Fresh from load the collection matches its own snapshot.
	assert.False(t, c.Dirty(c.Snapshot()))
}

func TestNormalizeJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{"array of strings", `["20-u2","10-u1"]`, []string{"u1?original", "u2?original"}},
		{"non-string members dropped", `["u1", 42, null, {"x":1}, "u2?add"]`, []string{"u1?original", "u2?add"}},
		{"null", `null`, nil},
		{"not an array", `{"images":["u1"]}`, nil},
		{"garbage", `not json at all`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NormalizeJSON([]byte(tt.data))

			var got []string
			for _, e := range c.Entries() {
				tagged, ok := e.Tagged()
				require.True(t, ok)
				got = append(got, tagged)
			}

			assert.Equal(t, tt.want, got)
		})
	}
}
