package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Version
	}{
		{"", Empty},
		{"1", Version{Major: 1}},
		{"1.2", Version{Major: 1, Minor: 2}},
		{"1.2.3", Version{Major: 1, Minor: 2, Micro: 3}},
		{"1.2.3.beta-1", Version{Major: 1, Minor: 2, Micro: 3, Qualifier: "beta-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"a", "1.x", "1.2.3.", "1.2.3.bad!", "-1"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidVersion, in)
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, MustParse("1.0").Compare(MustParse("2.0")))
	assert.Equal(t, 1, MustParse("1.10").Compare(MustParse("1.9")))
	assert.Equal(t, 0, MustParse("1.0.0").Compare(MustParse("1")))
	assert.Equal(t, 1, MustParse("1.0.0.b").Compare(MustParse("1.0.0.a")))
	assert.Equal(t, 1, MustParse("1.0.0.a").Compare(MustParse("1.0.0")))
}

func TestRange(t *testing.T) {
	r, err := ParseRange("[1.0,2.0)")
	require.NoError(t, err)
	assert.True(t, r.Includes(MustParse("1.0")))
	assert.True(t, r.Includes(MustParse("1.9.9")))
	assert.False(t, r.Includes(MustParse("2.0")))
	assert.False(t, r.Includes(MustParse("0.9")))
	assert.Equal(t, "[1.0.0,2.0.0)", r.String())

	atLeast, err := ParseRange("1.5")
	require.NoError(t, err)
	assert.True(t, atLeast.Includes(MustParse("99")))
	assert.False(t, atLeast.Includes(MustParse("1.4")))

	unbounded, err := ParseRange("")
	require.NoError(t, err)
	assert.True(t, unbounded.Includes(Empty))

	_, err = ParseRange("[2.0,1.0]")
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = ParseRange("[1.0,2.0")
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRangeFilterString(t *testing.T) {
	r, err := ParseRange("(1.0,2.0]")
	require.NoError(t, err)
	assert.Equal(t, "(&(!(version<=1.0.0))(version<=2.0.0))", r.FilterString("version"))
	assert.Equal(t, "(version>=1.0.0)", Range{Left: MustParse("1"), LeftClosed: true}.FilterString("version"))
}
