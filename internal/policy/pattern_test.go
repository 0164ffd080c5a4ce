package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatch(t *testing.T) {
	testcases := []struct {
		def   string
		val   string
		match bool
	}{
		{def: "bug", val: "bug", match: true},
		{def: "bug", val: "not-a-bug", match: true},
		{def: "^bug$", val: "bugfix", match: false},
		{def: "PR target:", val: "PR target: master", match: true},
		{def: "area/.*", val: "area/core", match: true},
		{def: "Z-.*|ready", val: "ready", match: true},
		{def: "glob:ci/*", val: "ci/linux", match: true},
		{def: "glob:ci/*", val: "ci/linux/arm", match: false},
		{def: "glob:ci/*", val: "buildkite/ci", match: false},
	}

	for _, tc := range testcases {
		t.Run(tc.def+"_"+tc.val, func(t *testing.T) {
			p, err := ParsePattern(tc.def)
			require.NoError(t, err)
			assert.Equal(t, tc.match, p.Match(tc.val))
		})
	}
}

func TestParsePatternKeepsDefinition(t *testing.T) {
	p, err := ParsePattern("glob:ci/*")
	require.NoError(t, err)
	assert.IsType(t, &GlobPattern{}, p)
	assert.Equal(t, "ci/*", p.String())

	p, err = ParsePattern("area/.*")
	require.NoError(t, err)
	assert.IsType(t, &RegexPattern{}, p)
	assert.Equal(t, "area/.*", p.String())
}

func TestParsePatternInvalid(t *testing.T) {
	_, err := ParsePattern("(")
	assert.Error(t, err)

	_, err = ParsePattern("glob:[")
	assert.Error(t, err)
}
