package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor_Basic(t *testing.T) {
	doc := []byte(`
id: ex/b
version: 2
name: Example Bundle
includes:
  - http://ex/ctx1
  - http://ex/ctx2:
      empty: true
patterns:
  - "http://ex/*"
  - "rgx:^http://ex/\\d+$"
files:
  includes:
    - README.md
  patterns:
    - "*.csv"
dependencies:
  - other/dep
  - [other/dep2, 3]
  - id: other/dep3
    version: 1
    excludes: [http://ex/excluded]
  - other/dep
`)

	d, err := ParseDescriptor(doc)
	require.NoError(t, err)

	assert.Equal(t, "ex/b", d.ID)
	assert.Equal(t, 2, d.Version)
	require.Len(t, d.Includes, 2)
	assert.Equal(t, "http://ex/ctx1", d.Includes[0].URI)
	assert.False(t, d.Includes[0].Empty)
	assert.Equal(t, "http://ex/ctx2", d.Includes[1].URI)
	assert.True(t, d.Includes[1].Empty)

	require.Len(t, d.Patterns, 2)
	assert.True(t, d.Patterns[0].Match("http://ex/anything"))

	assert.True(t, d.MatchesFile("README.md"))
	assert.True(t, d.MatchesFile("data.csv"))
	assert.False(t, d.MatchesFile("other.txt"))

	// duplicate (other/dep, 1) dropped, three unique dependencies remain.
	require.Len(t, d.Dependencies, 3)
	assert.Equal(t, "other/dep", d.Dependencies[0].ID)
	assert.Equal(t, 1, d.Dependencies[0].Version)
	assert.Equal(t, "other/dep2", d.Dependencies[1].ID)
	assert.Equal(t, 3, d.Dependencies[1].Version)
	assert.Equal(t, []string{"http://ex/excluded"}, d.Dependencies[2].Excludes)
}

func TestParseDescriptor_DefaultsVersionToOne(t *testing.T) {
	d, err := ParseDescriptor([]byte("id: ex/b\nincludes:\n  - http://ex/ctx1\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Version)
}

func TestParseDescriptor_RequiresID(t *testing.T) {
	_, err := ParseDescriptor([]byte("version: 1\n"))
	require.Error(t, err)
}

func TestParseDescriptor_RejectsMalformedYAML(t *testing.T) {
	_, err := ParseDescriptor([]byte("id: [unterminated\n"))
	require.Error(t, err)
}

func TestDescriptor_MatchesIncludeReportsDeclaredEmpty(t *testing.T) {
	d := &Descriptor{Includes: []IncludeRule{{URI: "http://ex/ctx1", Empty: true}}}
	matched, empty := d.MatchesInclude("http://ex/ctx1")
	assert.True(t, matched)
	assert.True(t, empty)

	matched, _ = d.MatchesInclude("http://ex/missing")
	assert.False(t, matched)
}

func TestGlobToRegexp(t *testing.T) {
	p, err := compilePattern("http://ex/*")
	require.NoError(t, err)
	assert.True(t, p.Match("http://ex/anything/here"))
	assert.False(t, p.Match("http://other/anything"))
}

func TestPatternRule_MatchIsAnchoredAtStartOnly(t *testing.T) {
	// A literal glob with no wildcards is a prefix match, not a full
	// match: trailing content after the pattern is allowed.
	p, err := compilePattern("http://ex/ctx1")
	require.NoError(t, err)
	assert.True(t, p.Match("http://ex/ctx1"))
	assert.True(t, p.Match("http://ex/ctx1/extra"))
	assert.False(t, p.Match("http://other/ex/ctx1"))

	// An rgx: pattern is matched like Python's re.match: anchored at the
	// start, not searched for anywhere in the string.
	rp, err := compilePattern("rgx:ctx1")
	require.NoError(t, err)
	assert.False(t, rp.Match("http://ex/ctx1"))
	assert.True(t, rp.Match("ctx1/whatever"))
}
