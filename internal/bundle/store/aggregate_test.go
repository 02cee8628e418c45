package store

import (
	"errors"
	"testing"

	"github.com/owmeta/go-bundle/internal/bundleerr"
	"github.com/owmeta/go-bundle/rdf"
	"github.com/owmeta/go-bundle/rdf/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quad(ctx, s, p, o string) rdf.Quad {
	return rdf.Quad{
		Triple:  rdf.Triple{Subject: rdf.IRI(s), Predicate: rdf.IRI(p), Object: rdf.IRI(o)},
		Context: ctx,
	}
}

func storeWith(quads ...rdf.Quad) *memory.Store {
	m := memory.New()
	for _, q := range quads {
		_ = m.Add(q)
	}
	return m
}

func TestAggregate_TriplesUnionsPrimaryAndDeps(t *testing.T) {
	primary := storeWith(quad("ctxA", "s1", "p1", "o1"))
	dep := storeWith(quad("ctxB", "s2", "p2", "o2"))

	agg := New(primary, []Leaf{NewLeaf(dep, nil)})
	qs, err := agg.Triples(rdf.Pattern{}, "")
	require.NoError(t, err)
	assert.Len(t, qs, 2)
}

func TestAggregate_ExcludedContextNotObservable(t *testing.T) {
	primary := storeWith(quad("ctxA", "s1", "p1", "o1"))
	dep := storeWith(
		quad("ctxB", "s2", "p2", "o2"),
		quad("ctxExcluded", "s3", "p3", "o3"),
	)

	agg := New(primary, []Leaf{NewLeaf(dep, []string{"ctxExcluded"})})

	qs, err := agg.Triples(rdf.Pattern{}, "")
	require.NoError(t, err)
	for _, q := range qs {
		assert.NotEqual(t, "ctxExcluded", q.Context)
	}
	assert.Len(t, qs, 2)

	qs, err = agg.Triples(rdf.Pattern{}, "ctxExcluded")
	require.NoError(t, err)
	assert.Empty(t, qs)
}

func TestAggregate_ContextsExcludesLeafContext(t *testing.T) {
	primary := storeWith(quad("ctxA", "s1", "p1", "o1"))
	dep := storeWith(quad("ctxExcluded", "s2", "p2", "o2"))

	agg := New(primary, []Leaf{NewLeaf(dep, []string{"ctxExcluded"})})
	cs, err := agg.Contexts()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ctxA"}, cs)
}

func TestAggregate_LenHonorsExclusion(t *testing.T) {
	primary := storeWith(quad("ctxA", "s1", "p1", "o1"))
	dep := storeWith(
		quad("ctxB", "s2", "p2", "o2"),
		quad("ctxExcluded", "s3", "p3", "o3"),
	)
	agg := New(primary, []Leaf{NewLeaf(dep, []string{"ctxExcluded"})})

	n, err := agg.Len("")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAggregate_MutationUnsupported(t *testing.T) {
	agg := New(memory.New(), nil)

	err := agg.Add(quad("ctxA", "s", "p", "o"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, bundleerr.ErrUnsupportedAggregateOperation))

	assert.Error(t, agg.AddN([]rdf.Quad{quad("ctxA", "s", "p", "o")}))
	assert.Error(t, agg.Remove(quad("ctxA", "s", "p", "o")))
}

func TestAggregate_RecursiveComposition(t *testing.T) {
	grandchild := storeWith(quad("ctxC", "s3", "p3", "o3"))
	child := New(storeWith(quad("ctxB", "s2", "p2", "o2")), []Leaf{NewLeaf(grandchild, nil)})
	root := New(storeWith(quad("ctxA", "s1", "p1", "o1")), []Leaf{NewLeaf(child, nil)})

	qs, err := root.Triples(rdf.Pattern{}, "")
	require.NoError(t, err)
	assert.Len(t, qs, 3)
}
