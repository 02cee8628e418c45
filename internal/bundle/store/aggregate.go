// Package store implements the dependency-aware aggregate read store:
// composing a primary store with its transitive dependency stores under
// per-edge context exclusions, read-only to every caller.
package store

import (
	"runtime"

	"github.com/owmeta/go-bundle/internal/bundleerr"
	"github.com/owmeta/go-bundle/rdf"
	"golang.org/x/sync/errgroup"
)

// Leaf is one dependency edge into an aggregate store: the store it
// contributes and the set of context URIs excluded from it.
type Leaf struct {
	Store    rdf.Store
	Excludes map[string]struct{}
}

// NewLeaf builds a Leaf from a store and a slice of excluded context URIs.
func NewLeaf(s rdf.Store, excludes []string) Leaf {
	ex := make(map[string]struct{}, len(excludes))
	for _, e := range excludes {
		ex[e] = struct{}{}
	}
	return Leaf{Store: s, Excludes: ex}
}

func (l Leaf) excluded(context string) bool {
	if context == "" {
		return false
	}
	_, ok := l.Excludes[context]
	return ok
}

// Aggregate is a read-only composed store: the union of a primary store
// and its dependency leaves, with per-leaf context exclusions.
// Aggregate is itself an rdf.Store, so dependency leaves may themselves be
// Aggregates, giving recursive composition over a dependency DAG.
type Aggregate struct {
	Primary rdf.Store
	Deps    []Leaf
}

// New builds an Aggregate over primary and its direct dependency leaves.
func New(primary rdf.Store, deps []Leaf) *Aggregate {
	return &Aggregate{Primary: primary, Deps: deps}
}

// Triples returns the union of matches from the primary store and every
// dependency leaf whose exclusion set does not cover context (or, when
// context is empty, quads from leaves filtered of their excluded
// contexts).
func (a *Aggregate) Triples(pattern rdf.Pattern, context string) ([]rdf.Quad, error) {
	out, err := a.Primary.Triples(pattern, context)
	if err != nil {
		return nil, err
	}
	for _, leaf := range a.Deps {
		if leaf.excluded(context) {
			continue
		}
		qs, err := leaf.Store.Triples(pattern, context)
		if err != nil {
			return nil, err
		}
		out = append(out, filterExcluded(qs, leaf)...)
	}
	return out, nil
}

// TriplesChoices implements rdf.Store with the same exclusion rules as
// Triples. Duplicate quads across leaves are not deduplicated here; a
// caller needing uniqueness performs it itself.
func (a *Aggregate) TriplesChoices(subject, predicate *rdf.Term, objects []rdf.Term, context string) ([]rdf.Quad, error) {
	out, err := a.Primary.TriplesChoices(subject, predicate, objects, context)
	if err != nil {
		return nil, err
	}
	for _, leaf := range a.Deps {
		if leaf.excluded(context) {
			continue
		}
		qs, err := leaf.Store.TriplesChoices(subject, predicate, objects, context)
		if err != nil {
			return nil, err
		}
		out = append(out, filterExcluded(qs, leaf)...)
	}
	return out, nil
}

func filterExcluded(qs []rdf.Quad, leaf Leaf) []rdf.Quad {
	if len(leaf.Excludes) == 0 {
		return qs
	}
	out := qs[:0:0]
	for _, q := range qs {
		if !leaf.excluded(q.Context) {
			out = append(out, q)
		}
	}
	return out
}

// Contexts returns the union of contexts across the primary store and
// every dependency leaf, leaf-excluded contexts removed. Leaf enumeration
// fans out with a bounded errgroup since every leaf read is independent.
func (a *Aggregate) Contexts() ([]string, error) {
	all, err := a.Primary.Contexts()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(all))
	for _, c := range all {
		seen[c] = struct{}{}
	}

	leafContexts := make([][]string, len(a.Deps))
	var g errgroup.Group
	g.SetLimit(maxParallel())
	for i, leaf := range a.Deps {
		i, leaf := i, leaf
		g.Go(func() error {
			cs, err := leaf.Store.Contexts()
			if err != nil {
				return err
			}
			var kept []string
			for _, c := range cs {
				if !leaf.excluded(c) {
					kept = append(kept, c)
				}
			}
			leafContexts[i] = kept
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, cs := range leafContexts {
		for _, c := range cs {
			seen[c] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out, nil
}

// Len returns the quad count honoring the same exclusion rules as Triples;
// triples counted in excluded contexts contribute zero.
func (a *Aggregate) Len(context string) (int, error) {
	n, err := a.Primary.Len(context)
	if err != nil {
		return 0, err
	}
	for _, leaf := range a.Deps {
		if leaf.excluded(context) {
			continue
		}
		if context != "" {
			ln, err := leaf.Store.Len(context)
			if err != nil {
				return 0, err
			}
			n += ln
			continue
		}
		cs, err := leaf.Store.Contexts()
		if err != nil {
			return 0, err
		}
		for _, c := range cs {
			if leaf.excluded(c) {
				continue
			}
			ln, err := leaf.Store.Len(c)
			if err != nil {
				return 0, err
			}
			n += ln
		}
	}
	return n, nil
}

// Add always fails: the aggregate store is read-only.
func (a *Aggregate) Add(rdf.Quad) error {
	return bundleerr.UnsupportedAggregateOperation("Aggregate.Add")
}

// AddN always fails; see Add.
func (a *Aggregate) AddN([]rdf.Quad) error {
	return bundleerr.UnsupportedAggregateOperation("Aggregate.AddN")
}

// Remove always fails; see Add.
func (a *Aggregate) Remove(rdf.Quad) error {
	return bundleerr.UnsupportedAggregateOperation("Aggregate.Remove")
}

func maxParallel() int {
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}
