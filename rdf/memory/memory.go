// Package memory provides a minimal in-memory rdf.Store and rdf.ContextSource
// for tests and for callers that have no external RDF engine wired in. It is
// not a production triple store: it holds every quad in a slice and scans
// linearly, which is adequate for the bundle sizes exercised in this
// module's tests.
package memory

import (
	"sort"
	"sync"

	"github.com/owmeta/go-bundle/rdf"
)

// Store is a concurrency-safe, in-memory rdf.Store and rdf.ContextSource.
type Store struct {
	mu       sync.RWMutex
	quads    []rdf.Quad
	readOnly bool
}

// New returns an empty, writable store.
func New() *Store {
	return &Store{}
}

// NewReadOnly returns a store seeded with quads that rejects all mutation,
// used to model an opened (on-disk) bundle store.
func NewReadOnly(quads []rdf.Quad) *Store {
	cp := make([]rdf.Quad, len(quads))
	copy(cp, quads)
	return &Store{quads: cp, readOnly: true}
}

func matches(p rdf.Pattern, t rdf.Triple) bool {
	if p.Subject != nil && *p.Subject != t.Subject {
		return false
	}
	if p.Predicate != nil && *p.Predicate != t.Predicate {
		return false
	}
	if p.Object != nil && *p.Object != t.Object {
		return false
	}
	return true
}

// Triples implements rdf.Store.
func (s *Store) Triples(pattern rdf.Pattern, context string) ([]rdf.Quad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []rdf.Quad
	for _, q := range s.quads {
		if context != "" && q.Context != context {
			continue
		}
		if matches(pattern, q.Triple) {
			out = append(out, q)
		}
	}
	return out, nil
}

// TriplesChoices implements rdf.Store.
func (s *Store) TriplesChoices(subject, predicate *rdf.Term, objects []rdf.Term, context string) ([]rdf.Quad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objSet := make(map[rdf.Term]struct{}, len(objects))
	for _, o := range objects {
		objSet[o] = struct{}{}
	}

	var out []rdf.Quad
	for _, q := range s.quads {
		if context != "" && q.Context != context {
			continue
		}
		if subject != nil && *subject != q.Subject {
			continue
		}
		if predicate != nil && *predicate != q.Predicate {
			continue
		}
		if len(objSet) > 0 {
			if _, ok := objSet[q.Object]; !ok {
				continue
			}
		}
		out = append(out, q)
	}
	return out, nil
}

// Contexts implements rdf.Store and rdf.ContextSource.
func (s *Store) Contexts() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, q := range s.quads {
		seen[q.Context] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// ContextTriples implements rdf.ContextSource.
func (s *Store) ContextTriples(context string) ([]rdf.Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []rdf.Triple
	for _, q := range s.quads {
		if q.Context == context {
			out = append(out, q.Triple)
		}
	}
	return out, nil
}

// Len implements rdf.Store.
func (s *Store) Len(context string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if context == "" {
		return len(s.quads), nil
	}
	n := 0
	for _, q := range s.quads {
		if q.Context == context {
			n++
		}
	}
	return n, nil
}

// Add implements rdf.Store.
func (s *Store) Add(q rdf.Quad) error {
	if s.readOnly {
		return &rdf.UnsupportedOperationError{Operation: "Add"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quads = append(s.quads, q)
	return nil
}

// AddN implements rdf.Store.
func (s *Store) AddN(qs []rdf.Quad) error {
	if s.readOnly {
		return &rdf.UnsupportedOperationError{Operation: "AddN"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quads = append(s.quads, qs...)
	return nil
}

// Remove implements rdf.Store.
func (s *Store) Remove(q rdf.Quad) error {
	if s.readOnly {
		return &rdf.UnsupportedOperationError{Operation: "Remove"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.quads {
		if existing == q {
			s.quads = append(s.quads[:i], s.quads[i+1:]...)
			return nil
		}
	}
	return nil
}

// AddContext adds every triple t under context in a single call, a
// convenience used by tests to seed a ContextSource-backed graph.
func (s *Store) AddContext(context string, triples []rdf.Triple) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range triples {
		s.quads = append(s.quads, rdf.Quad{Triple: t, Context: context})
	}
}
