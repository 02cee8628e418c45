package reader

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/owmeta/go-bundle/internal/bundleerr"
	"github.com/owmeta/go-bundle/rdf"
)

// indexedDB is a read-only rdf.Store backed by a bundle's owm.db quad
// table: opened read-only by Bundle and read-write by Installer.
type indexedDB struct {
	sqlDB *sql.DB
}

func openIndexedDB(path string) (*indexedDB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening indexed database %q: %w", path, err)
	}
	return &indexedDB{sqlDB: db}, nil
}

func (d *indexedDB) Triples(pattern rdf.Pattern, context string) ([]rdf.Quad, error) {
	query := `SELECT subject, predicate, object, context FROM quads WHERE 1=1`
	var args []any
	if pattern.Subject != nil {
		query += ` AND subject = ?`
		args = append(args, pattern.Subject.NTriplesString())
	}
	if pattern.Predicate != nil {
		query += ` AND predicate = ?`
		args = append(args, pattern.Predicate.NTriplesString())
	}
	if pattern.Object != nil {
		query += ` AND object = ?`
		args = append(args, pattern.Object.NTriplesString())
	}
	if context != "" {
		query += ` AND context = ?`
		args = append(args, context)
	}

	rows, err := d.sqlDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying indexed database: %w", err)
	}
	defer rows.Close()

	var out []rdf.Quad
	for rows.Next() {
		var s, p, o, ctx string
		if err := rows.Scan(&s, &p, &o, &ctx); err != nil {
			return nil, fmt.Errorf("scanning quad row: %w", err)
		}
		out = append(out, rdf.Quad{
			Triple:  rdf.Triple{Subject: parseNTriplesTerm(s), Predicate: parseNTriplesTerm(p), Object: parseNTriplesTerm(o)},
			Context: ctx,
		})
	}
	return out, rows.Err()
}

func (d *indexedDB) TriplesChoices(subject, predicate *rdf.Term, objects []rdf.Term, context string) ([]rdf.Quad, error) {
	if len(objects) == 0 {
		return d.Triples(rdf.Pattern{Subject: subject, Predicate: predicate}, context)
	}

	var out []rdf.Quad
	for i := range objects {
		qs, err := d.Triples(rdf.Pattern{Subject: subject, Predicate: predicate, Object: &objects[i]}, context)
		if err != nil {
			return nil, err
		}
		out = append(out, qs...)
	}
	return out, nil
}

func (d *indexedDB) Contexts() ([]string, error) {
	rows, err := d.sqlDB.Query(`SELECT DISTINCT context FROM quads`)
	if err != nil {
		return nil, fmt.Errorf("querying contexts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ctx string
		if err := rows.Scan(&ctx); err != nil {
			return nil, err
		}
		out = append(out, ctx)
	}
	return out, rows.Err()
}

func (d *indexedDB) Len(context string) (int, error) {
	query := `SELECT COUNT(*) FROM quads`
	var args []any
	if context != "" {
		query += ` WHERE context = ?`
		args = append(args, context)
	}
	var n int
	if err := d.sqlDB.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting quads: %w", err)
	}
	return n, nil
}

func (d *indexedDB) Add(rdf.Quad) error {
	return bundleerr.UnsupportedAggregateOperation("indexedDB.Add")
}

func (d *indexedDB) AddN([]rdf.Quad) error {
	return bundleerr.UnsupportedAggregateOperation("indexedDB.AddN")
}

func (d *indexedDB) Remove(rdf.Quad) error {
	return bundleerr.UnsupportedAggregateOperation("indexedDB.Remove")
}

// parseNTriplesTerm parses a term as it was stored by the installer (its
// own Term.NTriplesString() output) back into an rdf.Term with the right
// Kind, so reading a quad back from the indexed database yields the same
// shape the installer wrote rather than wrapping every term as an IRI.
func parseNTriplesTerm(s string) rdf.Term {
	switch {
	case strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">"):
		return rdf.IRI(s[1 : len(s)-1])
	case strings.HasPrefix(s, "_:"):
		return rdf.BlankNode(s[2:])
	case strings.HasPrefix(s, `"`):
		return parseNTriplesLiteral(s)
	default:
		return rdf.IRI(s)
	}
}

func parseNTriplesLiteral(s string) rdf.Term {
	i := 1
	var value strings.Builder
	for i < len(s) {
		c := s[i]
		if c == '"' {
			i++
			break
		}
		if c == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\':
				value.WriteByte('\\')
			case '"':
				value.WriteByte('"')
			case 'n':
				value.WriteByte('\n')
			case 'r':
				value.WriteByte('\r')
			default:
				value.WriteByte(s[i+1])
			}
			i += 2
			continue
		}
		value.WriteByte(c)
		i++
	}

	rest := s[i:]
	switch {
	case strings.HasPrefix(rest, "@"):
		return rdf.Literal(value.String(), "", rest[1:])
	case strings.HasPrefix(rest, "^^<") && strings.HasSuffix(rest, ">"):
		return rdf.Literal(value.String(), rest[3:len(rest)-1], "")
	default:
		return rdf.Literal(value.String(), "", "")
	}
}
