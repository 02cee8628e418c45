package bundle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/owmeta/go-bundle/internal/bundleerr"
	"gopkg.in/yaml.v3"
)

// IncludeRule names one context that an installer should select, optionally
// tolerating it being empty while still counting as "covered" for the
// imports-closure check.
type IncludeRule struct {
	URI   string
	Empty bool
}

// PatternRule is a compiled selector over context URIs: either a regex
// (source prefixed "rgx:") or a glob, translated to a regex by three
// literal replacements (`* -> .*`, `? -> .?`, `[! -> [^`). Both forms
// match like Python's re.match: anchored at the start only, not the end.
type PatternRule struct {
	Source string
	re     *regexp.Regexp
}

// Match reports whether uri matches the compiled pattern, anchored at the
// start of uri (a prefix match, not a full match).
func (p PatternRule) Match(uri string) bool { return p.re.MatchString(uri) }

func compilePattern(src string) (PatternRule, error) {
	var expr string
	if rgx, ok := strings.CutPrefix(src, "rgx:"); ok {
		expr = rgx
	} else {
		expr = globToRegexp(src)
	}
	// Anchor at the start only, matching Python's re.match semantics
	// rather than re.search or a full match.
	re, err := regexp.Compile(`^(?:` + expr + `)`)
	if err != nil {
		return PatternRule{}, fmt.Errorf("compiling pattern %q: %w", src, err)
	}
	return PatternRule{Source: src, re: re}, nil
}

// globToRegexp performs the same three literal replacements as the
// original's GlobURIPattern: no other escaping or anchoring.
func globToRegexp(glob string) string {
	glob = strings.ReplaceAll(glob, "*", ".*")
	glob = strings.ReplaceAll(glob, "?", ".?")
	glob = strings.ReplaceAll(glob, "[!", "[^")
	return glob
}

// FileSelector selects auxiliary files relative to a source directory by
// exact path or by glob/regex pattern.
type FileSelector struct {
	Includes []string
	Patterns []PatternRule
}

// Descriptor is the declarative installer input parsed from a YAML
// document.
type Descriptor struct {
	ID           string
	Version      int
	Name         string
	Description  string
	Includes     []IncludeRule
	Patterns     []PatternRule
	Files        FileSelector
	Dependencies []DependencyDescriptor
}

// rawDescriptor mirrors the YAML document shape before include/dependency
// entries are normalized out of their heterogeneous forms.
type rawDescriptor struct {
	ID          string      `yaml:"id"`
	Version     int         `yaml:"version"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Includes    []yaml.Node `yaml:"includes"`
	Patterns    []string    `yaml:"patterns"`
	Files       struct {
		Includes []string `yaml:"includes"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"files"`
	Dependencies []yaml.Node `yaml:"dependencies"`
}

// ParseDescriptor parses a YAML bundle descriptor document.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var raw rawDescriptor
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, bundleerr.NotADescriptor("ParseDescriptor", err)
	}
	if raw.ID == "" {
		return nil, bundleerr.NotADescriptor("ParseDescriptor", fmt.Errorf("id is required"))
	}
	if raw.Version == 0 {
		raw.Version = 1
	}

	d := &Descriptor{
		ID:          raw.ID,
		Version:     raw.Version,
		Name:        raw.Name,
		Description: raw.Description,
		Files: FileSelector{
			Includes: raw.Files.Includes,
		},
	}

	for _, node := range raw.Includes {
		rule, err := decodeIncludeRule(&node)
		if err != nil {
			return nil, bundleerr.NotADescriptor("ParseDescriptor", err)
		}
		d.Includes = append(d.Includes, rule)
	}

	for _, src := range raw.Patterns {
		p, err := compilePattern(src)
		if err != nil {
			return nil, bundleerr.NotADescriptor("ParseDescriptor", err)
		}
		d.Patterns = append(d.Patterns, p)
	}

	for _, src := range raw.Files.Patterns {
		p, err := compilePattern(src)
		if err != nil {
			return nil, bundleerr.NotADescriptor("ParseDescriptor", err)
		}
		d.Files.Patterns = append(d.Files.Patterns, p)
	}

	deps, err := decodeDependencies(raw.Dependencies)
	if err != nil {
		return nil, bundleerr.NotADescriptor("ParseDescriptor", err)
	}
	d.Dependencies = deps

	return d, nil
}

// decodeIncludeRule accepts a plain scalar URI or a single-key mapping
// {uri: {empty: bool}}.
func decodeIncludeRule(node *yaml.Node) (IncludeRule, error) {
	if node.Kind == yaml.ScalarNode {
		return IncludeRule{URI: node.Value}, nil
	}
	if node.Kind == yaml.MappingNode && len(node.Content) >= 2 {
		uri := node.Content[0].Value
		var opts struct {
			Empty bool `yaml:"empty"`
		}
		if err := node.Content[1].Decode(&opts); err != nil {
			return IncludeRule{}, fmt.Errorf("decoding include options for %q: %w", uri, err)
		}
		return IncludeRule{URI: uri, Empty: opts.Empty}, nil
	}
	return IncludeRule{}, fmt.Errorf("include rule must be a string or a single-key mapping")
}

// decodeDependencies accepts a plain string id, a [id, version] sequence,
// or a {id, version, excludes} mapping, preserving order and dropping
// duplicates by (id, version).
func decodeDependencies(nodes []yaml.Node) ([]DependencyDescriptor, error) {
	seen := make(map[[2]any]struct{})
	var out []DependencyDescriptor
	for _, node := range nodes {
		dep, err := decodeDependency(&node)
		if err != nil {
			return nil, err
		}
		key := [2]any{dep.ID, dep.Version}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, dep)
	}
	return out, nil
}

func decodeDependency(node *yaml.Node) (DependencyDescriptor, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return DependencyDescriptor{ID: node.Value, Version: 1}, nil
	case yaml.SequenceNode:
		if len(node.Content) < 1 {
			return DependencyDescriptor{}, fmt.Errorf("dependency sequence must have at least an id")
		}
		dep := DependencyDescriptor{ID: node.Content[0].Value, Version: 1}
		if len(node.Content) >= 2 {
			v, err := strconv.Atoi(node.Content[1].Value)
			if err != nil {
				return DependencyDescriptor{}, fmt.Errorf("dependency version must be an integer: %w", err)
			}
			dep.Version = v
		}
		return dep, nil
	case yaml.MappingNode:
		var m struct {
			ID       string   `yaml:"id"`
			Version  int      `yaml:"version"`
			Excludes []string `yaml:"excludes"`
		}
		if err := node.Decode(&m); err != nil {
			return DependencyDescriptor{}, fmt.Errorf("decoding dependency mapping: %w", err)
		}
		if m.ID == "" {
			return DependencyDescriptor{}, fmt.Errorf("dependency mapping requires id")
		}
		if m.Version == 0 {
			m.Version = 1
		}
		return DependencyDescriptor{ID: m.ID, Version: m.Version, Excludes: m.Excludes}, nil
	default:
		return DependencyDescriptor{}, fmt.Errorf("unsupported dependency node kind")
	}
}

// MatchesInclude reports whether uri is selected by an exact include rule
// or a pattern rule, and whether it was matched via an include rule marked
// empty (for imports-closure purposes, an empty include still counts as
// covered without needing triples present).
func (d *Descriptor) MatchesInclude(uri string) (matched bool, declaredEmpty bool) {
	for _, r := range d.Includes {
		if r.URI == uri {
			return true, r.Empty
		}
	}
	for _, p := range d.Patterns {
		if p.Match(uri) {
			return true, false
		}
	}
	return false, false
}

// EmptyURIs returns the set of context URIs declared empty among the
// descriptor's includes.
func (d *Descriptor) EmptyURIs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, r := range d.Includes {
		if r.Empty {
			out[r.URI] = struct{}{}
		}
	}
	return out
}

// MatchesFile reports whether relpath is selected by the files selector's
// exact includes or patterns.
func (d *Descriptor) MatchesFile(relpath string) bool {
	for _, p := range d.Files.Includes {
		if p == relpath {
			return true
		}
	}
	for _, p := range d.Files.Patterns {
		if p.Match(relpath) {
			return true
		}
	}
	return false
}
