// Package canon canonicalizes RDF contexts to a deterministic N-triples
// byte form and hashes them, the filename-as-hash scheme that lets
// identical contexts across bundles share one graph file.
package canon

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	"github.com/owmeta/go-bundle/rdf"
	"github.com/zeebo/blake3"
)

// DefaultAlgorithm is the hash algorithm used when none is configured.
const DefaultAlgorithm = "sha224"

// BlockSize bounds the amount of file content hashed per read; file hashing
// streams input in blocks of this many bytes.
const BlockSize = 64 * 1024

// NewHash returns a fresh hash.Hash for the named algorithm. Supported
// names: "sha224" (default, crypto/sha256.New224), "sha256", and "blake3".
func NewHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "", DefaultAlgorithm:
		return sha256.New224(), nil
	case "sha256":
		return sha256.New(), nil
	case "blake3":
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("canon: unsupported hash algorithm %q", algorithm)
	}
}

// Serialize sorts triples into N-triples lexical order and concatenates
// their serialized lines, one trailing newline per triple.
func Serialize(triples []rdf.Triple) []byte {
	lines := make([]string, len(triples))
	for i, t := range triples {
		lines[i] = t.NTriplesLine()
	}
	sort.Strings(lines)

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
	}
	return []byte(b.String())
}

// Digest hashes b with the named algorithm and returns the raw digest
// bytes and their lowercase hex encoding.
func Digest(algorithm string, b []byte) (raw []byte, hex string, err error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return nil, "", err
	}
	if _, err := h.Write(b); err != nil {
		return nil, "", fmt.Errorf("canon: hashing bytes: %w", err)
	}
	raw = h.Sum(nil)
	return raw, fmt.Sprintf("%x", raw), nil
}

// HashFile streams r through the named hash algorithm in BlockSize chunks
// and returns the raw digest.
func HashFile(algorithm string, r io.Reader) ([]byte, error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return nil, fmt.Errorf("canon: hashing file: %w", err)
	}
	return h.Sum(nil), nil
}

// EncodeLengthPrefixed writes a digest as a single length byte followed by
// the raw digest bytes, the format graphs/hashes and files/hashes lines use.
func EncodeLengthPrefixed(digest []byte) []byte {
	out := make([]byte, 0, len(digest)+1)
	out = append(out, byte(len(digest)))
	out = append(out, digest...)
	return out
}
