// Package http implements the HTTP loader and uploader: an index-based
// discovery mechanism with per-bundle hash verification.
package http

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/owmeta/go-bundle/internal/bundle/archive"
	"github.com/owmeta/go-bundle/internal/bundle/canon"
	"github.com/owmeta/go-bundle/internal/bundleerr"
	"github.com/owmeta/go-bundle/internal/bundle/registry"
)

// IndexEntry is one version entry in the HTTP index document.
type IndexEntry struct {
	URL    string            `json:"url"`
	Hashes map[string]string `json:"hashes"`
}

// Index is the JSON document an HTTP loader's configured URL points at:
// bundle id -> decimal version string -> IndexEntry.
type Index map[string]map[string]IndexEntry

// cachedIndex remembers the last fetched index body alongside its ETag so
// repeat CanLoad/BundleVersions/Load calls can issue a conditional GET.
type cachedIndex struct {
	body Index
	etag string
}

// Loader is the HTTP loader: discovers bundles through a JSON index and
// downloads+verifies archives named there.
type Loader struct {
	IndexURL       string
	Client         *retryablehttp.Client
	HashPreference []string // preferred hash algorithm names, in order

	mu    sync.Mutex
	cache *cachedIndex
}

// NewLoader returns a Loader reading its index from indexURL, using a
// bounded-retry retryablehttp client if client is nil.
func NewLoader(indexURL string, client *retryablehttp.Client) *Loader {
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
	}
	return &Loader{IndexURL: indexURL, Client: client, HashPreference: []string{"blake3", "sha256", "sha224"}}
}

// NewLoaderFactory adapts NewLoader to registry.LoaderFactory, reading the
// index URL from cfg.Settings["url"].
func NewLoaderFactory() registry.LoaderFactory {
	return func(cfg registry.AccessorConfig) (registry.Loader, error) {
		url := cfg.Settings["url"]
		if url == "" {
			return nil, fmt.Errorf("http loader: accessor config missing \"url\" setting")
		}
		return NewLoader(url, nil), nil
	}
}

func (l *Loader) fetchIndex() (Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, err := retryablehttp.NewRequest(http.MethodGet, l.IndexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building index request: %w", err)
	}
	if l.cache != nil && l.cache.etag != "" {
		req.Header.Set("If-None-Match", l.cache.etag)
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && l.cache != nil {
		return l.cache.body, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching index: unexpected status %d", resp.StatusCode)
	}

	var idx Index
	if err := json.NewDecoder(resp.Body).Decode(&idx); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}

	l.cache = &cachedIndex{body: idx, etag: resp.Header.Get("ETag")}
	return idx, nil
}

// CanLoad reports whether the index has an entry with a parseable HTTP(S)
// URL for id at version (or any version, if version is nil).
func (l *Loader) CanLoad(id string, version *int) (bool, error) {
	idx, err := l.fetchIndex()
	if err != nil {
		return false, nil // transport failure: treated as "can't load", not an error
	}
	versions, ok := idx[id]
	if !ok {
		return false, nil
	}
	if version != nil {
		entry, ok := versions[strconv.Itoa(*version)]
		return ok && isHTTPURL(entry.URL), nil
	}
	for v, entry := range versions {
		if _, err := strconv.Atoi(v); err == nil && isHTTPURL(entry.URL) {
			return true, nil
		}
	}
	return false, nil
}

func isHTTPURL(u string) bool {
	return len(u) > 0 && (hasPrefix(u, "http://") || hasPrefix(u, "https://"))
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// BundleVersions returns the integer-keyed versions of id in the index;
// entries with non-integer keys are ignored.
func (l *Loader) BundleVersions(id string) ([]int, error) {
	idx, err := l.fetchIndex()
	if err != nil {
		return nil, err
	}
	versions, ok := idx[id]
	if !ok {
		return nil, nil
	}
	var out []int
	for v := range versions {
		if n, err := strconv.Atoi(v); err == nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// Load downloads (id, version) and unpacks it into baseDir, verifying the
// body against the index's declared hash.
func (l *Loader) Load(id string, version *int, baseDir string) error {
	idx, err := l.fetchIndex()
	if err != nil {
		return bundleerr.LoadFailed("Loader.Load", id, err)
	}

	versions, ok := idx[id]
	if !ok {
		return bundleerr.LoadFailed("Loader.Load", id, fmt.Errorf("no index entry for %q", id))
	}

	v := version
	if v == nil {
		best, ok := maxIntegerVersion(versions)
		if !ok {
			return bundleerr.LoadFailed("Loader.Load", id, fmt.Errorf("no versioned entries for %q", id))
		}
		v = &best
	}

	entry, ok := versions[strconv.Itoa(*v)]
	if !ok {
		return bundleerr.LoadFailed("Loader.Load", id, fmt.Errorf("no index entry for %q version %d", id, *v))
	}

	algo, wantHex, err := l.chooseHash(entry.Hashes)
	if err != nil {
		return bundleerr.LoadFailed("Loader.Load", id, err)
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, entry.URL, nil)
	if err != nil {
		return bundleerr.LoadFailed("Loader.Load", id, err)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return bundleerr.LoadFailed("Loader.Load", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return bundleerr.LoadFailed("Loader.Load", id, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var buf bytes.Buffer
	h, err := canon.NewHash(algo)
	if err != nil {
		return bundleerr.LoadFailed("Loader.Load", id, err)
	}
	if _, err := io.Copy(io.MultiWriter(&buf, h), resp.Body); err != nil {
		return bundleerr.LoadFailed("Loader.Load", id, err)
	}

	gotHex := hex.EncodeToString(h.Sum(nil))
	if gotHex != wantHex {
		return bundleerr.LoadFailed("Loader.Load", id, fmt.Errorf("%s digest mismatch: index says %s, downloaded bytes hash to %s", algo, wantHex, gotHex))
	}

	u := &archive.Unarchiver{}
	if _, err := u.Unpack(&buf, baseDir); err != nil {
		return bundleerr.LoadFailed("Loader.Load", id, err)
	}
	return nil
}

func maxIntegerVersion(versions map[string]IndexEntry) (int, bool) {
	best := -1
	for v := range versions {
		if n, err := strconv.Atoi(v); err == nil && n > best {
			best = n
		}
	}
	return best, best >= 0
}

func (l *Loader) chooseHash(hashes map[string]string) (algo, hexDigest string, err error) {
	for _, pref := range l.HashPreference {
		if h, ok := hashes[pref]; ok {
			return pref, h, nil
		}
	}
	for name, h := range hashes {
		if _, err := canon.NewHash(name); err == nil {
			return name, h, nil
		}
	}
	return "", "", fmt.Errorf("no supported hash algorithm in index entry")
}
