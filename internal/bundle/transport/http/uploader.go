package http

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/owmeta/go-bundle/internal/bundle/archive"
	"github.com/owmeta/go-bundle/internal/bundle/registry"
	"github.com/owmeta/go-bundle/internal/log"
)

// Uploader POSTs a bundle directory, packed as an xz-tar, to a configured
// endpoint.
type Uploader struct {
	URL    string
	Client *retryablehttp.Client
	Log    *log.Logger
}

// NewUploader returns an Uploader POSTing to url.
func NewUploader(url string, client *retryablehttp.Client) *Uploader {
	u := &Uploader{URL: url, Log: log.DefaultLogger()}
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
		client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt == 0 {
				return
			}
			remaining := client.RetryMax - attempt
			u.Log.Warn("retrying upload", "url", req.URL.String(), "attempt", attempt, "retries_remaining", remaining)
		}
	}
	u.Client = client
	return u
}

// NewUploaderFactory adapts NewUploader to registry.UploaderFactory, reading
// the destination URL from cfg.Settings["url"].
func NewUploaderFactory() registry.UploaderFactory {
	return func(cfg registry.AccessorConfig) (registry.Uploader, error) {
		url := cfg.Settings["url"]
		if url == "" {
			return nil, fmt.Errorf("http uploader: accessor config missing \"url\" setting")
		}
		return NewUploader(url, nil), nil
	}
}

// CanUpload reports whether path looks like a bundle directory this
// uploader can pack and send: an http(s) destination accepts any directory.
func (u *Uploader) CanUpload(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	return info.IsDir() && isHTTPURL(u.URL), nil
}

// Upload packs path (a bundle directory) and POSTs it to u.URL.
func (u *Uploader) Upload(path string) error {
	var buf bytes.Buffer
	if err := archive.Pack(&buf, path); err != nil {
		return fmt.Errorf("packing %q for upload: %w", path, err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, u.URL, &buf)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", archive.ContentType)
	req.Header.Set("X-Bundle-Source", filepath.Base(path))

	resp, err := u.Client.Do(req)
	if err != nil {
		u.Log.WithError(err).Warn("upload failed", "path", path, "url", u.URL)
		return fmt.Errorf("uploading %q: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("uploading %q: unexpected status %d", path, resp.StatusCode)
	}
	u.Log.Info("uploaded bundle", "path", path, "url", u.URL)
	return nil
}
