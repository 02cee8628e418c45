// Package archive packs a bundle directory into an xz-compressed tar and
// unpacks it back, rejecting unsafe members.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/owmeta/go-bundle/internal/bundle"
)

// Security limits bounding extraction against decompression bombs.
const (
	MaxBundleSize = 1 * 1024 * 1024 * 1024
	MaxFileSize   = 100 * 1024 * 1024
	MaxFileCount  = 10000
)

// ContentType is the historical label POSTed with an archive body, kept
// fixed even though the body is xz, not gzip, compressed.
const ContentType = "application/x-gtar"

// Pack walks bundleDir and writes an xz-compressed tar of every file
// except the indexed database (owm.db) and the installer lock file
// (.lock), to w. Member names are relative
// to bundleDir.
func Pack(w io.Writer, bundleDir string) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating xz writer: %w", err)
	}

	tw := tar.NewWriter(xw)

	walkErr := filepath.Walk(bundleDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(bundleDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if rel == bundle.IndexedDBName || strings.HasPrefix(rel, bundle.IndexedDBName+string(filepath.Separator)) {
			return nil
		}
		if rel == bundle.LockFileName {
			return nil
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("reading symlink %q: %w", rel, err)
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("building tar header for %q: %w", rel, err)
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("writing tar header for %q: %w", rel, err)
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %q: %w", rel, err)
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return fmt.Errorf("writing %q: %w", rel, err)
			}
		}

		return nil
	})
	if walkErr != nil {
		tw.Close()
		xw.Close()
		return walkErr
	}

	if err := tw.Close(); err != nil {
		xw.Close()
		return fmt.Errorf("closing tar writer: %w", err)
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("closing xz writer: %w", err)
	}
	return nil
}
