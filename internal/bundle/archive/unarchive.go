package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/owmeta/go-bundle/internal/bundle"
	"github.com/owmeta/go-bundle/internal/bundleerr"
)

// Unarchiver unpacks bundle archives into a bundles root, validating the
// manifest member and the target directory it implies.
type Unarchiver struct {
	// BundlesRoot, if set, causes Unpack to derive the target directory
	// from the archive's own manifest (id, version) rather than requiring
	// a caller-supplied target.
	BundlesRoot string
}

// Unpack reads the xz-tar archive from r and extracts it into target (or,
// if target is empty and BundlesRoot is set, into the directory implied
// by the archive's manifest). Returns the directory actually used.
func (u *Unarchiver) Unpack(r io.Reader, target string) (string, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("creating xz reader: %w", err)
	}
	tr := tar.NewReader(xr)

	manifest, members, err := readAllMembers(tr)
	if err != nil {
		return "", err
	}

	impliedTarget := ""
	if u.BundlesRoot != "" {
		impliedTarget = bundle.NewPaths(u.BundlesRoot, manifest.ID, manifest.Version).Root
	}

	dest := target
	switch {
	case dest == "" && impliedTarget == "":
		return "", fmt.Errorf("unarchive: no target directory given and no bundles root configured")
	case dest == "":
		dest = impliedTarget
	case impliedTarget != "" && filepath.Clean(dest) != filepath.Clean(impliedTarget):
		return "", bundleerr.TargetDirectoryMismatch("Unarchiver.Unpack", impliedTarget, dest)
	}

	if info, err := os.Stat(dest); err == nil {
		if info.IsDir() {
			entries, err := os.ReadDir(dest)
			if err != nil {
				return "", fmt.Errorf("reading target directory: %w", err)
			}
			if len(entries) != 0 {
				return "", bundleerr.TargetIsNotEmpty("Unarchiver.Unpack", dest)
			}
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat target directory: %w", err)
	}

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return "", fmt.Errorf("creating target directory: %w", err)
	}

	if err := extractSafe(members, dest); err != nil {
		os.RemoveAll(dest)
		return "", err
	}

	return dest, nil
}

// ReadManifestFromArchive reads and validates only the manifest member of
// an xz-tar archive, without extracting the rest, for callers (such as the
// deployer) that only need to inspect a bundle's identity.
func ReadManifestFromArchive(r io.Reader) (*bundle.Manifest, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating xz reader: %w", err)
	}
	tr := tar.NewReader(xr)

	manifest, _, err := readAllMembers(tr)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

type member struct {
	header *tar.Header
	data   []byte
}

// readAllMembers buffers every tar member (archives are small bundle
// payloads, not streamed multi-gigabyte media) so the manifest can be
// validated and the target resolved before any file touches disk.
func readAllMembers(tr *tar.Reader) (*bundle.Manifest, []member, error) {
	var members []member
	var manifest *bundle.Manifest
	var totalSize int64
	fileCount := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading tar: %w", err)
		}

		fileCount++
		if fileCount > MaxFileCount {
			return nil, nil, bundleerr.NotABundlePath("Unarchiver.Unpack", "", fmt.Errorf("archive exceeds maximum file count (%d)", MaxFileCount))
		}
		if header.Size > MaxFileSize {
			return nil, nil, bundleerr.NotABundlePath("Unarchiver.Unpack", header.Name, fmt.Errorf("member exceeds maximum size (%d bytes)", MaxFileSize))
		}
		totalSize += header.Size
		if totalSize > MaxBundleSize {
			return nil, nil, bundleerr.NotABundlePath("Unarchiver.Unpack", "", fmt.Errorf("archive exceeds maximum total size (%d bytes)", MaxBundleSize))
		}

		if err := validateMemberPath(header.Name); err != nil {
			return nil, nil, bundleerr.NotABundlePath("Unarchiver.Unpack", header.Name, err)
		}

		var data []byte
		if header.Typeflag == tar.TypeReg {
			data = make([]byte, header.Size)
			if _, err := io.ReadFull(tr, data); err != nil {
				return nil, nil, fmt.Errorf("reading member %q: %w", header.Name, err)
			}
		}

		name := strings.TrimPrefix(header.Name, "./")
		if name == bundle.ManifestFileName {
			manifest, err = bundle.DecodeManifest(bytes.NewReader(data))
			if err != nil {
				return nil, nil, err
			}
		}

		members = append(members, member{header: header, data: data})
	}

	if manifest == nil {
		return nil, nil, bundleerr.NotABundlePath("Unarchiver.Unpack", "", fmt.Errorf("archive has no manifest member"))
	}

	return manifest, members, nil
}

// validateMemberPath rejects absolute paths, parent-directory references,
// and null bytes.
func validateMemberPath(name string) error {
	if filepath.IsAbs(name) {
		return fmt.Errorf("absolute paths not allowed: %s", name)
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("null bytes not allowed in path: %s", name)
	}
	clean := filepath.Clean(strings.TrimPrefix(name, "./"))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("parent directory references not allowed: %s", name)
	}
	return nil
}

// extractSafe extracts every member into dest, rejecting any symlink or
// hardlink whose target escapes dest. Hardlinks and symlinks are checked
// uniformly.
func extractSafe(members []member, dest string) error {
	cleanDest := filepath.Clean(dest)

	for _, m := range members {
		name := filepath.FromSlash(strings.TrimPrefix(m.header.Name, "./"))
		if name == "" || name == "." {
			continue
		}
		targetPath := filepath.Join(dest, name)
		if !withinRoot(cleanDest, targetPath) {
			return bundleerr.NotABundlePath("Unarchiver.Unpack", m.header.Name, fmt.Errorf("member escapes target directory"))
		}

		switch m.header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, sanitizeMode(m.header.Mode, true)); err != nil {
				return fmt.Errorf("creating directory %q: %w", name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o750); err != nil {
				return fmt.Errorf("creating parent directory for %q: %w", name, err)
			}
			if err := os.WriteFile(targetPath, m.data, sanitizeMode(m.header.Mode, false)); err != nil {
				return fmt.Errorf("writing file %q: %w", name, err)
			}
		case tar.TypeSymlink, tar.TypeLink:
			linkDir := filepath.Dir(targetPath)
			resolved := m.header.Linkname
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(linkDir, resolved)
			}
			if !withinRoot(cleanDest, resolved) {
				return bundleerr.NotABundlePath("Unarchiver.Unpack", m.header.Name, fmt.Errorf("link target escapes target directory"))
			}
			if err := os.MkdirAll(linkDir, 0o750); err != nil {
				return fmt.Errorf("creating parent directory for %q: %w", name, err)
			}
			if m.header.Typeflag == tar.TypeSymlink {
				if err := os.Symlink(m.header.Linkname, targetPath); err != nil {
					return fmt.Errorf("creating symlink %q: %w", name, err)
				}
			} else if err := os.Link(resolved, targetPath); err != nil {
				return fmt.Errorf("creating hardlink %q: %w", name, err)
			}
		}
	}
	return nil
}

func withinRoot(root, path string) bool {
	clean := filepath.Clean(path)
	if clean == root {
		return true
	}
	return strings.HasPrefix(clean, root+string(filepath.Separator))
}

func sanitizeMode(mode int64, isDir bool) os.FileMode {
	const maxMode = 0777
	if mode < 0 || mode > maxMode {
		mode = maxMode
	}
	fileMode := os.FileMode(mode)
	if isDir {
		return fileMode & 0750
	}
	return fileMode & 0600
}
