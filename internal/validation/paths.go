// Package validation guards the path-shaped inputs that cross a trust
// boundary in sharkoder: a remote video path typed into add_job, and the
// remote path embedded in a job row once it's used to build a local backup
// destination under BackupRoot (spec §4.6: "Cleanup policy").
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateRemotePath validates a user-supplied remote video path for basic
// safety before it's accepted into the queue (spec §6: add_job). This is
// lenient: absolute paths and ".." segments are allowed, since the remote
// filesystem layout is outside sharkoder's control and a legitimate remote
// tree can contain either.
func ValidateRemotePath(path string) error {
	if path == "" {
		return fmt.Errorf("remote path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("remote path contains null byte: %s", path)
	}
	return nil
}

// ValidateRemotePaths validates a batch of remote paths, e.g. from a
// directory listing passed to add_job in bulk.
func ValidateRemotePaths(paths []string) error {
	for i, path := range paths {
		if err := ValidateRemotePath(path); err != nil {
			return fmt.Errorf("invalid remote path at index %d: %w", i, err)
		}
	}
	return nil
}

// ValidateFilenameComponent validates a single path component (not a full
// path) derived from untrusted input -- e.g. a codec token or release tag
// folded into an output filename (spec §4.6: "Output filename policy") --
// before it is used in a filepath.Join. Strict, to prevent it from smuggling
// in a path separator or a traversal segment.
func ValidateFilenameComponent(name string) error {
	if name == "" {
		return fmt.Errorf("filename component cannot be empty")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("filename component contains null byte: %s", name)
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, '\\') {
		return fmt.Errorf("filename component cannot contain path separators: %s", name)
	}
	if name == ".." || strings.Contains(name, "..") {
		return fmt.Errorf("filename component cannot contain '..': %s", name)
	}
	return nil
}

// ValidateContainedPath checks that path, once resolved against baseDir,
// does not escape baseDir. sharkoder's cleanup policy builds a local backup
// destination by joining BackupRoot with a remote path stripped of its
// leading slash (spec §4.6); a remote path containing ".." segments could
// otherwise walk the resulting local path out of BackupRoot entirely.
//
// Example:
//
//	ValidateContainedPath("../../etc/passwd", "/var/sharkoder/backups") // error: escapes
//	ValidateContainedPath("movies/show/ep1.mkv", "/var/sharkoder/backups") // ok
func ValidateContainedPath(path string, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	cleanBase := filepath.Clean(baseDir)

	var err error
	if !filepath.IsAbs(cleanBase) {
		cleanBase, err = filepath.Abs(cleanBase)
		if err != nil {
			return fmt.Errorf("resolve base directory: %w", err)
		}
	}

	var resolved string
	if filepath.IsAbs(cleanPath) {
		resolved = cleanPath
	} else {
		resolved = filepath.Join(cleanBase, cleanPath)
	}
	resolved = filepath.Clean(resolved)

	relPath, err := filepath.Rel(cleanBase, resolved)
	if err != nil {
		return fmt.Errorf("compute relative path: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}
	return nil
}
