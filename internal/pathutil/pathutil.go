// Package pathutil implements the small set of path-manipulation helpers
// fdbmonitor needs before any file it references is guaranteed to exist:
// making a configured path absolute and cleaned (symlinks are not resolved)
// and creating a lock file's parent directory tree.
package pathutil

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Abspath resolves path to an absolute, cleaned form relative to the
// process's current working directory, without requiring that path (or any
// component of it) actually exist yet — unlike filepath.Abs on some
// platforms' edge cases, this never stats the filesystem.
func Abspath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get working directory")
	}

	return JoinPath(wd, path), nil
}

// JoinPath joins base and rel the way filepath.Join does, then cleans the
// result; it exists mainly so callers reach for one helper instead of
// switching between filepath.Join and filepath.Clean.
func JoinPath(base, rel string) string {
	return filepath.Clean(filepath.Join(base, rel))
}

// MkdirAll creates every missing directory in path's chain with the given
// mode, matching the original's recursive lock-directory creation.
func MkdirAll(path string, mode os.FileMode) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", path)
	}
	return nil
}
