package cronmon

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// maxSymlinkHops bounds how many symlink indirections configWatcher will
// follow when resolving the configuration file's path, matching spec.md
// section 4.2's loop-guard constant.
const maxSymlinkHops = 100

// configWatcher watches every directory along the symlink chain leading to
// the configuration file, so a change anywhere in that chain — the file
// itself, or any symlink hop redirecting to it — is observed. inotify (via
// fsnotify) only watches directories usefully for rename/create/remove, so
// each hop's parent directory is added individually rather than the file.
type configWatcher struct {
	w    *fsnotify.Watcher
	path string // the configured path, symlinks and all

	watchedDirs map[string]bool
	chain       map[string]bool // every path (symlink hop or final file) in the resolved chain
}

func newConfigWatcher(path string) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create inotify watcher")
	}

	cw := &configWatcher{w: w, path: path, watchedDirs: make(map[string]bool)}
	if _, err := cw.rebuild(); err != nil {
		w.Close()
		return nil, err
	}
	return cw, nil
}

// Events exposes the underlying fsnotify event stream for the Run loop's
// select statement.
func (cw *configWatcher) Events() <-chan fsnotify.Event { return cw.w.Events }

// Errors exposes the underlying fsnotify error stream.
func (cw *configWatcher) Errors() <-chan error { return cw.w.Errors }

func (cw *configWatcher) Close() error { return cw.w.Close() }

// rebuild tears down the current watch set and walks the symlink chain from
// cw.path again, watching each hop's parent directory. It returns the
// number of hops walked. A chain exceeding maxSymlinkHops is treated as a
// loop and reported as an error, matching the original's hard-coded ceiling.
func (cw *configWatcher) rebuild() (hops int, err error) {
	for dir := range cw.watchedDirs {
		cw.w.Remove(dir)
	}
	cw.watchedDirs = make(map[string]bool)
	cw.chain = make(map[string]bool)

	current := cw.path
	for hops = 0; hops < maxSymlinkHops; hops++ {
		cw.chain[current] = true

		dir := filepath.Dir(current)
		if !cw.watchedDirs[dir] {
			if err := cw.w.Add(dir); err != nil {
				return hops, errors.Wrapf(err, "failed to watch %s", dir)
			}
			cw.watchedDirs[dir] = true
		}

		target, err := linkTarget(current)
		if err != nil {
			// Not a symlink, or the hop doesn't exist yet (e.g. the config
			// file hasn't been created): the chain ends here, which is not
			// itself an error — the parent directory watch will notice its
			// eventual creation.
			return hops + 1, nil
		}

		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		current = target
	}

	return hops, errors.Errorf("symlink chain for %s exceeds %d hops", cw.path, maxSymlinkHops)
}

// relevant reports whether an fsnotify event names a path along the
// currently resolved symlink chain, as opposed to an unrelated sibling in a
// watched directory.
func (cw *configWatcher) relevant(evt fsnotify.Event) bool {
	return cw.chain[evt.Name]
}

// linkTarget returns path's symlink target, or an error if path is not a
// symlink (including if it does not exist).
func linkTarget(path string) (string, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return "", errors.New("not a symlink")
	}
	return os.Readlink(path)
}
