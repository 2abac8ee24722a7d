// Package lockfile implements fdbmonitor's single-instance guarantee: an
// advisory lock on a well-known path, with the holder's pid written into the
// file once the lock is held.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fjibj/foundationdb/internal/pathutil"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// ErrAlreadyLocked is returned by Acquire when another process already
// holds the lock. Callers treat this as "another fdbmonitor is already
// supervising this configuration" and exit cleanly rather than erroring.
var ErrAlreadyLocked = errors.New("lockfile: already locked by another process")

// Lockfile is a held advisory lock with the owning pid recorded in it.
type Lockfile struct {
	path string
	l    *flock.Flock
	f    *os.File
}

// Acquire creates (if necessary) path's parent directory, takes an
// exclusive advisory lock on path, and overwrites it with the caller's pid.
// It returns ErrAlreadyLocked itself, unwrapped, if the lock is already held.
func Acquire(path string) (*Lockfile, error) {
	abs, err := pathutil.Abspath(path)
	if err != nil {
		return nil, err
	}
	path = abs

	if err := pathutil.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	l := flock.New(path)

	locked, err := l.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire lock file")
	}
	if !locked {
		return nil, ErrAlreadyLocked
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		l.Unlock()
		return nil, errors.Wrap(err, "failed to open lock file for writing")
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		l.Unlock()
		return nil, errors.Wrap(err, "failed to write pid to lock file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		l.Unlock()
		return nil, errors.Wrap(err, "failed to sync lock file")
	}

	return &Lockfile{path: path, l: l, f: f}, nil
}

// Path returns the path the lock was acquired on.
func (lf *Lockfile) Path() string { return lf.path }

// Release unlocks and removes the lock file. It is safe to call once,
// during the supervisor's clean shutdown path.
func (lf *Lockfile) Release() error {
	lf.f.Close()
	if err := lf.l.Unlock(); err != nil {
		return errors.Wrap(err, "failed to release lock file")
	}
	return os.Remove(lf.path)
}
