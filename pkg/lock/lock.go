// Package lock serializes update attempts against an installation.
package lock

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"github.com/safiul0073/CodeLift/pkg/errors"
)

// Lock is an exclusive, non-blocking lock backed by a file. The lock is
// released by the operating system if the process dies while holding it.
type Lock struct {
	path string
}

// New creates a lock backed by the file at `path`.
func New(path string) Lock {
	return Lock{path: path}
}

// TryAcquire takes the lock, or fails immediately with ErrUpdateInProgress if
// another process holds it. The returned function releases the lock.
func (l Lock) TryAcquire() (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, errors.WithContext(err, "make lock directory")
	}

	fileLock := flock.New(l.path)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, errors.WithContext(err, "lock")
	}
	if !locked {
		return nil, errors.ErrUpdateInProgress
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			log.WithError(err).WithField("path", l.path).Warn("Failed to release update lock")
		}
	}, nil
}
