// Package filelock provides the exclusive, whole-file advisory lock used to
// enforce single-writer access to an archive. The catalogue acquires the
// lock on the file named "catalog" before loading it and holds it for the
// lifetime of the open archive; releasing it is as simple as closing the
// returned io.Closer.
package filelock

import (
	"errors"
	"io"
)

// ErrHeld is returned by Acquire when another process already holds the
// lock. Callers should treat this as fatal: the archive is in use elsewhere.
var ErrHeld = errors.New("filelock: already held by another process")

// Acquire takes an exclusive, non-blocking advisory lock on the named file,
// creating it if it does not exist. The lock is released by calling Close
// on the returned io.Closer; it is also released if the process exits or is
// killed, so a crash never leaves a stale lock.
func Acquire(name string) (io.Closer, error) {
	return lockFile(name)
}
