//go:build !windows

// sync_unix.go implements the global sync barrier spec.md §6 requires
// ("maps to sync(2) on POSIX"), grounded in
// original_source/archivarius/platform.c++ (fs_sync calling sync()).
package hostfs

import "syscall"

// Sync flushes filesystem metadata buffers system-wide, matching the
// original's fs_sync(). The catalogue calls this twice around the
// rename step of a commit (§4.5).
func Sync() error {
	syscall.Sync()
	return nil
}
