//go:build linux

package spill

import "golang.org/x/sys/unix"

// fadviseSequential hints that a spill file will be read front to back.
// Best-effort: errors are ignored.
func fadviseSequential(fd uintptr) {
	_ = unix.Fadvise(int(fd), 0, 0, unix.FADV_SEQUENTIAL)
}

// fadviseDontNeed drops a consumed spill file from the page cache.
func fadviseDontNeed(fd uintptr) {
	_ = unix.Fadvise(int(fd), 0, 0, unix.FADV_DONTNEED)
}
