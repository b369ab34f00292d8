//go:build !linux

package spill

// fadviseSequential is a no-op on non-Linux platforms.
func fadviseSequential(fd uintptr) {}

// fadviseDontNeed is a no-op on non-Linux platforms.
func fadviseDontNeed(fd uintptr) {}
