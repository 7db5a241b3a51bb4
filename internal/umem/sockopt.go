//go:build linux

package umem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// setSockoptRaw and getSockoptRaw wrap the raw setsockopt/getsockopt
// syscalls for the arbitrary fixed-size structs AF_XDP uses at
// SOL_XDP, which golang.org/x/sys/unix has no typed helpers for.
func setSockoptRaw(fd, opt int, val unsafe.Pointer, size uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(SolXDP), uintptr(opt), uintptr(val), size, 0)
	if errno != 0 {
		return fmt.Errorf("setsockopt(SOL_XDP, %d): %w", opt, errno)
	}
	return nil
}

func getSockoptRaw(fd, opt int, val unsafe.Pointer, size uintptr) error {
	sz := size
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), uintptr(SolXDP), uintptr(opt), uintptr(val), uintptr(unsafe.Pointer(&sz)), 0)
	if errno != 0 {
		return fmt.Errorf("getsockopt(SOL_XDP, %d): %w", opt, errno)
	}
	return nil
}
