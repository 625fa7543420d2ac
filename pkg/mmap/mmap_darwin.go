//go:build darwin

package mmap

import (
	"os"
	"syscall"
	"unsafe"
)

// madvSequential is MADV_SEQUENTIAL, which the syscall package omits here.
const madvSequential = 2

func mapFile(f *os.File, size int) ([]byte, bool, error) {
	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func unmap(b []byte) error {
	return syscall.Munmap(b)
}

func adviseSequential(b []byte) error {
	_, _, errno := syscall.Syscall(syscall.SYS_MADVISE, uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)), madvSequential)
	if errno != 0 {
		return errno
	}
	return nil
}
