//go:build linux || darwin || freebsd || netbsd || openbsd

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

type mappingImpl struct {
	data []byte
}

func openImpl(f *os.File, mode Mode) (*Mapping, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := int(fi.Size())
	if size == 0 {
		return &Mapping{data: []byte{}, impl: mappingImpl{}}, nil
	}

	prot := unix.PROT_READ
	flags := unix.MAP_SHARED
	if mode == ReadWrite {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, flags)
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data, impl: mappingImpl{data: data}}, nil
}

func (m mappingImpl) flush() error {
	if m.data == nil {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m mappingImpl) close() error {
	if m.data == nil {
		return nil
	}
	return unix.Munmap(m.data)
}
