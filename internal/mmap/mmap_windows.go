//go:build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

type mappingImpl struct {
	handle windows.Handle
	addr   uintptr
	data   []byte
}

func openImpl(f *os.File, mode Mode) (*Mapping, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &Mapping{data: []byte{}, impl: mappingImpl{}}, nil
	}

	prot := uint32(windows.PAGE_READONLY)
	access := uint32(windows.FILE_MAP_READ)
	if mode == ReadWrite {
		prot = windows.PAGE_READWRITE
		access = windows.FILE_MAP_WRITE
	}

	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, prot, uint32(size>>32), uint32(size), nil)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(h, access, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	return &Mapping{data: data, impl: mappingImpl{handle: h, addr: addr, data: data}}, nil
}

func (m mappingImpl) flush() error {
	if m.addr == 0 {
		return nil
	}
	return windows.FlushViewOfFile(m.addr, uintptr(len(m.data)))
}

func (m mappingImpl) close() error {
	if m.addr == 0 {
		return nil
	}
	if err := windows.UnmapViewOfFile(m.addr); err != nil {
		return err
	}
	return windows.CloseHandle(m.handle)
}
