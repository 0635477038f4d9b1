//go:build linux

package mmio

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultDevMemPath is the Linux physical memory device.
const DefaultDevMemPath = "/dev/mem"

type mapping struct {
	phys uint64
	mem  []byte
}

// DevMem maps physical memory through /dev/mem with O_SYNC so register and
// DMA accesses bypass the CPU cache.
type DevMem struct {
	mu       sync.Mutex
	fd       int
	pageSize uint64
	maps     []mapping
}

// OpenDevMem opens path, normally DefaultDevMemPath.
func OpenDevMem(path string) (*DevMem, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DevMem{fd: fd, pageSize: uint64(os.Getpagesize())}, nil
}

func (d *DevMem) MapRegisters(phys uint64, size int) (RegisterSpace, error) {
	b, err := d.Memory(phys, size)
	if err != nil {
		return nil, err
	}
	return NewWindow(b), nil
}

// Memory maps [phys, phys+size). Ranges already covered by an earlier mapping
// are served from it.
func (d *DevMem) Memory(phys uint64, size int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range d.maps {
		if phys >= m.phys && phys+uint64(size) <= m.phys+uint64(len(m.mem)) {
			off := phys - m.phys
			return m.mem[off : off+uint64(size)], nil
		}
	}

	start := phys &^ (d.pageSize - 1)
	end := (phys + uint64(size) + d.pageSize - 1) &^ (d.pageSize - 1)
	mem, err := unix.Mmap(d.fd, int64(start), int(end-start), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap physical [%#x, %#x): %w", start, end, err)
	}
	d.maps = append(d.maps, mapping{phys: start, mem: mem})

	off := phys - start
	return mem[off : off+uint64(size)], nil
}

// Close unmaps every mapping and closes the device.
func (d *DevMem) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for _, m := range d.maps {
		if err := unix.Munmap(m.mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.maps = nil
	if err := unix.Close(d.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
