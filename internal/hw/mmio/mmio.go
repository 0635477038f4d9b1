// Package mmio provides register and physical-memory access for device
// drivers. Registers are accessed as individually ordered 32-bit loads and
// stores; DMA memory is exposed as byte slices backed by a known physical
// address.
package mmio

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// RegisterSpace is a window of 32-bit device registers addressed by byte
// offset.
type RegisterSpace interface {
	Load32(off uintptr) uint32
	Store32(off uintptr, v uint32)
}

// Platform maps device registers and DMA-visible memory.
type Platform interface {
	MapRegisters(phys uint64, size int) (RegisterSpace, error)
	Memory(phys uint64, size int) ([]byte, error)
}

// Buffer is a DMA buffer: the bytes the CPU sees and the address the device
// uses.
type Buffer struct {
	Phys uint64
	Data []byte
}

// NewBuffer returns a buffer over size bytes of platform memory at phys.
func NewBuffer(p Platform, phys uint64, size int) (Buffer, error) {
	b, err := p.Memory(phys, size)
	if err != nil {
		return Buffer{}, fmt.Errorf("map dma buffer at %#x: %w", phys, err)
	}
	return Buffer{Phys: phys, Data: b}, nil
}

// Window is a RegisterSpace over a byte slice, normally an uncached mapping.
type Window struct {
	b []byte
}

// NewWindow wraps b. b must be 4-byte aligned.
func NewWindow(b []byte) *Window {
	return &Window{b: b}
}

func (w *Window) word(off uintptr) *uint32 {
	if off%4 != 0 || off+4 > uintptr(len(w.b)) {
		panic(fmt.Sprintf("mmio: register offset %#x outside %#x byte window", off, len(w.b)))
	}
	return (*uint32)(unsafe.Pointer(&w.b[off]))
}

func (w *Window) Load32(off uintptr) uint32 {
	return atomic.LoadUint32(w.word(off))
}

func (w *Window) Store32(off uintptr, v uint32) {
	atomic.StoreUint32(w.word(off), v)
}

// Size returns the window length in bytes.
func (w *Window) Size() int { return len(w.b) }

type sub struct {
	rs   RegisterSpace
	base uintptr
}

// Sub returns the registers of rs starting at base.
func Sub(rs RegisterSpace, base uintptr) RegisterSpace {
	if s, ok := rs.(sub); ok {
		return sub{rs: s.rs, base: s.base + base}
	}
	return sub{rs: rs, base: base}
}

func (s sub) Load32(off uintptr) uint32     { return s.rs.Load32(s.base + off) }
func (s sub) Store32(off uintptr, v uint32) { s.rs.Store32(s.base+off, v) }
