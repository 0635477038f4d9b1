package mmio

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned for physical ranges not backed by an arena.
var ErrOutOfRange = errors.New("physical range not backed")

// Arena is a contiguous block of ordinary memory standing in for physical
// memory at [Base, Base+len). Simulated devices DMA into it by physical
// address.
type Arena struct {
	base uint64
	mem  []byte
	next uint64
}

// NewArena returns an arena of size bytes placed at physical address base.
func NewArena(base uint64, size int) *Arena {
	return &Arena{base: base, mem: make([]byte, size), next: base}
}

// Base is the first physical address of the arena.
func (a *Arena) Base() uint64 { return a.base }

// End is one past the last physical address of the arena.
func (a *Arena) End() uint64 { return a.base + uint64(len(a.mem)) }

// Memory returns the bytes at [phys, phys+size).
func (a *Arena) Memory(phys uint64, size int) ([]byte, error) {
	if size < 0 || phys < a.base || phys+uint64(size) > a.End() {
		return nil, fmt.Errorf("%w: [%#x, %#x) outside arena [%#x, %#x)",
			ErrOutOfRange, phys, phys+uint64(size), a.base, a.End())
	}
	off := phys - a.base
	return a.mem[off : off+uint64(size) : off+uint64(size)], nil
}

// Alloc carves size bytes aligned to align from the unclaimed part of the
// arena. Ranges handed out by Alloc are never reused.
func (a *Arena) Alloc(size int, align uint64) (Buffer, error) {
	if align == 0 {
		align = 1
	}
	phys := (a.next + align - 1) &^ (align - 1)
	b, err := a.Memory(phys, size)
	if err != nil {
		return Buffer{}, fmt.Errorf("alloc %d bytes: %w", size, err)
	}
	a.next = phys + uint64(size)
	return Buffer{Phys: phys, Data: b}, nil
}

// Reserve marks everything below phys as claimed so Alloc never returns it.
func (a *Arena) Reserve(phys uint64) {
	if phys > a.next {
		a.next = phys
	}
}
