package mmio

import (
	"errors"
	"testing"
)

func TestWindowLoadStore(t *testing.T) {
	w := NewWindow(make([]byte, 16))
	w.Store32(4, 0xdeadbeef)
	if got := w.Load32(4); got != 0xdeadbeef {
		t.Fatalf("Load32(4)=%#x", got)
	}
	if got := w.Load32(0); got != 0 {
		t.Errorf("neighbouring register changed: %#x", got)
	}
}

func TestWindowRejectsMisalignedOffset(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for misaligned offset")
		}
	}()
	NewWindow(make([]byte, 16)).Load32(2)
}

func TestSubOffsetsNest(t *testing.T) {
	w := NewWindow(make([]byte, 0x200))
	port := Sub(Sub(w, 0x100), 0x80)
	port.Store32(0x18, 7)
	if got := w.Load32(0x198); got != 7 {
		t.Fatalf("expected store at 0x198, got %#x", got)
	}
}

func TestArenaMemoryBounds(t *testing.T) {
	a := NewArena(0x1000, 0x100)
	b, err := a.Memory(0x1010, 0x10)
	if err != nil {
		t.Fatalf("Memory: %v", err)
	}
	b[0] = 0xAA
	again, _ := a.Memory(0x1010, 1)
	if again[0] != 0xAA {
		t.Errorf("arena views do not alias")
	}

	if _, err := a.Memory(0xF00, 0x10); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("below base: expected ErrOutOfRange, got %v", err)
	}
	if _, err := a.Memory(0x10F8, 0x10); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("past end: expected ErrOutOfRange, got %v", err)
	}
}

func TestArenaAllocAligns(t *testing.T) {
	a := NewArena(0x1000, 0x1000)
	first, err := a.Alloc(3, 1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	second, err := a.Alloc(512, 512)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if first.Phys != 0x1000 || second.Phys != 0x1200 {
		t.Errorf("phys=%#x,%#x", first.Phys, second.Phys)
	}
	if len(second.Data) != 512 {
		t.Errorf("len=%d", len(second.Data))
	}
	a.Reserve(0x1F00)
	if _, err := a.Alloc(0x200, 1); err == nil {
		t.Errorf("expected exhaustion after Reserve")
	}
}
