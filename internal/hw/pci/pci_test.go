package pci

import (
	"errors"
	"testing"
)

var ahciID = Identity{VendorID: 0x8086, DeviceID: 0x2922, Class: 0x01, Subclass: 0x06, ProgIf: 0x01, Revision: 0x02}

func TestIdentify(t *testing.T) {
	got, err := Identify(NewConfigSpace(ahciID))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if got != ahciID {
		t.Fatalf("got %+v, want %+v", got, ahciID)
	}
	if !got.IsAHCI() {
		t.Errorf("expected AHCI match")
	}
}

func TestIsAHCIRejectsIDE(t *testing.T) {
	id := ahciID
	id.Subclass = 0x01
	if id.IsAHCI() {
		t.Fatalf("IDE controller matched as AHCI")
	}
	id = ahciID
	id.ProgIf = 0x00
	if id.IsAHCI() {
		t.Fatalf("vendor-specific SATA matched as AHCI")
	}
}

func TestSetCommandBitsWritesBack(t *testing.T) {
	cs := NewConfigSpace(ahciID)
	if err := EnableMemorySpace(cs, true); err != nil {
		t.Fatalf("EnableMemorySpace: %v", err)
	}
	if err := EnableBusMaster(cs, true); err != nil {
		t.Fatalf("EnableBusMaster: %v", err)
	}
	cmd, _ := Command(cs)
	if cmd&CommandMemorySpace == 0 || cmd&CommandBusMaster == 0 {
		t.Fatalf("command=%#x, expected memory space and bus master", cmd)
	}
	if cs.Writes[RegCommand] != 2 {
		t.Errorf("expected 2 writes to the command register, got %d", cs.Writes[RegCommand])
	}

	if err := EnableBusMaster(cs, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	cmd, _ = Command(cs)
	if cmd&CommandBusMaster != 0 || cmd&CommandMemorySpace == 0 {
		t.Errorf("command=%#x after clearing bus master", cmd)
	}
}

func TestSetCommandBitsKeepsStatusClear(t *testing.T) {
	cs := NewConfigSpace(ahciID)
	// Pretend the status half reports a latched error.
	_ = cs.WriteConfig32(RegCommand, 0x8000_0000)
	if err := EnableMemorySpace(cs, true); err != nil {
		t.Fatalf("EnableMemorySpace: %v", err)
	}
	v, _ := cs.ReadConfig32(RegCommand)
	if v>>16 != 0 {
		t.Errorf("status half written back as %#x", v>>16)
	}
}

func TestMemoryBAR(t *testing.T) {
	t.Run("64bit", func(t *testing.T) {
		cs := NewConfigSpace(ahciID)
		cs.SetBAR64(RegBAR5, 0x1_FEB0_0000)
		got, err := MemoryBAR(cs, RegBAR5)
		if err != nil || got != 0x1_FEB0_0000 {
			t.Fatalf("got %#x err=%v", got, err)
		}
	})
	t.Run("32bitIgnoresNextDword", func(t *testing.T) {
		cs := NewConfigSpace(ahciID)
		cs.SetBAR32(RegBAR5, 0xFEBF_1000)
		_ = cs.WriteConfig32(RegBAR5+4, 0x1234)
		got, err := MemoryBAR(cs, RegBAR5)
		if err != nil || got != 0xFEBF_1000 {
			t.Fatalf("got %#x err=%v", got, err)
		}
	})
	t.Run("IOBar", func(t *testing.T) {
		cs := NewConfigSpace(ahciID)
		_ = cs.WriteConfig32(RegBAR5, 0xC001)
		if _, err := MemoryBAR(cs, RegBAR5); err == nil {
			t.Fatalf("expected error for I/O bar")
		}
	})
}

func TestFindAHCI(t *testing.T) {
	vga := NewConfigSpace(Identity{VendorID: 0x1234, DeviceID: 0x1111, Class: 0x03})
	absent := NewConfigSpace(Identity{VendorID: 0xFFFF, DeviceID: 0xFFFF, Class: 0x01, Subclass: 0x06, ProgIf: 0x01})
	ahci := NewConfigSpace(ahciID)

	d, id, err := FindAHCI([]Device{vga, absent, ahci})
	if err != nil {
		t.Fatalf("FindAHCI: %v", err)
	}
	if d != Device(ahci) || id.DeviceID != 0x2922 {
		t.Fatalf("matched wrong device: %+v", id)
	}

	if _, _, err := FindAHCI([]Device{vga}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
