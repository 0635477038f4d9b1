// Package pci reads and writes PCI configuration space.
package pci

import (
	"errors"
	"fmt"
)

// Configuration header offsets.
const (
	RegVendorDevice = 0x00
	RegCommand      = 0x04
	RegClass        = 0x08
	RegBAR0         = 0x10
	RegBAR5         = 0x24
)

// Command register bits.
const (
	CommandIOSpace     = 1 << 0
	CommandMemorySpace = 1 << 1
	CommandBusMaster   = 1 << 2
	CommandParityError = 1 << 6
	CommandSERR        = 1 << 8
	CommandIntxDisable = 1 << 10
)

// Mass storage / SATA / AHCI 1.0.
const (
	ClassMassStorage = 0x01
	SubclassSATA     = 0x06
	ProgIfAHCI       = 0x01
)

// ErrNotFound is returned when no device matches.
var ErrNotFound = errors.New("no matching pci device")

// Device is one PCI function's configuration space.
type Device interface {
	ReadConfig32(off uint8) (uint32, error)
	WriteConfig32(off uint8, v uint32) error
}

// Identity is the decoded identification part of the configuration header.
type Identity struct {
	VendorID uint16 `json:"vendorId" yaml:"vendorId"`
	DeviceID uint16 `json:"deviceId" yaml:"deviceId"`
	Class    uint8  `json:"class" yaml:"class"`
	Subclass uint8  `json:"subclass" yaml:"subclass"`
	ProgIf   uint8  `json:"progIf" yaml:"progIf"`
	Revision uint8  `json:"revision" yaml:"revision"`
}

// IsAHCI reports whether the function is an AHCI SATA controller.
func (id Identity) IsAHCI() bool {
	return id.Class == ClassMassStorage && id.Subclass == SubclassSATA && id.ProgIf == ProgIfAHCI
}

func (id Identity) String() string {
	return fmt.Sprintf("%04x:%04x class %02x%02x%02x", id.VendorID, id.DeviceID, id.Class, id.Subclass, id.ProgIf)
}

// Identify reads the vendor, device and class registers.
func Identify(d Device) (Identity, error) {
	vd, err := d.ReadConfig32(RegVendorDevice)
	if err != nil {
		return Identity{}, fmt.Errorf("read vendor/device: %w", err)
	}
	cls, err := d.ReadConfig32(RegClass)
	if err != nil {
		return Identity{}, fmt.Errorf("read class: %w", err)
	}
	return Identity{
		VendorID: uint16(vd),
		DeviceID: uint16(vd >> 16),
		Class:    uint8(cls >> 24),
		Subclass: uint8(cls >> 16),
		ProgIf:   uint8(cls >> 8),
		Revision: uint8(cls),
	}, nil
}

// ReadConfig64 reads two consecutive dwords, low first.
func ReadConfig64(d Device, off uint8) (uint64, error) {
	lo, err := d.ReadConfig32(off)
	if err != nil {
		return 0, err
	}
	hi, err := d.ReadConfig32(off + 4)
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

// Command returns the 16-bit command register.
func Command(d Device) (uint16, error) {
	v, err := d.ReadConfig32(RegCommand)
	if err != nil {
		return 0, fmt.Errorf("read command register: %w", err)
	}
	return uint16(v), nil
}

// SetCommandBits sets or clears mask in the command register and writes it
// back. The status half of the dword is written as zero so its
// write-one-to-clear bits are left alone.
func SetCommandBits(d Device, mask uint16, enabled bool) error {
	cmd, err := Command(d)
	if err != nil {
		return err
	}
	if enabled {
		cmd |= mask
	} else {
		cmd &^= mask
	}
	if err := d.WriteConfig32(RegCommand, uint32(cmd)); err != nil {
		return fmt.Errorf("write command register: %w", err)
	}
	return nil
}

// EnableMemorySpace toggles decoding of memory BARs.
func EnableMemorySpace(d Device, enabled bool) error {
	return SetCommandBits(d, CommandMemorySpace, enabled)
}

// EnableBusMaster toggles the function's ability to DMA.
func EnableBusMaster(d Device, enabled bool) error {
	return SetCommandBits(d, CommandBusMaster, enabled)
}

// MemoryBAR decodes the memory BAR at off, consuming the following dword too
// when the BAR is 64-bit.
func MemoryBAR(d Device, off uint8) (uint64, error) {
	raw, err := ReadConfig64(d, off)
	if err != nil {
		return 0, fmt.Errorf("read bar at %#x: %w", off, err)
	}
	if raw&0x1 != 0 {
		return 0, fmt.Errorf("bar at %#x is an I/O bar", off)
	}
	if (raw>>1)&0x3 == 0x2 {
		return raw &^ 0xF, nil
	}
	return uint64(uint32(raw)) &^ 0xF, nil
}

// Find returns the first device whose identity satisfies match.
func Find(devs []Device, match func(Identity) bool) (Device, Identity, error) {
	for _, d := range devs {
		id, err := Identify(d)
		if err != nil {
			continue
		}
		if id.VendorID == 0xFFFF {
			continue
		}
		if match(id) {
			return d, id, nil
		}
	}
	return nil, Identity{}, ErrNotFound
}

// FindAHCI returns the first AHCI controller among devs.
func FindAHCI(devs []Device) (Device, Identity, error) {
	d, id, err := Find(devs, Identity.IsAHCI)
	if err != nil {
		return nil, Identity{}, fmt.Errorf("find ahci controller: %w", err)
	}
	return d, id, nil
}
