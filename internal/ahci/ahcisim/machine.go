package ahcisim

import (
	"fmt"

	"github.com/open-edge-platform/os-boot-storage/internal/ahci"
	"github.com/open-edge-platform/os-boot-storage/internal/hw/mmio"
	"github.com/open-edge-platform/os-boot-storage/internal/hw/pci"
)

// Defaults for NewMachine.
const (
	DefaultABAR    = 0xFEBF_1000
	DefaultRAMBase = 0x0020_0000
	DefaultRAMSize = 0x0070_0000
	DefaultPorts   = 6
)

// ControllerID is the identity the simulated function reports (ICH9 AHCI).
var ControllerID = pci.Identity{
	VendorID: 0x8086,
	DeviceID: 0x2922,
	Class:    pci.ClassMassStorage,
	Subclass: pci.SubclassSATA,
	ProgIf:   pci.ProgIfAHCI,
	Revision: 0x02,
}

// MachineConfig places the simulated HBA and RAM.
type MachineConfig struct {
	ABAR    uint64
	RAMBase uint64
	RAMSize int
	Ports   int
}

// Machine is a PCI function, its HBA and the RAM the HBA masters. It
// implements mmio.Platform.
type Machine struct {
	PCI *pci.ConfigSpace
	HBA *HBA
	RAM *mmio.Arena
	// Host is a non-storage function ahead of the controller on the bus.
	Host *pci.ConfigSpace
	abar uint64
}

// NewMachine builds a machine; zero fields take the defaults.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.ABAR == 0 {
		cfg.ABAR = DefaultABAR
	}
	if cfg.RAMBase == 0 {
		cfg.RAMBase = DefaultRAMBase
	}
	if cfg.RAMSize == 0 {
		cfg.RAMSize = DefaultRAMSize
	}
	if cfg.Ports == 0 {
		cfg.Ports = DefaultPorts
	}

	ram := mmio.NewArena(cfg.RAMBase, cfg.RAMSize)
	cs := pci.NewConfigSpace(ControllerID)
	cs.SetBAR32(pci.RegBAR5, uint32(cfg.ABAR))

	return &Machine{
		PCI:  cs,
		HBA:  NewHBA(ram, cfg.Ports),
		RAM:  ram,
		Host: pci.NewConfigSpace(pci.Identity{VendorID: 0x8086, DeviceID: 0x29C0, Class: 0x06}),
		abar: cfg.ABAR,
	}
}

// Devices lists the machine's PCI functions in bus order.
func (m *Machine) Devices() []pci.Device {
	return []pci.Device{m.Host, m.PCI}
}

func (m *Machine) MapRegisters(phys uint64, size int) (mmio.RegisterSpace, error) {
	if phys != m.abar || size > ahci.ABARSize {
		return nil, fmt.Errorf("no device registers at [%#x, %#x)", phys, phys+uint64(size))
	}
	return m.HBA, nil
}

func (m *Machine) Memory(phys uint64, size int) ([]byte, error) {
	return m.RAM.Memory(phys, size)
}
