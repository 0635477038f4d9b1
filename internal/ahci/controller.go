// Package ahci drives SATA disks behind an AHCI host bus adapter by polling
// its memory-mapped registers. Commands are LBA48 DMA reads and writes issued
// one at a time on slot 0.
package ahci

import (
	"fmt"

	"github.com/open-edge-platform/os-boot-storage/internal/hw/mmio"
	"github.com/open-edge-platform/os-boot-storage/internal/hw/pci"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// Controller is an AHCI HBA whose ABAR has been mapped.
type Controller struct {
	dev   pci.Device
	abar  uint64
	regs  mmio.RegisterSpace
	ports [MaxPorts]*Port
}

// NewController enables memory decoding and bus mastering on dev, locates
// ABAR through BAR5 and maps it.
func NewController(dev pci.Device, platform mmio.Platform, timing Timing) (*Controller, error) {
	log := logger.Logger()

	if err := pci.EnableMemorySpace(dev, true); err != nil {
		return nil, fmt.Errorf("enable memory space: %w", err)
	}
	if err := pci.EnableBusMaster(dev, true); err != nil {
		return nil, fmt.Errorf("enable bus master: %w", err)
	}

	abar, err := pci.MemoryBAR(dev, pci.RegBAR5)
	if err != nil {
		return nil, fmt.Errorf("read abar: %w", err)
	}
	if abar == 0 {
		return nil, fmt.Errorf("abar is unassigned")
	}

	regs, err := platform.MapRegisters(abar, ABARSize)
	if err != nil {
		return nil, fmt.Errorf("map abar %#x: %w", abar, err)
	}

	c := &Controller{dev: dev, abar: abar, regs: regs}
	for i := range c.ports {
		c.ports[i] = &Port{
			num:    i,
			regs:   mmio.Sub(regs, PortBase(i)),
			mem:    platform,
			timing: timing,
		}
	}

	if ghc := regs.Load32(RegGHC); ghc&GHCAE == 0 {
		regs.Store32(RegGHC, ghc|GHCAE)
		log.Debugf("ahci: enabled AHCI mode")
	}

	log.Debugf("ahci: abar=%#x version=%s ports=%#x slots=%d", abar, c.Version(), c.PortsImplemented(), c.CommandSlots())
	return c, nil
}

// ABAR is the physical address of the register window.
func (c *Controller) ABAR() uint64 { return c.abar }

// Capabilities returns CAP.
func (c *Controller) Capabilities() uint32 { return c.regs.Load32(RegCAP) }

// PortsImplemented returns the PI bitmap.
func (c *Controller) PortsImplemented() uint32 { return c.regs.Load32(RegPI) }

// CommandSlots is the number of slots per port the HBA supports.
func (c *Controller) CommandSlots() int {
	return int((c.Capabilities()>>8)&0x1F) + 1
}

// Version formats VS as major.minor[.sub].
func (c *Controller) Version() string {
	vs := c.regs.Load32(RegVS)
	major, minor, sub := vs>>16, (vs>>8)&0xFF, vs&0xFF
	if sub != 0 {
		return fmt.Sprintf("%d.%d.%d", major, minor, sub)
	}
	return fmt.Sprintf("%d.%d", major, minor)
}

// Port returns port n. Ports PI does not list are refused.
func (c *Controller) Port(n int) (*Port, error) {
	if n < 0 || n >= MaxPorts {
		return nil, fmt.Errorf("port %d out of range", n)
	}
	if c.PortsImplemented()&(1<<n) == 0 {
		return nil, fmt.Errorf("port %d: %w", n, ErrPortNotImplemented)
	}
	return c.ports[n], nil
}

// ImplementedPorts lists the ports PI marks as implemented, in order.
func (c *Controller) ImplementedPorts() []*Port {
	pi := c.PortsImplemented()
	var out []*Port
	for i, p := range c.ports {
		if pi&(1<<i) != 0 {
			out = append(out, p)
		}
	}
	return out
}
