//go:build linux

package boot

import (
	"fmt"

	"github.com/open-edge-platform/os-boot-storage/internal/config"
	"github.com/open-edge-platform/os-boot-storage/internal/hw/mmio"
	"github.com/open-edge-platform/os-boot-storage/internal/hw/pci"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// NewHostLoader drives the machine's own controller through sysfs and
// /dev/mem. It needs root.
func NewHostLoader(cfg *config.Config) (*Loader, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := logger.Logger()

	var devs []pci.Device
	if cfg.PCI.Device != "" {
		d, err := pci.OpenSysfs(cfg.PCI.SysfsRoot, cfg.PCI.Device)
		if err != nil {
			return nil, err
		}
		devs = []pci.Device{d}
	} else {
		var err error
		if devs, err = pci.ScanSysfs(cfg.PCI.SysfsRoot); err != nil {
			return nil, err
		}
	}
	log.Debugf("scanning %d pci function(s) under %s", len(devs), cfg.PCI.SysfsRoot)

	if err := checkUnbound(devs); err != nil {
		if !cfg.PCI.AllowBound {
			return nil, err
		}
		log.Warnf("%v; taking it over", err)
	}

	mem, err := mmio.OpenDevMem(cfg.PCI.DevMem)
	if err != nil {
		return nil, fmt.Errorf("physical memory access: %w", err)
	}
	l, err := NewLoader(cfg, mem, devs)
	if err != nil {
		mem.Close()
		return nil, err
	}
	l.closers = append(l.closers, mem.Close)
	return l, nil
}

// checkUnbound refuses the controller Run would pick when a kernel driver is
// bound to it; rebasing would pull the command list out from under live I/O.
func checkUnbound(devs []pci.Device) error {
	d, _, err := pci.FindAHCI(devs)
	if err != nil {
		return nil
	}
	sd, ok := d.(*pci.SysfsDevice)
	if !ok {
		return nil
	}
	drv, err := sd.Driver()
	if err != nil {
		return err
	}
	if drv != "" {
		return fmt.Errorf("%w: %s is bound to %s", ErrControllerBound, sd.Address, drv)
	}
	return nil
}
