// Package boot runs the storage half of the boot sequence: find the AHCI
// controller, bring up every attached SATA disk and open its FAT32 volumes.
package boot

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/open-edge-platform/os-boot-storage/internal/ahci"
	"github.com/open-edge-platform/os-boot-storage/internal/config"
	"github.com/open-edge-platform/os-boot-storage/internal/fat"
	"github.com/open-edge-platform/os-boot-storage/internal/hw/mmio"
	"github.com/open-edge-platform/os-boot-storage/internal/hw/pci"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/poll"
)

const bounceAlign = 4096

// bounceOffset is where a disk's DMA bounce buffer starts within its region.
var bounceOffset = alignUp(ahci.PortRegionSize, bounceAlign)

// ErrNoDisks means the controller had no SATA disk attached.
var ErrNoDisks = errors.New("no sata disks found")

// ErrControllerBound means a kernel driver owns the controller.
var ErrControllerBound = errors.New("controller is bound to a kernel driver")

// Loader brings up the storage stack on a platform.
type Loader struct {
	cfg      *config.Config
	platform mmio.Platform
	devices  []pci.Device
	closers  []func() error
}

// NewLoader returns a loader that searches devices for the controller and
// reaches its registers and DMA memory through platform.
func NewLoader(cfg *config.Config, platform mmio.Platform, devices []pci.Device) (*Loader, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	need := bounceOffset + uint64(cfg.AHCI.BounceSectors)*ahci.SectorSize
	if cfg.AHCI.RebaseStride < need {
		return nil, fmt.Errorf("rebase stride %#x too small for command memory and bounce buffer (%#x)", cfg.AHCI.RebaseStride, need)
	}
	return &Loader{cfg: cfg, platform: platform, devices: devices}, nil
}

// Timing converts the configured spin budgets.
func Timing(c config.AHCIConfig) ahci.Timing {
	return ahci.Timing{
		BusySpin:       poll.Budget(c.BusySpinBudget),
		CompletionSpin: poll.Budget(c.CompletionSpinBudget),
		EngineSpin:     poll.Budget(c.EngineSpinBudget),
	}
}

// RegionBase is the command memory of the n-th disk brought up.
func (l *Loader) RegionBase(n int) uint64 {
	return l.cfg.AHCI.RebaseBase + uint64(n)*l.cfg.AHCI.RebaseStride
}

// Disk is one brought-up SATA disk.
type Disk struct {
	Port  *ahci.Port
	Disk  *ahci.Disk
	Drive *fat.Drive
}

// Session is the result of a successful Run.
type Session struct {
	Controller *ahci.Controller
	Disks      []*Disk
	Report     *Report
}

// Run finds the controller, rebases each port with a SATA disk, opens the
// disk's volumes and lists their root directories. The first filesystem
// error ends the sequence.
func (l *Loader) Run() (*Session, error) {
	log := logger.Logger()
	started := time.Now().UTC()

	dev, id, err := pci.FindAHCI(l.devices)
	if err != nil {
		return nil, err
	}
	log.Infof("found AHCI controller %s", id)

	ctrl, err := ahci.NewController(dev, l.platform, Timing(l.cfg.AHCI))
	if err != nil {
		return nil, fmt.Errorf("initialize controller: %w", err)
	}

	rep := &Report{
		ID:      uuid.New().String(),
		Started: started,
		Controller: ControllerReport{
			PCI:              id,
			ABAR:             ctrl.ABAR(),
			Version:          ctrl.Version(),
			PortsImplemented: ctrl.PortsImplemented(),
			CommandSlots:     ctrl.CommandSlots(),
		},
	}
	sess := &Session{Controller: ctrl, Report: rep}

	for _, p := range ctrl.ImplementedPorts() {
		if !p.HasDevice() {
			continue
		}
		pr := PortReport{Number: p.Number(), Kind: p.DeviceKind()}
		if pr.Kind != "sata" {
			log.Infof("port %d: skipping %s device", p.Number(), pr.Kind)
			pr.Skipped = true
			rep.Ports = append(rep.Ports, pr)
			continue
		}

		d, err := l.bringUp(p, len(sess.Disks))
		if err != nil {
			log.Errorf("port %d: %v", p.Number(), err)
			return nil, fmt.Errorf("port %d: %w", p.Number(), err)
		}
		sess.Disks = append(sess.Disks, d)

		pr.RegionBase = l.RegionBase(len(sess.Disks) - 1)
		pr.Partitioned = d.Drive.Partitioned()
		for i, v := range d.Drive.Volumes {
			if v == nil {
				continue
			}
			vr, err := describe(i, v)
			if err != nil {
				log.Errorf("port %d volume %d: %v", p.Number(), i, err)
				return nil, fmt.Errorf("port %d volume %d: %w", p.Number(), i, err)
			}
			pr.Volumes = append(pr.Volumes, vr)
		}
		rep.Ports = append(rep.Ports, pr)
	}

	if len(sess.Disks) == 0 {
		return nil, ErrNoDisks
	}
	rep.Elapsed = time.Since(started).String()
	log.Infof("storage ready: %d disk(s), %d volume(s)", len(sess.Disks), rep.VolumeCount())
	return sess, nil
}

func (l *Loader) bringUp(p *ahci.Port, n int) (*Disk, error) {
	log := logger.Logger()

	base := l.RegionBase(n)
	if err := p.Rebase(base); err != nil {
		return nil, fmt.Errorf("rebase at %#x: %w", base, err)
	}
	bounce, err := mmio.NewBuffer(l.platform, base+bounceOffset, int(l.cfg.AHCI.BounceSectors)*ahci.SectorSize)
	if err != nil {
		return nil, err
	}
	disk, err := ahci.NewDisk(p, bounce)
	if err != nil {
		return nil, err
	}
	drive, err := fat.NewDrive(disk)
	if err != nil {
		return nil, fmt.Errorf("open drive: %w", err)
	}
	log.Debugf("port %d: %d volume(s), region %#x, bounce %#x", p.Number(), drive.Count(), base, bounce.Phys)
	return &Disk{Port: p, Disk: disk, Drive: drive}, nil
}

// Close releases host resources held by the loader.
func (l *Loader) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

func describe(slot int, v *fat.Volume) (VolumeReport, error) {
	root, err := v.ReadDir("/")
	if err != nil {
		return VolumeReport{}, fmt.Errorf("list root directory: %w", err)
	}
	return VolumeReport{
		Slot:     slot,
		StartLBA: v.StartLBA(),
		Type:     v.Type(),
		Label:    v.Label(),
		OEMName:  v.OEMName(),
		VolumeID: fmt.Sprintf("%04X-%04X", v.VolumeID()>>16, v.VolumeID()&0xFFFF),
		Geometry: v.Geometry(),
		Root:     root,
	}, nil
}

func alignUp(n int, align uint64) uint64 {
	return (uint64(n) + align - 1) &^ (align - 1)
}
