package boot

import (
	"fmt"

	"github.com/open-edge-platform/os-boot-storage/internal/ahci"
	"github.com/open-edge-platform/os-boot-storage/internal/ahci/ahcisim"
	"github.com/open-edge-platform/os-boot-storage/internal/config"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// Image is a disk that can be attached to the simulated controller.
type Image interface {
	ahcisim.Backing
	Size() int64
}

// NewSimLoader attaches images to consecutive ports of a simulated HBA whose
// RAM covers exactly the configured command regions. cfg.Image.Sectors, when
// set, overrides the capacity every disk reports.
func NewSimLoader(cfg *config.Config, images ...Image) (*Loader, *ahcisim.Machine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if len(images) > ahci.MaxPorts {
		return nil, nil, fmt.Errorf("%d images, at most %d ports", len(images), ahci.MaxPorts)
	}

	regions := max(len(images), 1)
	m := ahcisim.NewMachine(ahcisim.MachineConfig{
		RAMBase: cfg.AHCI.RebaseBase,
		RAMSize: int(cfg.AHCI.RebaseStride) * regions,
		Ports:   max(len(images), ahcisim.DefaultPorts),
	})
	for i, im := range images {
		sectors := uint64(im.Size() / ahci.SectorSize)
		if cfg.Image.Sectors != 0 {
			sectors = cfg.Image.Sectors
		}
		m.HBA.Attach(i, im, sectors)
		logger.Logger().Debugf("sim: port %d backed by %d sectors", i, sectors)
	}

	l, err := NewLoader(cfg, m, m.Devices())
	if err != nil {
		return nil, nil, err
	}
	return l, m, nil
}
