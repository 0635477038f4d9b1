package boot

import (
	"time"

	"github.com/open-edge-platform/os-boot-storage/internal/fat"
	"github.com/open-edge-platform/os-boot-storage/internal/hw/pci"
)

// Report describes what a Run found.
type Report struct {
	ID         string           `json:"id" yaml:"id"`
	Started    time.Time        `json:"started" yaml:"started"`
	Elapsed    string           `json:"elapsed" yaml:"elapsed"`
	Controller ControllerReport `json:"controller" yaml:"controller"`
	Ports      []PortReport     `json:"ports" yaml:"ports"`
}

// ControllerReport identifies the HBA.
type ControllerReport struct {
	PCI              pci.Identity `json:"pci" yaml:"pci"`
	ABAR             uint64       `json:"abar" yaml:"abar"`
	Version          string       `json:"version" yaml:"version"`
	PortsImplemented uint32       `json:"portsImplemented" yaml:"portsImplemented"`
	CommandSlots     int          `json:"commandSlots" yaml:"commandSlots"`
}

// PortReport is one port with a device attached.
type PortReport struct {
	Number      int            `json:"number" yaml:"number"`
	Kind        string         `json:"kind" yaml:"kind"`
	Skipped     bool           `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	RegionBase  uint64         `json:"regionBase,omitempty" yaml:"regionBase,omitempty"`
	Partitioned bool           `json:"partitioned" yaml:"partitioned"`
	Volumes     []VolumeReport `json:"volumes,omitempty" yaml:"volumes,omitempty"`
}

// VolumeReport is an opened FAT32 volume and its root directory.
type VolumeReport struct {
	Slot     int          `json:"slot" yaml:"slot"`
	StartLBA uint64       `json:"startLba" yaml:"startLba"`
	Type     fat.Type     `json:"type" yaml:"type"`
	Label    string       `json:"label" yaml:"label"`
	OEMName  string       `json:"oemName" yaml:"oemName"`
	VolumeID string       `json:"volumeId" yaml:"volumeId"`
	Geometry fat.Geometry `json:"geometry" yaml:"geometry"`
	Root     []fat.Entry  `json:"root" yaml:"root"`
}

// VolumeCount totals the volumes across ports.
func (r *Report) VolumeCount() int {
	n := 0
	for _, p := range r.Ports {
		n += len(p.Volumes)
	}
	return n
}
