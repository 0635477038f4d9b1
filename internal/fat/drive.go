package fat

import (
	"fmt"

	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// MaxVolumes is the number of primary MBR partitions.
const MaxVolumes = 4

// Drive is a disk with up to four FAT32 volumes.
type Drive struct {
	dev SectorReader
	mbr *MasterBootRecord

	// Volumes holds one volume per used MBR slot, at the slot's index; nil
	// marks an empty slot. An unpartitioned disk has only Volumes[0].
	Volumes [MaxVolumes]*Volume
}

// NewDrive reads sector 0 and opens every volume on the disk. A sector 0 that
// begins with the short-jump boot code is itself a volume boot record;
// anything else is read as an MBR. Any volume that fails to open fails the
// whole drive.
func NewDrive(dev SectorReader) (*Drive, error) {
	log := logger.Logger()

	var sector [SectorSize]byte
	if err := dev.ReadSectors(0, 1, sector[:]); err != nil {
		return nil, fmt.Errorf("read sector 0: %w", err)
	}

	d := &Drive{dev: dev}
	if IsVBR(sector[:]) {
		log.Debugf("sector 0 is a volume boot record")
		v, err := NewVolume(dev, PartitionEntry{LBAStart: 0})
		if err != nil {
			return nil, fmt.Errorf("unpartitioned volume: %w", err)
		}
		d.Volumes[0] = v
		return d, nil
	}

	mbr, err := DecodeMBR(sector[:])
	if err != nil {
		return nil, err
	}
	if mbr.Signature != BootSignature {
		log.Warnf("master boot record signature is %#04x, want %#04x", mbr.Signature, BootSignature)
	}
	d.mbr = mbr

	for i, p := range mbr.Partitions {
		if !p.HasPartition() {
			continue
		}
		log.Debugf("partition %d: type=%#02x lba=%d sectors=%d", i, p.Type, p.LBAStart, p.Sectors)
		v, err := NewVolume(dev, p)
		if err != nil {
			return nil, fmt.Errorf("partition %d (type %#02x at lba %d): %w", i, p.Type, p.LBAStart, err)
		}
		d.Volumes[i] = v
	}
	return d, nil
}

// Partitioned reports whether the disk carries an MBR.
func (d *Drive) Partitioned() bool { return d.mbr != nil }

// MBR returns the partition table, or nil for an unpartitioned disk.
func (d *Drive) MBR() *MasterBootRecord { return d.mbr }

// Count is the number of volumes present.
func (d *Drive) Count() int {
	n := 0
	for _, v := range d.Volumes {
		if v != nil {
			n++
		}
	}
	return n
}

// Volume returns the volume in slot i.
func (d *Drive) Volume(i int) (*Volume, error) {
	if i < 0 || i >= MaxVolumes || d.Volumes[i] == nil {
		return nil, fmt.Errorf("volume %d: %w", i, ErrNotFound)
	}
	return d.Volumes[i], nil
}

// FirstVolume returns the lowest-numbered volume.
func (d *Drive) FirstVolume() (*Volume, error) {
	for _, v := range d.Volumes {
		if v != nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("drive has no volumes: %w", ErrNotFound)
}
