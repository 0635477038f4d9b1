package fat

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

const (
	fat32EntryMask  = 0x0FFFFFFF
	fat32EndOfChain = 0x0FFFFFF8
	fat32Bad        = 0x0FFFFFF7

	fat16EntryMask  = 0xFFFF
	fat16EndOfChain = 0xFFF8
	fat16Bad        = 0xFFF7

	firstDataCluster = 2
)

// Volume is one FAT32 filesystem on a disk.
type Volume struct {
	dev       SectorReader
	partition PartitionEntry
	boot      BootSector
	ext       Fat32Extended
	geo       Geometry
	kind      Type

	// last FAT sector read, by absolute LBA
	fatLBA   uint64
	fatValid bool
	fatBuf   [SectorSize]byte
}

// NewVolume reads the volume boot record at the partition's first sector and
// derives its geometry. Only FAT32 volumes with 512-byte sectors are accepted.
func NewVolume(dev SectorReader, partition PartitionEntry) (*Volume, error) {
	log := logger.Logger()

	var sector [SectorSize]byte
	if err := dev.ReadSectors(uint64(partition.LBAStart), 1, sector[:]); err != nil {
		return nil, fmt.Errorf("read boot sector at lba %d: %w", partition.LBAStart, err)
	}
	bs, err := DecodeBootSector(sector[:])
	if err != nil {
		return nil, err
	}

	geo, err := ComputeGeometry(bs)
	if err != nil {
		return nil, err
	}
	if geo.BytesPerSector != SectorSize {
		return nil, fmt.Errorf("%w: %d bytes per sector", ErrMalformedVolume, geo.BytesPerSector)
	}
	kind := ClassifyClusters(geo.ClusterCount)
	if kind != TypeFAT32 {
		return nil, fmt.Errorf("%w: %s with %d clusters", ErrUnsupportedFatVariant, kind, geo.ClusterCount)
	}

	v := &Volume{
		dev:       dev,
		partition: partition,
		boot:      *bs,
		ext:       bs.Fat32(),
		geo:       geo,
		kind:      kind,
	}
	if err := v.checkCluster(v.ext.RootCluster); err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	}
	log.Debugf("volume at lba %d: %s %q clusters=%d spc=%d first_data=%d root=%d",
		partition.LBAStart, kind, v.Label(), geo.ClusterCount, geo.SectorsPerCluster,
		geo.FirstDataSector, v.ext.RootCluster)
	return v, nil
}

// Partition returns the partition entry the volume was opened from.
func (v *Volume) Partition() PartitionEntry { return v.partition }

// StartLBA is the absolute sector of the volume boot record.
func (v *Volume) StartLBA() uint64 { return uint64(v.partition.LBAStart) }

func (v *Volume) Geometry() Geometry { return v.geo }

func (v *Volume) Type() Type { return v.kind }

// BootSector returns a copy of the parsed boot sector.
func (v *Volume) BootSector() BootSector { return v.boot }

func (v *Volume) RootCluster() uint32 { return v.ext.RootCluster }

func (v *Volume) BytesPerCluster() uint32 { return v.geo.BytesPerCluster }

func (v *Volume) VolumeID() uint32 { return v.ext.VolumeID }

// Label is the boot sector volume label with padding removed.
func (v *Volume) Label() string {
	return strings.TrimRight(string(v.ext.VolumeLabel[:]), " \x00")
}

// OEMName is the formatter's identifier from the boot sector.
func (v *Volume) OEMName() string {
	return strings.TrimRight(string(v.boot.OEMName[:]), " \x00")
}

func (v *Volume) checkCluster(cluster uint32) error {
	if cluster < firstDataCluster || cluster >= v.geo.ClusterCount+firstDataCluster {
		return fmt.Errorf("%w: %d (volume has clusters 2..%d)",
			ErrInvalidCluster, cluster, v.geo.ClusterCount+1)
	}
	return nil
}

// FirstSectorOfCluster returns the absolute LBA of a data cluster.
func (v *Volume) FirstSectorOfCluster(cluster uint32) (uint64, error) {
	if err := v.checkCluster(cluster); err != nil {
		return 0, err
	}
	rel := uint64(cluster-firstDataCluster)*uint64(v.geo.SectorsPerCluster) + uint64(v.geo.FirstDataSector)
	return v.StartLBA() + rel, nil
}

// ReadCluster reads one cluster into buf with a single multi-sector read.
func (v *Volume) ReadCluster(cluster uint32, buf []byte) error {
	if len(buf) < int(v.geo.BytesPerCluster) {
		return fmt.Errorf("read cluster %d: %d byte buffer, need %d", cluster, len(buf), v.geo.BytesPerCluster)
	}
	lba, err := v.FirstSectorOfCluster(cluster)
	if err != nil {
		return err
	}
	if err := v.dev.ReadSectors(lba, v.geo.SectorsPerCluster, buf); err != nil {
		return fmt.Errorf("read cluster %d at lba %d: %w", cluster, lba, err)
	}
	return nil
}

// NextClusterAddress returns the allocation table entry for cluster.
func (v *Volume) NextClusterAddress(cluster uint32) (uint32, error) {
	if err := v.checkCluster(cluster); err != nil {
		return 0, err
	}
	width := uint32(4)
	if v.kind == TypeFAT16 {
		width = 2
	}
	off := cluster * width
	lba := v.StartLBA() + uint64(v.geo.FirstFatSector) + uint64(off/v.geo.BytesPerSector)
	idx := off % v.geo.BytesPerSector

	if !v.fatValid || v.fatLBA != lba {
		if err := v.dev.ReadSectors(lba, 1, v.fatBuf[:]); err != nil {
			v.fatValid = false
			return 0, fmt.Errorf("read FAT sector at lba %d: %w", lba, err)
		}
		v.fatLBA, v.fatValid = lba, true
	}

	if v.kind == TypeFAT16 {
		return uint32(binary.LittleEndian.Uint16(v.fatBuf[idx:])) & fat16EntryMask, nil
	}
	return binary.LittleEndian.Uint32(v.fatBuf[idx:]) & fat32EntryMask, nil
}

// IsEndOfChain reports an end-of-chain marker.
func (v *Volume) IsEndOfChain(entry uint32) bool {
	if v.kind == TypeFAT16 {
		return entry >= fat16EndOfChain
	}
	return entry >= fat32EndOfChain
}

// next follows the chain from cluster. It returns done at the end of the
// chain and ErrCorruptChain for free, bad or out-of-range links.
func (v *Volume) next(cluster uint32) (uint32, bool, error) {
	entry, err := v.NextClusterAddress(cluster)
	if err != nil {
		return 0, false, err
	}
	if v.IsEndOfChain(entry) {
		return 0, true, nil
	}
	bad := uint32(fat32Bad)
	if v.kind == TypeFAT16 {
		bad = fat16Bad
	}
	if entry == 0 || entry == bad {
		return 0, false, fmt.Errorf("%w: cluster %d links to %#x", ErrCorruptChain, cluster, entry)
	}
	if err := v.checkCluster(entry); err != nil {
		return 0, false, fmt.Errorf("%w: cluster %d links to %d", ErrCorruptChain, cluster, entry)
	}
	return entry, false, nil
}

// EnumerateRootDirectory returns a cursor over the root directory.
func (v *Volume) EnumerateRootDirectory() *DirectoryEnumerator {
	return v.EnumerateDirectory(v.ext.RootCluster)
}

// EnumerateDirectory returns a cursor over the directory starting at cluster.
func (v *Volume) EnumerateDirectory(cluster uint32) *DirectoryEnumerator {
	return newDirectoryEnumerator(v, cluster)
}
