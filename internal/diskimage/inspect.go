package diskimage

import (
	"fmt"
	"io"
	"os"
	"sort"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/open-edge-platform/os-boot-storage/internal/fat"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// PartitionSummary is one used MBR slot.
type PartitionSummary struct {
	Slot      int    `json:"slot" yaml:"slot"`
	Type      string `json:"type" yaml:"type"`
	TypeName  string `json:"typeName,omitempty" yaml:"typeName,omitempty"`
	Bootable  bool   `json:"bootable" yaml:"bootable"`
	StartLBA  uint64 `json:"startLba" yaml:"startLba"`
	Sectors   uint64 `json:"sectors" yaml:"sectors"`
	SizeBytes uint64 `json:"sizeBytes" yaml:"sizeBytes"`
}

// Mismatch is a disagreement between the two partition table readers.
type Mismatch struct {
	Slot   int    `json:"slot" yaml:"slot"`
	Field  string `json:"field" yaml:"field"`
	Driver string `json:"driver" yaml:"driver"`
	Diskfs string `json:"diskfs" yaml:"diskfs"`
}

// Report is the result of Inspect.
type Report struct {
	File          string             `json:"file" yaml:"file"`
	Format        Format             `json:"format" yaml:"format"`
	SizeBytes     int64              `json:"sizeBytes" yaml:"sizeBytes"`
	Unpartitioned bool               `json:"unpartitioned" yaml:"unpartitioned"`
	Driver        []PartitionSummary `json:"driver" yaml:"driver"`
	Diskfs        []PartitionSummary `json:"diskfs" yaml:"diskfs"`
	Mismatches    []Mismatch         `json:"mismatches,omitempty" yaml:"mismatches,omitempty"`
}

// Consistent reports whether both readers agree.
func (r *Report) Consistent() bool { return len(r.Mismatches) == 0 }

// PartitionTypeName names common MBR partition type codes.
func PartitionTypeName(t uint8) string {
	switch t {
	case 0x01:
		return "FAT12"
	case 0x04, 0x06:
		return "FAT16"
	case 0x07:
		return "HPFS/NTFS/exFAT"
	case 0x0b:
		return "W95 FAT32"
	case 0x0c:
		return "W95 FAT32 (LBA)"
	case 0x0e:
		return "W95 FAT16 (LBA)"
	case 0x82:
		return "Linux swap"
	case 0x83:
		return "Linux filesystem"
	case 0x8e:
		return "Linux LVM"
	case 0xee:
		return "GPT protective"
	case 0xef:
		return "EFI System"
	default:
		return ""
	}
}

func summary(slot int, typ uint8, bootable bool, start, size uint32) PartitionSummary {
	return PartitionSummary{
		Slot:      slot,
		Type:      fmt.Sprintf("0x%02x", typ),
		TypeName:  PartitionTypeName(typ),
		Bootable:  bootable,
		StartLBA:  uint64(start),
		Sectors:   uint64(size),
		SizeBytes: uint64(size) * SectorSize,
	}
}

// SummarizeMBR lists the used slots of a decoded MBR.
func SummarizeMBR(m *fat.MasterBootRecord) []PartitionSummary {
	out := []PartitionSummary{}
	for i, p := range m.Partitions {
		if !p.HasPartition() {
			continue
		}
		out = append(out, summary(i, p.Type, p.Status&0x80 != 0, p.LBAStart, p.Sectors))
	}
	return out
}

// SummarizeTable lists the used slots of a go-diskfs MBR table.
func SummarizeTable(pt partition.Table) ([]PartitionSummary, error) {
	switch t := pt.(type) {
	case *mbr.Table:
		out := []PartitionSummary{}
		for i, p := range t.Partitions {
			if p == nil || p.Type == mbr.Empty {
				continue
			}
			out = append(out, summary(i, uint8(p.Type), p.Bootable, p.Start, p.Size))
		}
		return out, nil
	case *gpt.Table:
		return nil, fmt.Errorf("GPT disks are not bootable by this loader")
	default:
		return nil, fmt.Errorf("unsupported partition table type: %T", t)
	}
}

// Compare reports every field on which the two summaries differ, slot by slot.
func Compare(driver, other []PartitionSummary) []Mismatch {
	bySlot := func(ps []PartitionSummary) map[int]PartitionSummary {
		m := make(map[int]PartitionSummary, len(ps))
		for _, p := range ps {
			m[p.Slot] = p
		}
		return m
	}
	a, b := bySlot(driver), bySlot(other)

	slots := map[int]bool{}
	for s := range a {
		slots[s] = true
	}
	for s := range b {
		slots[s] = true
	}
	ordered := make([]int, 0, len(slots))
	for s := range slots {
		ordered = append(ordered, s)
	}
	sort.Ints(ordered)

	var out []Mismatch
	for _, s := range ordered {
		pa, okA := a[s]
		pb, okB := b[s]
		switch {
		case !okA:
			out = append(out, Mismatch{Slot: s, Field: "present", Driver: "no", Diskfs: "yes"})
			continue
		case !okB:
			out = append(out, Mismatch{Slot: s, Field: "present", Driver: "yes", Diskfs: "no"})
			continue
		}
		fields := []struct {
			name string
			x, y string
		}{
			{"type", pa.Type, pb.Type},
			{"bootable", fmt.Sprint(pa.Bootable), fmt.Sprint(pb.Bootable)},
			{"startLba", fmt.Sprint(pa.StartLBA), fmt.Sprint(pb.StartLBA)},
			{"sectors", fmt.Sprint(pa.Sectors), fmt.Sprint(pb.Sectors)},
		}
		for _, f := range fields {
			if f.x != f.y {
				out = append(out, Mismatch{Slot: s, Field: f.name, Driver: f.x, Diskfs: f.y})
			}
		}
	}
	return out
}

// Inspect parses the partition table of the image at path with the loader's
// own MBR reader and with go-diskfs, and reports any disagreement.
// Compressed images are expanded to a temporary raw file for go-diskfs.
func Inspect(path string) (*Report, error) {
	log := logger.Logger()

	img, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	rep := &Report{File: path, Format: img.Format, SizeBytes: img.Size()}

	sector := make([]byte, SectorSize)
	if _, err := img.ReadAt(sector, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read sector 0: %w", err)
	}
	if fat.IsVBR(sector) {
		log.Infof("%s has no partition table", path)
		rep.Unpartitioned = true
		rep.Driver, rep.Diskfs = []PartitionSummary{}, []PartitionSummary{}
		return rep, nil
	}
	m, err := fat.DecodeMBR(sector)
	if err != nil {
		return nil, err
	}
	rep.Driver = SummarizeMBR(m)

	rawPath := path
	if img.Format != FormatRaw {
		tmp, err := os.CreateTemp("", "os-boot-storage-*.img")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp file: %w", err)
		}
		rawPath = tmp.Name()
		defer func() {
			if err := os.Remove(rawPath); err != nil {
				log.Warnf("Failed to cleanup temporary raw image: %v", err)
			}
		}()
		_, werr := img.WriteTo(tmp)
		cerr := tmp.Close()
		if werr != nil {
			return nil, fmt.Errorf("failed to expand %s image: %w", img.Format, werr)
		}
		if cerr != nil {
			return nil, fmt.Errorf("failed to expand %s image: %w", img.Format, cerr)
		}
		log.Debugf("expanded %s to %s for diskfs", path, rawPath)
	}

	disk, err := diskfs.Open(rawPath)
	if err != nil {
		return nil, fmt.Errorf("open disk image: %w", err)
	}
	defer disk.Close()

	pt, err := disk.GetPartitionTable()
	if err != nil {
		return nil, fmt.Errorf("get partition table: %w", err)
	}
	if rep.Diskfs, err = SummarizeTable(pt); err != nil {
		return nil, err
	}

	rep.Mismatches = Compare(rep.Driver, rep.Diskfs)
	if !rep.Consistent() {
		log.Warnf("%s: %d partition table mismatches against diskfs", path, len(rep.Mismatches))
	}
	return rep, nil
}
