package fat

import (
	"encoding/binary"
	"errors"
	"testing"
)

// sectorMap serves sectors from a sparse map; missing sectors read as zeros.
type sectorMap map[uint64][]byte

func (m sectorMap) ReadSectors(lba uint64, count uint32, buf []byte) error {
	for i := uint64(0); i < uint64(count); i++ {
		dst := buf[i*SectorSize : (i+1)*SectorSize]
		if s, ok := m[lba+i]; ok {
			copy(dst, s)
		} else {
			clear(dst)
		}
	}
	return nil
}

func tableVolume(kind Type, table sectorMap) *Volume {
	return &Volume{
		dev:       table,
		partition: PartitionEntry{Type: 0x0C, LBAStart: 100},
		geo: Geometry{
			BytesPerSector:    SectorSize,
			SectorsPerCluster: 4,
			FirstFatSector:    1,
			FirstDataSector:   64,
			ClusterCount:      5000,
		},
		kind: kind,
	}
}

func TestNextClusterAddressFAT16(t *testing.T) {
	// Cluster 300 sits at byte 600 of the table: second FAT sector, offset 88.
	sec := make([]byte, SectorSize)
	binary.LittleEndian.PutUint16(sec[88:], 0x0123)
	binary.LittleEndian.PutUint16(sec[90:], 0xFFFF)
	binary.LittleEndian.PutUint16(sec[92:], 0xFFF7)
	binary.LittleEndian.PutUint16(sec[94:], 0x0000)
	v := tableVolume(TypeFAT16, sectorMap{102: sec})

	entry, err := v.NextClusterAddress(300)
	if err != nil {
		t.Fatalf("NextClusterAddress: %v", err)
	}
	if entry != 0x0123 {
		t.Errorf("entry=%#x, want 0x123", entry)
	}
	if v.fatLBA != 102 {
		t.Errorf("read FAT sector %d, want 102", v.fatLBA)
	}

	next, done, err := v.next(300)
	if err != nil || done || next != 0x0123 {
		t.Errorf("next(300) = %d, %v, %v", next, done, err)
	}
	if _, done, err := v.next(301); err != nil || !done {
		t.Errorf("next(301): done=%v err=%v, want end of chain", done, err)
	}
	if _, _, err := v.next(302); !errors.Is(err, ErrCorruptChain) {
		t.Errorf("next(302): expected ErrCorruptChain for a bad cluster, got %v", err)
	}
	if _, _, err := v.next(303); !errors.Is(err, ErrCorruptChain) {
		t.Errorf("next(303): expected ErrCorruptChain for a free cluster, got %v", err)
	}
}

func TestNextClusterAddressFAT32MasksHighBits(t *testing.T) {
	// Cluster 300 sits at byte 1200 of the table: third FAT sector, offset 176.
	sec := make([]byte, SectorSize)
	binary.LittleEndian.PutUint32(sec[176:], 0xF000_0005)
	binary.LittleEndian.PutUint32(sec[180:], 0xFFFF_FFF8)
	v := tableVolume(TypeFAT32, sectorMap{103: sec})

	entry, err := v.NextClusterAddress(300)
	if err != nil {
		t.Fatalf("NextClusterAddress: %v", err)
	}
	if entry != 5 {
		t.Errorf("entry=%#x, want 5", entry)
	}
	if !v.IsEndOfChain(0x0FFF_FFF8) || v.IsEndOfChain(0xFFF8) {
		t.Errorf("FAT32 end-of-chain threshold wrong")
	}
	if _, done, err := v.next(301); err != nil || !done {
		t.Errorf("next(301): done=%v err=%v, want end of chain", done, err)
	}
}

func TestIsEndOfChainFAT16(t *testing.T) {
	v := tableVolume(TypeFAT16, nil)
	for entry, want := range map[uint32]bool{0xFFF7: false, 0xFFF8: true, 0xFFFF: true, 0x0002: false} {
		if got := v.IsEndOfChain(entry); got != want {
			t.Errorf("IsEndOfChain(%#x)=%v, want %v", entry, got, want)
		}
	}
}
