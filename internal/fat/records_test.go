package fat_test

import (
	"encoding/binary"
	"testing"

	"github.com/open-edge-platform/os-boot-storage/internal/fat"
)

func TestRecordSizes(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int
	}{
		{"MasterBootRecord", fat.MasterBootRecord{}, 512},
		{"PartitionEntry", fat.PartitionEntry{}, 16},
		{"BootSector", fat.BootSector{}, 90},
		{"Fat32Extended", fat.Fat32Extended{}, 54},
		{"DirectoryEntry", fat.DirectoryEntry{}, fat.DirEntrySize},
		{"LfnEntry", fat.LfnEntry{}, fat.DirEntrySize},
	}
	for _, tt := range tests {
		if got := binary.Size(tt.v); got != tt.want {
			t.Errorf("%s: %d bytes, want %d", tt.name, got, tt.want)
		}
	}
}

func TestDecodeMBRPartitionOffsets(t *testing.T) {
	sector := make([]byte, 512)
	// Second slot at 0x1CE: type 0x0C, LBA 2048, 4096 sectors.
	sector[0x1CE+4] = 0x0C
	binary.LittleEndian.PutUint32(sector[0x1CE+8:], 2048)
	binary.LittleEndian.PutUint32(sector[0x1CE+12:], 4096)
	sector[510], sector[511] = 0x55, 0xAA

	m, err := fat.DecodeMBR(sector)
	if err != nil {
		t.Fatalf("DecodeMBR: %v", err)
	}
	if m.Signature != fat.BootSignature {
		t.Errorf("signature %#x", m.Signature)
	}
	if m.Partitions[0].HasPartition() || !m.Partitions[1].HasPartition() {
		t.Errorf("partitions=%+v", m.Partitions)
	}
	if p := m.Partitions[1]; p.LBAStart != 2048 || p.Sectors != 4096 {
		t.Errorf("slot 1 = %+v", p)
	}
}

func TestIsVBR(t *testing.T) {
	if !fat.IsVBR([]byte{0xEB, 0x3C, 0x90, 0}) {
		t.Errorf("short jump not detected")
	}
	for _, b := range [][]byte{{0xEB, 0x58, 0x90}, {0xFA, 0x33, 0xC0}, {0xEB}} {
		if fat.IsVBR(b) {
			t.Errorf("IsVBR(% x) = true", b)
		}
	}
}

func TestDirectoryEntryNames(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"BOOTX64 EFI", "BOOTX64.EFI"},
		{"KERNEL     ", "KERNEL"},
		{"\x05ABC    TXT", "\xe5ABC.TXT"},
	}
	for _, tt := range tests {
		var e fat.DirectoryEntry
		copy(e.Name[:], tt.raw)
		if got := e.ShortName(); got != tt.want {
			t.Errorf("ShortName(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}

	e := fat.DirectoryEntry{FirstClusterHigh: 0x0001, FirstClusterLow: 0x0002, Attr: fat.AttrDirectory | fat.AttrHidden}
	if e.FirstCluster() != 0x10002 || !e.IsDir() || e.IsLongName() || e.IsVolumeLabel() {
		t.Errorf("entry %+v decoded wrongly", e)
	}
	if got := e.Attr.String(); got != "d-h---" {
		t.Errorf("Attr = %s", got)
	}
	if !(&fat.DirectoryEntry{Attr: fat.AttrLongName}).IsLongName() {
		t.Errorf("long name attribute not detected")
	}
}

func TestLfnChars(t *testing.T) {
	l := fat.LfnEntry{Sequence: 0x42}
	copy(l.Name1[:], []uint16{'a', 'b', 'c', 'd', 'e'})
	copy(l.Name2[:], []uint16{'f', 0, 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF})
	l.Name3 = [2]uint16{0xFFFF, 0xFFFF}

	if got := string(rune16(l.Chars())); got != "abcdef" {
		t.Errorf("Chars = %q", got)
	}
	if l.Order() != 2 || !l.IsLast() {
		t.Errorf("order=%d last=%v", l.Order(), l.IsLast())
	}
}

func rune16(u []uint16) []rune {
	r := make([]rune, len(u))
	for i, c := range u {
		r[i] = rune(c)
	}
	return r
}
