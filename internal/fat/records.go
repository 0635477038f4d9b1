package fat

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// On-disk record sizes.
const (
	mbrSize            = 512
	partitionEntrySize = 16
	bootSectorSize     = 90
	fat32ExtendedSize  = 54
	DirEntrySize       = 32
)

// Signatures and markers.
const (
	BootSignature = 0xAA55

	dirEntryEnd     = 0x00
	dirEntryDeleted = 0xE5
	// A leading 0x05 stands for a real 0xE5 in the first name byte.
	dirEntryKanji = 0x05

	lfnLastEntry    = 0x40
	lfnSequenceMask = 0x1F
	lfnCharsPerPart = 13
)

var jumpBootVBR = [3]byte{0xEB, 0x3C, 0x90}

// Attr holds directory entry attribute bits.
type Attr uint8

const (
	AttrReadOnly  Attr = 0x01
	AttrHidden    Attr = 0x02
	AttrSystem    Attr = 0x04
	AttrVolumeID  Attr = 0x08
	AttrDirectory Attr = 0x10
	AttrArchive   Attr = 0x20
	AttrLongName  Attr = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

func (a Attr) String() string {
	flags := []byte("------")
	for i, c := range []struct {
		bit Attr
		ch  byte
	}{{AttrDirectory, 'd'}, {AttrReadOnly, 'r'}, {AttrHidden, 'h'}, {AttrSystem, 's'}, {AttrVolumeID, 'v'}, {AttrArchive, 'a'}} {
		if a&c.bit != 0 {
			flags[i] = c.ch
		}
	}
	return string(flags)
}

// PartitionEntry is one of the four MBR partition slots.
type PartitionEntry struct {
	Status   uint8
	CHSStart [3]byte
	Type     uint8
	CHSEnd   [3]byte
	LBAStart uint32
	Sectors  uint32
}

// HasPartition reports whether the slot is in use.
func (p PartitionEntry) HasPartition() bool { return p.Type != 0 }

// MasterBootRecord is sector 0 of a partitioned disk.
type MasterBootRecord struct {
	BootCode      [440]byte
	DiskSignature uint32
	Reserved      uint16
	Partitions    [4]PartitionEntry
	Signature     uint16
}

// BootSector is the BIOS parameter block common to all FAT variants, with the
// variant-specific extension left raw.
type BootSector struct {
	JumpBoot          [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	TableCount        uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	TableSize16       uint16
	SectorsPerTrack   uint16
	HeadCount         uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	Extended          [fat32ExtendedSize]byte
}

// Fat32Extended is the FAT32 part of the boot sector.
type Fat32Extended struct {
	TableSize32      uint32
	ExtFlags         uint16
	Version          uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	Reserved1        uint8
	BootSignature    uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// DirectoryEntry is a 32-byte short-name directory entry.
type DirectoryEntry struct {
	Name             [11]byte
	Attr             Attr
	NTReserved       uint8
	CreateTimeTenth  uint8
	CreateTime       uint16
	CreateDate       uint16
	AccessDate       uint16
	FirstClusterHigh uint16
	WriteTime        uint16
	WriteDate        uint16
	FirstClusterLow  uint16
	FileSize         uint32
}

// LfnEntry is a long-file-name fragment stored in directory entry form.
type LfnEntry struct {
	Sequence     uint8
	Name1        [5]uint16
	Attr         Attr
	Type         uint8
	Checksum     uint8
	Name2        [6]uint16
	FirstCluster uint16
	Name3        [2]uint16
}

func decodeRecord(b []byte, v any, name string) error {
	if _, err := binary.Decode(b, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// DecodeMBR parses sector 0.
func DecodeMBR(b []byte) (*MasterBootRecord, error) {
	var m MasterBootRecord
	if err := decodeRecord(b, &m, "master boot record"); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeBootSector parses a volume boot record.
func DecodeBootSector(b []byte) (*BootSector, error) {
	var bs BootSector
	if err := decodeRecord(b, &bs, "boot sector"); err != nil {
		return nil, err
	}
	return &bs, nil
}

// Fat32 decodes the FAT32 extension of the boot sector.
func (bs *BootSector) Fat32() Fat32Extended {
	var ext Fat32Extended
	// The array is exactly the encoded size, so decoding cannot fail.
	_, _ = binary.Decode(bs.Extended[:], binary.LittleEndian, &ext)
	return ext
}

// IsVBR reports whether b starts with the short-jump boot code of an
// unpartitioned volume.
func IsVBR(b []byte) bool {
	return len(b) >= 3 && [3]byte(b[:3]) == jumpBootVBR
}

// DecodeDirEntry parses one 32-byte directory entry.
func DecodeDirEntry(b []byte) (DirectoryEntry, error) {
	var e DirectoryEntry
	err := decodeRecord(b, &e, "directory entry")
	return e, err
}

// DecodeLfnEntry parses b as a long-file-name fragment.
func DecodeLfnEntry(b []byte) (LfnEntry, error) {
	var e LfnEntry
	err := decodeRecord(b, &e, "long name entry")
	return e, err
}

// IsEnd reports the directory terminator.
func (e *DirectoryEntry) IsEnd() bool { return e.Name[0] == dirEntryEnd }

// IsDeleted reports an unused slot.
func (e *DirectoryEntry) IsDeleted() bool { return e.Name[0] == dirEntryDeleted }

// IsLongName reports a long-file-name fragment.
func (e *DirectoryEntry) IsLongName() bool { return e.Attr&AttrLongName == AttrLongName }

// IsVolumeLabel reports the volume label pseudo-entry.
func (e *DirectoryEntry) IsVolumeLabel() bool { return !e.IsLongName() && e.Attr&AttrVolumeID != 0 }

// IsDir reports a subdirectory.
func (e *DirectoryEntry) IsDir() bool { return e.Attr&AttrDirectory != 0 }

// FirstCluster joins the high and low halves of the start cluster.
func (e *DirectoryEntry) FirstCluster() uint32 {
	return uint32(e.FirstClusterHigh)<<16 | uint32(e.FirstClusterLow)
}

// ShortName renders the 8.3 name as BASE.EXT.
func (e *DirectoryEntry) ShortName() string {
	name := e.Name
	if name[0] == dirEntryKanji {
		name[0] = dirEntryDeleted
	}
	base := strings.TrimRight(string(name[0:8]), " ")
	ext := strings.TrimRight(string(name[8:11]), " ")
	if ext != "" {
		return base + "." + ext
	}
	return base
}

// Checksum is the short-name checksum long-name fragments carry.
func (e *DirectoryEntry) Checksum() uint8 {
	var sum uint8
	for _, c := range e.Name {
		sum = (sum&1)<<7 + sum>>1 + c
	}
	return sum
}

// Modified decodes the last write timestamp. DOS times carry no zone, so
// the result is in UTC.
func (e *DirectoryEntry) Modified() time.Time {
	return dosTime(e.WriteDate, e.WriteTime)
}

func dosTime(date, tm uint16) time.Time {
	if date == 0 {
		return time.Time{}
	}
	return time.Date(
		1980+int(date>>9), time.Month(date>>5&0x0F), int(date&0x1F),
		int(tm>>11), int(tm>>5&0x3F), int(tm&0x1F)*2, 0, time.UTC)
}

// Chars returns the up to 13 UTF-16 units of the fragment, stopping at the
// NUL terminator or padding.
func (l *LfnEntry) Chars() []uint16 {
	out := make([]uint16, 0, lfnCharsPerPart)
	for _, part := range [][]uint16{l.Name1[:], l.Name2[:], l.Name3[:]} {
		for _, c := range part {
			if c == 0x0000 || c == 0xFFFF {
				return out
			}
			out = append(out, c)
		}
	}
	return out
}

// Order is the 1-based position of the fragment in the long name.
func (l *LfnEntry) Order() int { return int(l.Sequence & lfnSequenceMask) }

// IsLast reports the fragment that carries the end of the name.
func (l *LfnEntry) IsLast() bool { return l.Sequence&lfnLastEntry != 0 }

func encodeRecord(b []byte, v any, name string) error {
	if _, err := binary.Encode(b, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return nil
}

// Encode writes the record into the first 512 bytes of b.
func (m *MasterBootRecord) Encode(b []byte) error { return encodeRecord(b, m, "master boot record") }

// Encode writes the record into the first 90 bytes of b.
func (bs *BootSector) Encode(b []byte) error { return encodeRecord(b, bs, "boot sector") }

// SetFat32 stores ext in the variant-specific area.
func (bs *BootSector) SetFat32(ext Fat32Extended) {
	_, _ = binary.Encode(bs.Extended[:], binary.LittleEndian, ext)
}

// Encode writes the entry into the first 32 bytes of b.
func (e *DirectoryEntry) Encode(b []byte) error { return encodeRecord(b, e, "directory entry") }

// Encode writes the fragment into the first 32 bytes of b.
func (l *LfnEntry) Encode(b []byte) error { return encodeRecord(b, l, "long name entry") }
