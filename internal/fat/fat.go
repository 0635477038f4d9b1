// Package fat reads FAT32 volumes from a sector-addressed disk. A Drive
// discovers up to four volumes from the MBR (or a single unpartitioned volume);
// a Volume resolves clusters, follows the allocation table and enumerates
// directories. Nothing is ever written.
package fat

import "errors"

// SectorSize is the only logical sector size the reader accepts.
const SectorSize = 512

// SectorReader reads whole sectors from the underlying disk.
type SectorReader interface {
	ReadSectors(lba uint64, count uint32, buf []byte) error
}

var (
	// ErrUnsupportedFatVariant means the volume is FAT12 or FAT16.
	ErrUnsupportedFatVariant = errors.New("unsupported FAT variant")
	// ErrMalformedVolume means the boot sector geometry is unusable.
	ErrMalformedVolume = errors.New("malformed volume")
	// ErrInvalidCluster means a cluster number outside the data region.
	ErrInvalidCluster = errors.New("invalid cluster")
	// ErrCorruptChain means a cluster chain loops, ends early or hits a
	// free or bad cluster.
	ErrCorruptChain = errors.New("corrupt cluster chain")
	// ErrNotFound means no directory entry matched.
	ErrNotFound = errors.New("no such file or directory")
	// ErrNotDirectory means a path component is a file.
	ErrNotDirectory = errors.New("not a directory")
	// ErrIsDirectory means file contents were requested for a directory.
	ErrIsDirectory = errors.New("is a directory")
)

// Type is the FAT variant of a volume.
type Type int

const (
	TypeUnknown Type = iota
	TypeFAT12
	TypeFAT16
	TypeFAT32
	TypeExFAT
)

func (t Type) String() string {
	switch t {
	case TypeFAT12:
		return "FAT12"
	case TypeFAT16:
		return "FAT16"
	case TypeFAT32:
		return "FAT32"
	case TypeExFAT:
		return "exFAT"
	default:
		return "unknown"
	}
}

// MarshalText renders the variant name in reports.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Cluster count limits that separate the variants.
const (
	maxFAT12Clusters = 4085
	maxFAT16Clusters = 65525
)

// ClassifyClusters maps a data cluster count to its variant.
func ClassifyClusters(n uint32) Type {
	switch {
	case n < maxFAT12Clusters:
		return TypeFAT12
	case n < maxFAT16Clusters:
		return TypeFAT16
	default:
		return TypeFAT32
	}
}
