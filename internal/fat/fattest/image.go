// Package fattest builds FAT32 disk images for tests. Images are sparse, so a
// full-size FAT32 volume costs only the sectors actually written.
package fattest

import (
	"fmt"
	"io"
	"sort"

	"github.com/open-edge-platform/os-boot-storage/internal/fat"
)

const sectorSize = fat.SectorSize

// Read records one ReadSectors call.
type Read struct {
	LBA   uint64
	Count uint32
}

// Image is a sparse disk. It is both a fat.SectorReader and an
// io.ReaderAt/io.WriterAt pair, so it can back a simulated port directly.
type Image struct {
	sectors map[uint64][]byte
	size    uint64

	// Volumes lists the layouts written by Format, in call order.
	Volumes []Layout

	reads []Read
}

// NewImage returns an all-zero disk of the given number of sectors.
func NewImage(sectors uint64) *Image {
	return &Image{sectors: map[uint64][]byte{}, size: sectors}
}

// Sectors is the disk capacity.
func (im *Image) Sectors() uint64 { return im.size }

// Size is the disk capacity in bytes.
func (im *Image) Size() int64 { return int64(im.size) * sectorSize }

func (im *Image) sector(lba uint64, create bool) []byte {
	s, ok := im.sectors[lba]
	if !ok && create {
		s = make([]byte, sectorSize)
		im.sectors[lba] = s
	}
	return s
}

// ReadSectors implements fat.SectorReader and records the call.
func (im *Image) ReadSectors(lba uint64, count uint32, buf []byte) error {
	im.reads = append(im.reads, Read{LBA: lba, Count: count})
	n := int(count) * sectorSize
	if len(buf) < n {
		return fmt.Errorf("read lba %d+%d: buffer of %d bytes", lba, count, len(buf))
	}
	if lba+uint64(count) > im.size {
		return fmt.Errorf("read lba %d+%d: beyond end of %d-sector disk", lba, count, im.size)
	}
	_, err := im.ReadAt(buf[:n], int64(lba)*sectorSize)
	return err
}

// Reads returns the ReadSectors calls made so far.
func (im *Image) Reads() []Read { return im.reads }

// ResetReads forgets recorded reads.
func (im *Image) ResetReads() { im.reads = nil }

// ReadLBA reports whether any recorded read covered lba.
func (im *Image) ReadLBA(lba uint64) bool {
	for _, r := range im.reads {
		if lba >= r.LBA && lba < r.LBA+uint64(r.Count) {
			return true
		}
	}
	return false
}

func (im *Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > im.Size() {
		return 0, fmt.Errorf("read at %d: offset out of range", off)
	}
	n := 0
	for n < len(p) && off+int64(n) < im.Size() {
		pos := off + int64(n)
		in := int(pos % sectorSize)
		chunk := min(len(p)-n, sectorSize-in)
		if s := im.sector(uint64(pos/sectorSize), false); s != nil {
			copy(p[n:n+chunk], s[in:])
		} else {
			clear(p[n : n+chunk])
		}
		n += chunk
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (im *Image) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > im.Size() {
		return 0, fmt.Errorf("write at %d+%d: beyond end of disk", off, len(p))
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		in := int(pos % sectorSize)
		n += copy(im.sector(uint64(pos/sectorSize), true)[in:], p[n:])
	}
	return n, nil
}

// WriteTo streams the whole disk, zero sectors included.
func (im *Image) WriteTo(w io.Writer) (int64, error) {
	var total int64
	zero := make([]byte, sectorSize)
	for lba := uint64(0); lba < im.size; lba++ {
		s := im.sector(lba, false)
		if s == nil {
			s = zero
		}
		n, err := w.Write(s)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Bytes materializes the disk.
func (im *Image) Bytes() []byte {
	b := make([]byte, im.Size())
	lbas := make([]uint64, 0, len(im.sectors))
	for lba := range im.sectors {
		lbas = append(lbas, lba)
	}
	sort.Slice(lbas, func(i, j int) bool { return lbas[i] < lbas[j] })
	for _, lba := range lbas {
		copy(b[lba*sectorSize:], im.sectors[lba])
	}
	return b
}
