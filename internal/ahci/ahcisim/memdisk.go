package ahcisim

import (
	"fmt"
	"io"
)

// MemDisk is a Backing held in memory.
type MemDisk struct {
	b []byte
}

// NewMemDisk wraps b; writes land in b.
func NewMemDisk(b []byte) *MemDisk { return &MemDisk{b: b} }

// Bytes returns the disk contents.
func (d *MemDisk) Bytes() []byte { return d.b }

// Size is the disk length in bytes.
func (d *MemDisk) Size() int64 { return int64(len(d.b)) }

func (d *MemDisk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(d.b)) {
		return 0, fmt.Errorf("read at %d: offset out of range", off)
	}
	n := copy(p, d.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *MemDisk) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(d.b)) {
		return 0, fmt.Errorf("write at %d+%d: beyond end of disk", off, len(p))
	}
	return copy(d.b[off:], p), nil
}
