package ahci

import (
	"fmt"

	"github.com/open-edge-platform/os-boot-storage/internal/hw/mmio"
)

const maxLBA48 = 1 << 48

// Disk reads and writes arbitrary sector runs on a port, staging data through
// a DMA bounce buffer.
type Disk struct {
	port   *Port
	bounce mmio.Buffer
	chunk  uint32
}

// NewDisk returns a disk over port p using bounce for DMA. The bounce buffer
// must hold at least one sector.
func NewDisk(p *Port, bounce mmio.Buffer) (*Disk, error) {
	sectors := uint32(len(bounce.Data) / SectorSize)
	if sectors == 0 {
		return nil, fmt.Errorf("%w: bounce buffer of %d bytes", ErrInvalidTransfer, len(bounce.Data))
	}
	return &Disk{port: p, bounce: bounce, chunk: min(sectors, MaxSectorsPerCommand)}, nil
}

// Port returns the underlying port.
func (d *Disk) Port() *Port { return d.port }

// ReadSectors reads count sectors starting at lba into dst.
func (d *Disk) ReadSectors(lba uint64, count uint32, dst []byte) error {
	if err := checkRange(lba, count, len(dst)); err != nil {
		return err
	}
	for done := uint32(0); done < count; {
		n := min(count-done, d.chunk)
		cur := lba + uint64(done)
		if err := d.port.Read(uint32(cur), uint32(cur>>32), n, d.bounce); err != nil {
			return fmt.Errorf("read lba %d+%d: %w", cur, n, err)
		}
		copy(dst[uint64(done)*SectorSize:], d.bounce.Data[:n*SectorSize])
		done += n
	}
	return nil
}

// WriteSectors writes src, a whole number of sectors, starting at lba.
func (d *Disk) WriteSectors(lba uint64, src []byte) error {
	if len(src)%SectorSize != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of sectors", ErrInvalidTransfer, len(src))
	}
	count := uint32(len(src) / SectorSize)
	if err := checkRange(lba, count, len(src)); err != nil {
		return err
	}
	for done := uint32(0); done < count; {
		n := min(count-done, d.chunk)
		cur := lba + uint64(done)
		copy(d.bounce.Data, src[uint64(done)*SectorSize:uint64(done+n)*SectorSize])
		if err := d.port.Write(uint32(cur), uint32(cur>>32), n, d.bounce); err != nil {
			return fmt.Errorf("write lba %d+%d: %w", cur, n, err)
		}
		done += n
	}
	return nil
}

func checkRange(lba uint64, count uint32, bufLen int) error {
	if count == 0 {
		return fmt.Errorf("%w: zero sectors", ErrInvalidTransfer)
	}
	if uint64(bufLen) < uint64(count)*SectorSize {
		return fmt.Errorf("%w: %d byte buffer for %d sectors", ErrInvalidTransfer, bufLen, count)
	}
	if lba+uint64(count) > maxLBA48 {
		return fmt.Errorf("%w: lba %d+%d beyond 48-bit range", ErrInvalidTransfer, lba, count)
	}
	return nil
}
