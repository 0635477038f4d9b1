package pci

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// ConfigSpace is an in-memory 256-byte configuration header. It backs
// simulated controllers.
type ConfigSpace struct {
	mu   sync.Mutex
	data [256]byte
	// Writes counts WriteConfig32 calls per offset.
	Writes map[uint8]int
}

// NewConfigSpace returns a header carrying id.
func NewConfigSpace(id Identity) *ConfigSpace {
	c := &ConfigSpace{Writes: map[uint8]int{}}
	binary.LittleEndian.PutUint32(c.data[RegVendorDevice:], uint32(id.VendorID)|uint32(id.DeviceID)<<16)
	binary.LittleEndian.PutUint32(c.data[RegClass:],
		uint32(id.Class)<<24|uint32(id.Subclass)<<16|uint32(id.ProgIf)<<8|uint32(id.Revision))
	return c
}

func (c *ConfigSpace) ReadConfig32(off uint8) (uint32, error) {
	if off%4 != 0 || int(off)+4 > len(c.data) {
		return 0, fmt.Errorf("config offset %#x out of range", off)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return binary.LittleEndian.Uint32(c.data[off:]), nil
}

func (c *ConfigSpace) WriteConfig32(off uint8, v uint32) error {
	if off%4 != 0 || int(off)+4 > len(c.data) {
		return fmt.Errorf("config offset %#x out of range", off)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	binary.LittleEndian.PutUint32(c.data[off:], v)
	c.Writes[off]++
	return nil
}

// SetBAR64 programs a 64-bit memory BAR at off.
func (c *ConfigSpace) SetBAR64(off uint8, addr uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	binary.LittleEndian.PutUint32(c.data[off:], uint32(addr)&^0xF|0x4)
	binary.LittleEndian.PutUint32(c.data[off+4:], uint32(addr>>32))
}

// SetBAR32 programs a 32-bit memory BAR at off.
func (c *ConfigSpace) SetBAR32(off uint8, addr uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	binary.LittleEndian.PutUint32(c.data[off:], addr&^0xF)
}
