//go:build linux

package pci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

// DefaultSysfsRoot is where Linux exposes the PCI bus.
const DefaultSysfsRoot = "/sys"

// SysfsDevice accesses a function through /sys/bus/pci/devices/<addr>/config.
type SysfsDevice struct {
	Address string
	dir     string
}

// OpenSysfs returns the function at addr (for example 0000:00:1f.2).
func OpenSysfs(root, addr string) (*SysfsDevice, error) {
	dir := filepath.Join(root, "bus", "pci", "devices", addr)
	if _, err := os.Stat(filepath.Join(dir, "config")); err != nil {
		return nil, fmt.Errorf("pci device %s: %w", addr, err)
	}
	return &SysfsDevice{Address: addr, dir: dir}, nil
}

// ScanSysfs lists every function under root, sorted by address.
func ScanSysfs(root string) ([]Device, error) {
	entries, err := os.ReadDir(filepath.Join(root, "bus", "pci", "devices"))
	if err != nil {
		return nil, fmt.Errorf("list pci devices: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	devs := make([]Device, 0, len(names))
	for _, name := range names {
		d, err := OpenSysfs(root, name)
		if err != nil {
			continue
		}
		devs = append(devs, d)
	}
	return devs, nil
}

// Driver names the kernel driver bound to the function, or "" when the
// function is unbound.
func (s *SysfsDevice) Driver() (string, error) {
	target, err := os.Readlink(filepath.Join(s.dir, "driver"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pci device %s driver: %w", s.Address, err)
	}
	return filepath.Base(target), nil
}

func (s *SysfsDevice) ReadConfig32(off uint8) (uint32, error) {
	fd, err := unix.Open(filepath.Join(s.dir, "config"), unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s config: %w", s.Address, err)
	}
	defer unix.Close(fd)

	var b [4]byte
	n, err := unix.Pread(fd, b[:], int64(off))
	if err != nil {
		return 0, fmt.Errorf("read %s config at %#x: %w", s.Address, off, err)
	}
	if n != len(b) {
		// Unprivileged readers only see the first 64 bytes.
		return 0, fmt.Errorf("short read of %s config at %#x", s.Address, off)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (s *SysfsDevice) WriteConfig32(off uint8, v uint32) error {
	fd, err := unix.Open(filepath.Join(s.dir, "config"), unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s config for write: %w", s.Address, err)
	}
	defer unix.Close(fd)

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	if _, err := unix.Pwrite(fd, b[:], int64(off)); err != nil {
		return fmt.Errorf("write %s config at %#x: %w", s.Address, off, err)
	}
	return nil
}
