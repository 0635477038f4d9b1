// Package diskimage opens raw and compressed disk images as sector stores for
// the simulated controller, and cross-checks their partition tables.
package diskimage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/open-edge-platform/os-boot-storage/internal/ahci/ahcisim"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// SectorSize is the sector size images are measured in.
const SectorSize = 512

// Format is the container encoding of an image file.
type Format string

const (
	FormatRaw  Format = "raw"
	FormatGzip Format = "gzip"
	FormatZstd Format = "zstd"
	FormatXz   Format = "xz"
)

// ErrReadOnly is returned for writes to an image opened in place.
var ErrReadOnly = errors.New("image is read-only")

var magics = []struct {
	format Format
	magic  []byte
}{
	{FormatGzip, []byte{0x1F, 0x8B}},
	{FormatZstd, []byte{0x28, 0xB5, 0x2F, 0xFD}},
	{FormatXz, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}},
}

// Detect identifies the format from the leading bytes of a file.
func Detect(header []byte) Format {
	for _, m := range magics {
		if bytes.HasPrefix(header, m.magic) {
			return m.format
		}
	}
	return FormatRaw
}

// DetectFile reads the header of path and identifies its format.
func DetectFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	hdr := make([]byte, 8)
	n, err := io.ReadFull(f, hdr)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read image header: %w", err)
	}
	return Detect(hdr[:n]), nil
}

// NewReader returns a reader producing the raw disk bytes of r.
func NewReader(r io.Reader, f Format) (io.ReadCloser, error) {
	switch f {
	case FormatRaw:
		return io.NopCloser(r), nil
	case FormatGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return zr, nil
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case FormatXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	default:
		return nil, fmt.Errorf("unsupported image format %q", f)
	}
}

// Image is a disk image usable as an ahcisim.Backing.
type Image struct {
	Path   string
	Format Format

	file *os.File
	mem  *ahcisim.MemDisk
	size int64
}

// Open opens path for reading. Raw images are read in place and reject
// writes; compressed images are expanded into memory.
func Open(path string) (*Image, error) {
	format, err := DetectFile(path)
	if err != nil {
		return nil, err
	}
	if format != FormatRaw {
		return load(path, format)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}
	logger.Logger().Debugf("opened raw image %s (%d bytes)", path, fi.Size())
	return &Image{Path: path, Format: format, file: f, size: fi.Size()}, nil
}

// Load reads the whole image into memory. Writes change only the copy.
func Load(path string) (*Image, error) {
	format, err := DetectFile(path)
	if err != nil {
		return nil, err
	}
	return load(path, format)
}

func load(path string, format Format) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	r, err := NewReader(f, format)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s image: %w", format, err)
	}
	logger.Logger().Debugf("loaded %s image %s (%d bytes)", format, path, len(data))
	return FromBytes(path, format, data), nil
}

// FromBytes wraps an in-memory disk.
func FromBytes(path string, format Format, data []byte) *Image {
	return &Image{Path: path, Format: format, mem: ahcisim.NewMemDisk(data), size: int64(len(data))}
}

// Size is the image length in bytes.
func (im *Image) Size() int64 { return im.size }

// Sectors is the number of whole sectors in the image.
func (im *Image) Sectors() uint64 { return uint64(im.size / SectorSize) }

// InMemory reports whether writes are accepted.
func (im *Image) InMemory() bool { return im.mem != nil }

func (im *Image) ReadAt(p []byte, off int64) (int, error) {
	if im.mem != nil {
		return im.mem.ReadAt(p, off)
	}
	return im.file.ReadAt(p, off)
}

func (im *Image) WriteAt(p []byte, off int64) (int, error) {
	if im.mem == nil {
		return 0, fmt.Errorf("write %s at %d: %w", im.Path, off, ErrReadOnly)
	}
	return im.mem.WriteAt(p, off)
}

// WriteTo streams the raw disk bytes.
func (im *Image) WriteTo(w io.Writer) (int64, error) {
	return io.Copy(w, io.NewSectionReader(im, 0, im.size))
}

// Close releases the file of an in-place image.
func (im *Image) Close() error {
	if im.file != nil {
		return im.file.Close()
	}
	return nil
}
