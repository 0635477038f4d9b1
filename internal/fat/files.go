package fat

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf16"
)

// Entry is a directory entry with its long name resolved.
type Entry struct {
	Name         string    `json:"name" yaml:"name"`
	ShortName    string    `json:"shortName" yaml:"shortName"`
	Attr         Attr      `json:"attr" yaml:"attr"`
	FirstCluster uint32    `json:"firstCluster" yaml:"firstCluster"`
	Size         uint32    `json:"size" yaml:"size"`
	Modified     time.Time `json:"modified,omitzero" yaml:"modified,omitempty"`
}

// IsDir reports a directory.
func (e Entry) IsDir() bool { return e.Attr&AttrDirectory != 0 }

// MarshalText renders attributes as flag letters in reports.
func (a Attr) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// longName collects the fragments preceding a short entry.
type longName struct {
	parts    [][]uint16
	checksum uint8
	ok       bool
}

func (l *longName) reset() { *l = longName{} }

func (l *longName) add(f LfnEntry) {
	if f.IsLast() {
		l.parts = make([][]uint16, f.Order())
		l.checksum = f.Checksum
		l.ok = true
	}
	if !l.ok || f.Checksum != l.checksum || f.Order() < 1 || f.Order() > len(l.parts) {
		l.ok = false
		return
	}
	l.parts[f.Order()-1] = f.Chars()
}

func (l *longName) name(checksum uint8) (string, bool) {
	if !l.ok || checksum != l.checksum {
		return "", false
	}
	var units []uint16
	for _, p := range l.parts {
		if p == nil {
			return "", false
		}
		units = append(units, p...)
	}
	return string(utf16.Decode(units)), true
}

// readDir lists the directory at cluster, without the dot entries and the
// volume label.
func (v *Volume) readDir(cluster uint32) ([]Entry, error) {
	var (
		out []Entry
		lfn longName
	)
	it := v.EnumerateDirectory(cluster)
	for it.Next() {
		de := it.Entry()
		if f, ok := it.LongNameEntry(); ok {
			lfn.add(f)
			continue
		}
		if de.IsVolumeLabel() {
			lfn.reset()
			continue
		}

		name := de.ShortName()
		if long, ok := lfn.name(de.Checksum()); ok {
			name = long
		}
		lfn.reset()
		if name == "." || name == ".." {
			continue
		}

		out = append(out, Entry{
			Name:         name,
			ShortName:    de.ShortName(),
			Attr:         de.Attr,
			FirstCluster: de.FirstCluster(),
			Size:         de.FileSize,
			Modified:     de.Modified(),
		})
	}
	return out, it.Err()
}

func (v *Volume) rootEntry() Entry {
	return Entry{Name: "/", Attr: AttrDirectory, FirstCluster: v.ext.RootCluster}
}

func cleanPath(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

// Lookup resolves a slash-separated path from the root directory. Names match
// case-insensitively against either the long or the short name.
func (v *Volume) Lookup(p string) (Entry, error) {
	p = cleanPath(p)
	if p == "" {
		return v.rootEntry(), nil
	}

	parts := strings.Split(p, "/")
	cluster := v.ext.RootCluster
	for i, part := range parts {
		ents, err := v.readDir(cluster)
		if err != nil {
			return Entry{}, err
		}

		var match *Entry
		for j := range ents {
			if strings.EqualFold(ents[j].Name, part) || strings.EqualFold(ents[j].ShortName, part) {
				match = &ents[j]
				break
			}
		}
		walked := strings.Join(parts[:i+1], "/")
		if match == nil {
			return Entry{}, fmt.Errorf("%s: %w", walked, ErrNotFound)
		}
		if i == len(parts)-1 {
			return *match, nil
		}
		if !match.IsDir() {
			return Entry{}, fmt.Errorf("%s: %w", walked, ErrNotDirectory)
		}
		cluster = match.FirstCluster
	}
	return Entry{}, fmt.Errorf("%s: %w", p, ErrNotFound)
}

// ReadDir lists the directory at path.
func (v *Volume) ReadDir(p string) ([]Entry, error) {
	e, err := v.Lookup(p)
	if err != nil {
		return nil, err
	}
	if !e.IsDir() {
		return nil, fmt.Errorf("%s: %w", cleanPath(p), ErrNotDirectory)
	}
	return v.readDir(e.FirstCluster)
}

// ReadFile copies the contents of e to w by following its cluster chain and
// returns the number of bytes written.
func (v *Volume) ReadFile(e Entry, w io.Writer) (int64, error) {
	if e.IsDir() {
		return 0, fmt.Errorf("%s: %w", e.Name, ErrIsDirectory)
	}
	remaining := int64(e.Size)
	if remaining == 0 {
		return 0, nil
	}

	buf := make([]byte, v.geo.BytesPerCluster)
	var written int64
	c := e.FirstCluster
	for visited := uint32(0); ; visited++ {
		if visited >= v.geo.ClusterCount {
			return written, fmt.Errorf("%s: %w: chain longer than the volume", e.Name, ErrCorruptChain)
		}
		if err := v.ReadCluster(c, buf); err != nil {
			return written, fmt.Errorf("%s: %w", e.Name, err)
		}

		n := min(remaining, int64(len(buf)))
		m, err := w.Write(buf[:n])
		written += int64(m)
		if err != nil {
			return written, err
		}
		remaining -= n
		if remaining == 0 {
			return written, nil
		}

		next, end, err := v.next(c)
		if err != nil {
			return written, fmt.Errorf("%s: %w", e.Name, err)
		}
		if end {
			return written, fmt.Errorf("%s: %w: chain ends %d bytes short", e.Name, ErrCorruptChain, remaining)
		}
		c = next
	}
}

// ReadPath resolves p and copies the file contents to w.
func (v *Volume) ReadPath(p string, w io.Writer) (int64, error) {
	e, err := v.Lookup(p)
	if err != nil {
		return 0, err
	}
	return v.ReadFile(e, w)
}
