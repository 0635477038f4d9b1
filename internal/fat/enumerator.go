package fat

import "fmt"

// DirectoryEnumerator is a forward-only cursor over the entries of one
// directory. Deleted entries are skipped; the cursor stops at the first
// terminator entry or at the end of the cluster chain. Clusters are read only
// when the cursor reaches them.
//
//	it := vol.EnumerateRootDirectory()
//	for it.Next() {
//		e := it.Entry()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type DirectoryEnumerator struct {
	vol   *Volume
	first uint32

	cluster uint32
	index   int
	loaded  bool
	visited uint32
	buf     []byte

	entry DirectoryEntry
	raw   [DirEntrySize]byte
	done  bool
	err   error
}

func newDirectoryEnumerator(v *Volume, first uint32) *DirectoryEnumerator {
	return &DirectoryEnumerator{
		vol:     v,
		first:   first,
		cluster: first,
		buf:     make([]byte, v.geo.BytesPerCluster),
	}
}

// Next advances to the next live entry.
func (d *DirectoryEnumerator) Next() bool {
	if d.done {
		return false
	}
	perCluster := len(d.buf) / DirEntrySize

	for {
		if d.index >= perCluster {
			next, end, err := d.vol.next(d.cluster)
			if err != nil {
				return d.fail(err)
			}
			if end {
				d.done = true
				return false
			}
			d.cluster, d.index, d.loaded = next, 0, false
		}

		if !d.loaded {
			d.visited++
			if d.visited > d.vol.geo.ClusterCount {
				return d.fail(fmt.Errorf("%w: directory at cluster %d visits more clusters than the volume has",
					ErrCorruptChain, d.first))
			}
			if err := d.vol.ReadCluster(d.cluster, d.buf); err != nil {
				return d.fail(err)
			}
			d.loaded = true
		}

		raw := d.buf[d.index*DirEntrySize : (d.index+1)*DirEntrySize]
		d.index++

		switch raw[0] {
		case dirEntryEnd:
			d.done = true
			return false
		case dirEntryDeleted:
			continue
		}

		e, err := DecodeDirEntry(raw)
		if err != nil {
			return d.fail(err)
		}
		d.entry = e
		copy(d.raw[:], raw)
		return true
	}
}

func (d *DirectoryEnumerator) fail(err error) bool {
	d.err = fmt.Errorf("enumerate directory at cluster %d: %w", d.first, err)
	d.done = true
	return false
}

// Entry is the entry Next stopped at.
func (d *DirectoryEnumerator) Entry() DirectoryEntry { return d.entry }

// LongNameEntry decodes the current entry as a long-name fragment.
func (d *DirectoryEnumerator) LongNameEntry() (LfnEntry, bool) {
	if !d.entry.IsLongName() {
		return LfnEntry{}, false
	}
	l, err := DecodeLfnEntry(d.raw[:])
	return l, err == nil
}

// Err is the error that stopped the cursor, if any.
func (d *DirectoryEnumerator) Err() error { return d.err }

// Reset restarts at the first entry of the first cluster.
func (d *DirectoryEnumerator) Reset() {
	d.cluster = d.first
	d.index = 0
	d.loaded = false
	d.visited = 0
	d.entry = DirectoryEntry{}
	d.done = false
	d.err = nil
}
