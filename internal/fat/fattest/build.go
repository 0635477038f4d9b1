package fattest

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/open-edge-platform/os-boot-storage/internal/fat"
)

// Defaults for VolumeOptions.
const (
	// MinFAT32Clusters is the smallest cluster count classified as FAT32.
	MinFAT32Clusters = 65525
	DefaultLBA       = 2048
	reservedSectors  = 32
	tableCount       = 2
	rootCluster      = 2
	partitionTypeLBA = 0x0C
	endOfChain       = 0x0FFFFFFF
	mediaFixed       = 0xF8
)

// File is a file or directory to place on a volume.
type File struct {
	Path string
	Data []byte
	Dir  bool
}

// VolumeOptions shapes one FAT32 volume.
type VolumeOptions struct {
	Label             string
	OEMName           string
	Clusters          uint32 // default MinFAT32Clusters
	SectorsPerCluster uint8  // default 1
	Files             []File
}

// Layout is where Format put a volume. Sectors are absolute unless noted.
type Layout struct {
	StartLBA          uint64
	SectorsPerCluster uint32
	FatSize           uint32
	FirstFatLBA       uint64
	FirstDataLBA      uint64
	TotalSectors      uint32 // volume-relative
	Clusters          uint32
	RootCluster       uint32
	// Entries maps each file and directory path to its first cluster.
	Entries map[string]uint32
}

// ClusterLBA is the first sector of cluster c.
func (l Layout) ClusterLBA(c uint32) uint64 {
	return l.FirstDataLBA + uint64(c-2)*uint64(l.SectorsPerCluster)
}

// FatEntryLBA is the first-copy FAT sector holding the entry for c.
func (l Layout) FatEntryLBA(c uint32) uint64 {
	return l.FirstFatLBA + uint64(c)*4/sectorSize
}

func (o *VolumeOptions) defaults() {
	if o.Clusters == 0 {
		o.Clusters = MinFAT32Clusters
	}
	if o.SectorsPerCluster == 0 {
		o.SectorsPerCluster = 1
	}
	if o.OEMName == "" {
		o.OEMName = "MSWIN4.1"
	}
	if o.Label == "" {
		o.Label = "NO NAME"
	}
}

// VolumeSectors is the size of a volume built with o.
func VolumeSectors(o VolumeOptions) uint32 {
	o.defaults()
	return reservedSectors + tableCount*fatSize(o.Clusters) + o.Clusters*uint32(o.SectorsPerCluster)
}

func fatSize(clusters uint32) uint32 {
	return ((clusters+2)*4 + sectorSize - 1) / sectorSize
}

// Build returns a disk holding one volume. With lba zero the volume starts at
// sector 0 with no partition table; otherwise an MBR describes a single FAT32
// partition at lba.
func Build(lba uint32, o VolumeOptions) (*Image, error) {
	im := NewImage(uint64(lba) + uint64(VolumeSectors(o)))
	if lba != 0 {
		if err := im.WritePartitionTable(fat.PartitionEntry{
			Type: partitionTypeLBA, LBAStart: lba, Sectors: VolumeSectors(o),
		}); err != nil {
			return nil, err
		}
	}
	if _, err := im.Format(lba, o); err != nil {
		return nil, err
	}
	return im, nil
}

// MustBuild is Build that panics, for table setup.
func MustBuild(lba uint32, o VolumeOptions) *Image {
	im, err := Build(lba, o)
	if err != nil {
		panic(err)
	}
	return im
}

// WritePartitionTable writes an MBR with the given entries in slots 0..3.
func (im *Image) WritePartitionTable(entries ...fat.PartitionEntry) error {
	if len(entries) > fat.MaxVolumes {
		return fmt.Errorf("%d partitions, at most %d", len(entries), fat.MaxVolumes)
	}
	mbr := fat.MasterBootRecord{DiskSignature: 0x4F53_4253, Signature: fat.BootSignature}
	copy(mbr.Partitions[:], entries)
	var b [sectorSize]byte
	if err := mbr.Encode(b[:]); err != nil {
		return err
	}
	_, err := im.WriteAt(b[:], 0)
	return err
}

type node struct {
	name     string
	dir      bool
	data     []byte
	children []*node
	cluster  uint32
	count    uint32 // clusters
	short    [11]byte
	long     bool
}

// Format writes a FAT32 volume at lba.
func (im *Image) Format(lba uint32, o VolumeOptions) (Layout, error) {
	o.defaults()
	spc := uint32(o.SectorsPerCluster)
	l := Layout{
		StartLBA:          uint64(lba),
		SectorsPerCluster: spc,
		FatSize:           fatSize(o.Clusters),
		TotalSectors:      VolumeSectors(o),
		Clusters:          o.Clusters,
		RootCluster:       rootCluster,
		Entries:           map[string]uint32{},
	}
	l.FirstFatLBA = l.StartLBA + reservedSectors
	l.FirstDataLBA = l.FirstFatLBA + uint64(tableCount*l.FatSize)
	if l.StartLBA+uint64(l.TotalSectors) > im.size {
		return Layout{}, fmt.Errorf("volume of %d sectors at lba %d does not fit %d-sector disk",
			l.TotalSectors, lba, im.size)
	}

	root, err := buildTree(o.Files)
	if err != nil {
		return Layout{}, err
	}
	bpc := spc * sectorSize

	// Allocate clusters depth-first, root first.
	next := uint32(rootCluster)
	var alloc func(n *node, p string)
	alloc = func(n *node, p string) {
		var size uint32
		if n.dir {
			size = uint32(dirEntryCount(n, n == root)) * fat.DirEntrySize
		} else {
			size = uint32(len(n.data))
		}
		n.count = (size + bpc - 1) / bpc
		if n.count > 0 {
			n.cluster = next
			next += n.count
		}
		if p != "" {
			l.Entries[p] = n.cluster
		}
		for _, c := range n.children {
			alloc(c, path.Join(p, c.name))
		}
	}
	alloc(root, "")
	if used := next - rootCluster; used > o.Clusters {
		return Layout{}, fmt.Errorf("content needs %d clusters, volume has %d", used, o.Clusters)
	}

	if err := im.writeBootSector(l, o, lba == 0); err != nil {
		return Layout{}, err
	}
	if err := im.writeChains(l, root); err != nil {
		return Layout{}, err
	}
	if err := im.writeContents(l, root, nil, o.Label); err != nil {
		return Layout{}, err
	}
	im.Volumes = append(im.Volumes, l)
	return l, nil
}

func (im *Image) writeBootSector(l Layout, o VolumeOptions, bare bool) error {
	bs := fat.BootSector{
		JumpBoot:          [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:    sectorSize,
		SectorsPerCluster: o.SectorsPerCluster,
		ReservedSectors:   reservedSectors,
		TableCount:        tableCount,
		Media:             mediaFixed,
		SectorsPerTrack:   63,
		HeadCount:         255,
		HiddenSectors:     uint32(l.StartLBA),
		TotalSectors32:    l.TotalSectors,
	}
	if bare {
		bs.JumpBoot = [3]byte{0xEB, 0x3C, 0x90}
	}
	copy(bs.OEMName[:], padded(o.OEMName, 8))
	ext := fat.Fat32Extended{
		TableSize32:      l.FatSize,
		RootCluster:      rootCluster,
		FSInfoSector:     1,
		BackupBootSector: 6,
		DriveNumber:      0x80,
		BootSignature:    0x29,
		VolumeID:         0x1234_ABCD,
	}
	copy(ext.VolumeLabel[:], padded(o.Label, 11))
	copy(ext.FileSystemType[:], padded("FAT32", 8))
	bs.SetFat32(ext)

	var b [sectorSize]byte
	if err := bs.Encode(b[:]); err != nil {
		return err
	}
	b[510], b[511] = 0x55, 0xAA
	_, err := im.WriteAt(b[:], int64(l.StartLBA)*sectorSize)
	return err
}

// SetFAT writes entry for cluster c in every FAT copy.
func (im *Image) SetFAT(l Layout, c, entry uint32) error {
	var b [4]byte
	b[0], b[1], b[2], b[3] = byte(entry), byte(entry>>8), byte(entry>>16), byte(entry>>24)
	for t := uint64(0); t < tableCount; t++ {
		off := int64(l.FirstFatLBA+t*uint64(l.FatSize))*sectorSize + int64(c)*4
		if _, err := im.WriteAt(b[:], off); err != nil {
			return err
		}
	}
	return nil
}

func (im *Image) writeChains(l Layout, root *node) error {
	if err := im.SetFAT(l, 0, 0x0FFFFF00|mediaFixed); err != nil {
		return err
	}
	if err := im.SetFAT(l, 1, endOfChain); err != nil {
		return err
	}
	var walk func(n *node) error
	walk = func(n *node) error {
		for i := uint32(0); i < n.count; i++ {
			link := uint32(endOfChain)
			if i+1 < n.count {
				link = n.cluster + i + 1
			}
			if err := im.SetFAT(l, n.cluster+i, link); err != nil {
				return err
			}
		}
		for _, c := range n.children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root)
}

func (im *Image) writeContents(l Layout, n, parent *node, label string) error {
	off := int64(l.ClusterLBA(max(n.cluster, 2))) * sectorSize
	if !n.dir {
		if len(n.data) == 0 {
			return nil
		}
		_, err := im.WriteAt(n.data, off)
		return err
	}

	var buf []byte
	if parent == nil {
		e := fat.DirectoryEntry{Attr: fat.AttrVolumeID}
		copy(e.Name[:], padded(label, 11))
		buf = appendEntry(buf, &e)
	} else {
		dot := dirEntry(n, ".")
		dotdot := dirEntry(parent, "..")
		if parent.cluster == rootCluster {
			dotdot.FirstClusterHigh, dotdot.FirstClusterLow = 0, 0
		}
		buf = appendEntry(buf, &dot)
		buf = appendEntry(buf, &dotdot)
	}
	for _, c := range n.children {
		e := dirEntry(c, "")
		if c.long {
			buf = appendLongName(buf, c.name, e.Checksum())
		}
		buf = appendEntry(buf, &e)
	}
	if _, err := im.WriteAt(buf, off); err != nil {
		return err
	}
	for _, c := range n.children {
		if err := im.writeContents(l, c, n, label); err != nil {
			return err
		}
	}
	return nil
}

// Fixed timestamp: 2024-06-01 12:00:00.
const (
	stampDate = (2024-1980)<<9 | 6<<5 | 1
	stampTime = 12 << 11
)

func dirEntry(n *node, dot string) fat.DirectoryEntry {
	e := fat.DirectoryEntry{
		Name:             n.short,
		FirstClusterHigh: uint16(n.cluster >> 16),
		FirstClusterLow:  uint16(n.cluster),
		WriteDate:        stampDate,
		WriteTime:        stampTime,
		CreateDate:       stampDate,
		CreateTime:       stampTime,
	}
	if n.dir {
		e.Attr = fat.AttrDirectory
	} else {
		e.Attr = fat.AttrArchive
		e.FileSize = uint32(len(n.data))
	}
	if dot != "" {
		copy(e.Name[:], padded(dot, 11))
	}
	return e
}

func appendEntry(buf []byte, e *fat.DirectoryEntry) []byte {
	var b [fat.DirEntrySize]byte
	_ = e.Encode(b[:])
	return append(buf, b[:]...)
}

func appendLongName(buf []byte, name string, checksum uint8) []byte {
	units := utf16.Encode([]rune(name))
	parts := (len(units) + 12) / 13
	for seq := parts; seq >= 1; seq-- {
		var chars [13]uint16
		for i := range chars {
			j := (seq-1)*13 + i
			switch {
			case j < len(units):
				chars[i] = units[j]
			case j == len(units):
				chars[i] = 0
			default:
				chars[i] = 0xFFFF
			}
		}
		l := fat.LfnEntry{
			Sequence: uint8(seq),
			Attr:     fat.AttrLongName,
			Checksum: checksum,
		}
		if seq == parts {
			l.Sequence |= 0x40
		}
		copy(l.Name1[:], chars[0:5])
		copy(l.Name2[:], chars[5:11])
		copy(l.Name3[:], chars[11:13])
		var b [fat.DirEntrySize]byte
		_ = l.Encode(b[:])
		buf = append(buf, b[:]...)
	}
	return buf
}

func dirEntryCount(n *node, root bool) int {
	count := 2 // dot entries, or label plus terminator for the root
	for _, c := range n.children {
		count++
		if c.long {
			count += (len(utf16.Encode([]rune(c.name))) + 12) / 13
		}
	}
	if !root {
		count++ // terminator
	}
	return count
}

func buildTree(files []File) (*node, error) {
	root := &node{dir: true}
	index := map[string]*node{"": root}

	var ensure func(p string, dir bool) (*node, error)
	ensure = func(p string, dir bool) (*node, error) {
		if n, ok := index[p]; ok {
			if n.dir != dir {
				return nil, fmt.Errorf("%s is both a file and a directory", p)
			}
			return n, nil
		}
		parent, err := ensure(path.Dir("/" + p)[1:], true)
		if err != nil {
			return nil, err
		}
		n := &node{name: path.Base(p), dir: dir}
		parent.children = append(parent.children, n)
		index[p] = n
		return n, nil
	}

	for _, f := range files {
		p := strings.Trim(path.Clean("/"+f.Path), "/")
		if p == "" {
			return nil, fmt.Errorf("empty path")
		}
		n, err := ensure(p, f.Dir)
		if err != nil {
			return nil, err
		}
		n.data = f.Data
	}

	for _, n := range index {
		if !n.dir {
			continue
		}
		sort.SliceStable(n.children, func(i, j int) bool { return n.children[i].name < n.children[j].name })
		used := map[[11]byte]bool{}
		for _, c := range n.children {
			c.short, c.long = shortName(c.name, used)
			used[c.short] = true
		}
	}
	return root, nil
}

func padded(s string, n int) []byte {
	b := []byte(strings.Repeat(" ", n))
	copy(b, s)
	return b
}

func isShortChar(r rune) bool {
	return r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("_-~!#$%&'()@^`{}", r)
}

func filterShort(s string, n int) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(s) {
		if sb.Len() == n {
			break
		}
		if isShortChar(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// shortName picks an 8.3 alias, reporting whether a long name is needed.
func shortName(name string, used map[[11]byte]bool) ([11]byte, bool) {
	var sfn [11]byte
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i+1:]
	}

	upper := strings.ToUpper(name)
	ub, ue := strings.ToUpper(base), strings.ToUpper(ext)
	if len(ub) <= 8 && len(ue) <= 3 && filterShort(ub, 8) == ub && filterShort(ue, 3) == ue && ub != "" {
		copy(sfn[:], padded(ub, 8))
		copy(sfn[8:], padded(ue, 3))
		if !used[sfn] {
			return sfn, upper != name
		}
	}

	stem := filterShort(base, 6)
	if stem == "" {
		stem = "FILE"
	}
	for i := 1; i < 1000; i++ {
		tail := fmt.Sprintf("~%d", i)
		b := stem
		if len(b)+len(tail) > 8 {
			b = b[:8-len(tail)]
		}
		copy(sfn[:], padded(b+tail, 8))
		copy(sfn[8:], padded(filterShort(ext, 3), 3))
		if !used[sfn] {
			break
		}
	}
	return sfn, true
}
