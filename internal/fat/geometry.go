package fat

import "fmt"

// Geometry is the layout derived from a boot sector. Sector numbers are
// relative to the start of the volume.
type Geometry struct {
	BytesPerSector    uint32 `json:"bytesPerSector" yaml:"bytesPerSector"`
	SectorsPerCluster uint32 `json:"sectorsPerCluster" yaml:"sectorsPerCluster"`
	ReservedSectors   uint32 `json:"reservedSectors" yaml:"reservedSectors"`
	TableCount        uint32 `json:"tableCount" yaml:"tableCount"`
	FatSize           uint32 `json:"fatSize" yaml:"fatSize"`
	RootDirSectors    uint32 `json:"rootDirSectors" yaml:"rootDirSectors"`
	TotalSectors      uint32 `json:"totalSectors" yaml:"totalSectors"`
	FirstFatSector    uint32 `json:"firstFatSector" yaml:"firstFatSector"`
	FirstDataSector   uint32 `json:"firstDataSector" yaml:"firstDataSector"`
	DataSectors       uint32 `json:"dataSectors" yaml:"dataSectors"`
	ClusterCount      uint32 `json:"clusterCount" yaml:"clusterCount"`
	BytesPerCluster   uint32 `json:"bytesPerCluster" yaml:"bytesPerCluster"`
}

// ComputeGeometry derives the volume layout. A zero sector size is how exFAT
// appears through the FAT boot sector layout and is rejected along with any
// other geometry that cannot describe a volume.
func ComputeGeometry(bs *BootSector) (Geometry, error) {
	if bs.BytesPerSector == 0 {
		return Geometry{}, fmt.Errorf("%w: zero bytes per sector (exFAT?)", ErrMalformedVolume)
	}
	if bs.SectorsPerCluster == 0 {
		return Geometry{}, fmt.Errorf("%w: zero sectors per cluster", ErrMalformedVolume)
	}

	g := Geometry{
		BytesPerSector:    uint32(bs.BytesPerSector),
		SectorsPerCluster: uint32(bs.SectorsPerCluster),
		ReservedSectors:   uint32(bs.ReservedSectors),
		TableCount:        uint32(bs.TableCount),
		FatSize:           uint32(bs.TableSize16),
		TotalSectors:      uint32(bs.TotalSectors16),
	}
	if g.FatSize == 0 {
		g.FatSize = bs.Fat32().TableSize32
	}
	if g.TotalSectors == 0 {
		g.TotalSectors = bs.TotalSectors32
	}
	g.RootDirSectors = (uint32(bs.RootEntryCount)*DirEntrySize + g.BytesPerSector - 1) / g.BytesPerSector
	g.FirstFatSector = g.ReservedSectors

	meta := uint64(g.ReservedSectors) + uint64(g.TableCount)*uint64(g.FatSize) + uint64(g.RootDirSectors)
	if meta > uint64(g.TotalSectors) {
		return Geometry{}, fmt.Errorf("%w: %d metadata sectors exceed %d total",
			ErrMalformedVolume, meta, g.TotalSectors)
	}
	g.FirstDataSector = uint32(meta)
	g.DataSectors = g.TotalSectors - g.FirstDataSector
	g.ClusterCount = g.DataSectors / g.SectorsPerCluster
	g.BytesPerCluster = g.SectorsPerCluster * g.BytesPerSector
	return g, nil
}

// Classify decides the FAT variant of a boot sector from its cluster count.
func Classify(bs *BootSector) Type {
	if bs.BytesPerSector == 0 {
		return TypeExFAT
	}
	g, err := ComputeGeometry(bs)
	if err != nil {
		return TypeUnknown
	}
	return ClassifyClusters(g.ClusterCount)
}
