package boot_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/open-edge-platform/os-boot-storage/internal/ahci"
	"github.com/open-edge-platform/os-boot-storage/internal/ahci/ahcisim"
	"github.com/open-edge-platform/os-boot-storage/internal/boot"
	"github.com/open-edge-platform/os-boot-storage/internal/config"
	"github.com/open-edge-platform/os-boot-storage/internal/fat"
	"github.com/open-edge-platform/os-boot-storage/internal/fat/fattest"
	"github.com/open-edge-platform/os-boot-storage/internal/hw/pci"
)

var kernel = bytes.Repeat([]byte("vmlinuz!"), 1500)

func bootImage(t *testing.T, lba uint32) *fattest.Image {
	t.Helper()
	im, err := fattest.Build(lba, fattest.VolumeOptions{
		Label: "BOOT",
		Files: []fattest.File{
			{Path: "EFI/BOOT/BOOTX64.EFI", Data: []byte("MZ stub")},
			{Path: "vmlinuz-6.8.0-generic", Data: kernel},
			{Path: "loader.conf", Data: []byte("timeout 3\n")},
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return im
}

func run(t *testing.T, cfg *config.Config, images ...boot.Image) (*boot.Session, *ahcisim.Machine) {
	t.Helper()
	l, m, err := boot.NewSimLoader(cfg, images...)
	if err != nil {
		t.Fatalf("NewSimLoader: %v", err)
	}
	s, err := l.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return s, m
}

func rootNames(v boot.VolumeReport) []string {
	var names []string
	for _, e := range v.Root {
		names = append(names, e.Name)
	}
	return names
}

func TestRunSingleDisk(t *testing.T) {
	s, _ := run(t, nil, bootImage(t, fattest.DefaultLBA))

	rep := s.Report
	if rep.ID == "" {
		t.Errorf("report has no id")
	}
	if rep.Controller.PCI != ahcisim.ControllerID || rep.Controller.ABAR != ahcisim.DefaultABAR {
		t.Errorf("controller = %+v", rep.Controller)
	}
	if len(rep.Ports) != 1 || len(s.Disks) != 1 {
		t.Fatalf("ports=%+v disks=%d", rep.Ports, len(s.Disks))
	}
	p := rep.Ports[0]
	if p.Number != 0 || p.Kind != "sata" || !p.Partitioned || len(p.Volumes) != 1 {
		t.Fatalf("port = %+v", p)
	}
	v := p.Volumes[0]
	if v.Type != fat.TypeFAT32 || v.Label != "BOOT" || v.StartLBA != fattest.DefaultLBA {
		t.Errorf("volume = %+v", v)
	}
	want := []string{"EFI", "loader.conf", "vmlinuz-6.8.0-generic"}
	if got := rootNames(v); len(got) != len(want) {
		t.Fatalf("root = %v, want %v", got, want)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("root[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	}
	if rep.VolumeCount() != 1 {
		t.Errorf("VolumeCount = %d", rep.VolumeCount())
	}

	vol, err := s.Disks[0].Drive.FirstVolume()
	if err != nil {
		t.Fatalf("FirstVolume: %v", err)
	}
	var out bytes.Buffer
	if _, err := vol.ReadPath("/vmlinuz-6.8.0-generic", &out); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	if !bytes.Equal(out.Bytes(), kernel) {
		t.Errorf("kernel read back %d bytes, want %d", out.Len(), len(kernel))
	}
}

func TestRunPlacesRegionsPerDisk(t *testing.T) {
	cfg := config.Default()
	s, m := run(t, cfg, bootImage(t, 0), bootImage(t, fattest.DefaultLBA))

	if len(s.Disks) != 2 {
		t.Fatalf("disks = %d", len(s.Disks))
	}
	for i, p := range s.Report.Ports {
		want := cfg.AHCI.RebaseBase + uint64(i)*cfg.AHCI.RebaseStride
		if p.RegionBase != want {
			t.Errorf("port %d region %#x, want %#x", p.Number, p.RegionBase, want)
		}
		if clb := m.HBA.PortRegister(p.Number, ahci.PortRegCLB); uint64(clb) != want {
			t.Errorf("port %d CLB %#x, want %#x", p.Number, clb, want)
		}
	}
	if s.Report.Ports[0].Partitioned || !s.Report.Ports[1].Partitioned {
		t.Errorf("partitioned flags = %v, %v", s.Report.Ports[0].Partitioned, s.Report.Ports[1].Partitioned)
	}
}

func TestRunSkipsNonSATADevices(t *testing.T) {
	l, m, err := boot.NewSimLoader(nil, bootImage(t, 0), bootImage(t, 0))
	if err != nil {
		t.Fatalf("NewSimLoader: %v", err)
	}
	m.HBA.SetPortRegister(0, ahci.PortRegSIG, ahci.SigATAPI)

	s, err := l.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(s.Report.Ports) != 2 || !s.Report.Ports[0].Skipped || s.Report.Ports[0].Kind != "satapi" {
		t.Fatalf("ports = %+v", s.Report.Ports)
	}
	if len(s.Disks) != 1 || s.Disks[0].Port.Number() != 1 {
		t.Fatalf("disks = %+v", s.Disks)
	}
	if got, want := s.Report.Ports[1].RegionBase, l.RegionBase(0); got != want {
		t.Errorf("first sata disk region %#x, want %#x", got, want)
	}
}

func TestRunStopsAtBadVolume(t *testing.T) {
	o := fattest.VolumeOptions{Label: "BOOT"}
	size := fattest.VolumeSectors(o)
	im := fattest.NewImage(uint64(fattest.DefaultLBA) + uint64(size) + 4096)
	if err := im.WritePartitionTable(
		fat.PartitionEntry{Type: 0x0C, LBAStart: fattest.DefaultLBA, Sectors: size},
		fat.PartitionEntry{Type: 0x83, LBAStart: fattest.DefaultLBA + size, Sectors: 4096},
	); err != nil {
		t.Fatalf("WritePartitionTable: %v", err)
	}
	if _, err := im.Format(fattest.DefaultLBA, o); err != nil {
		t.Fatalf("Format: %v", err)
	}

	l, _, err := boot.NewSimLoader(nil, im)
	if err != nil {
		t.Fatalf("NewSimLoader: %v", err)
	}
	if _, err := l.Run(); !errors.Is(err, fat.ErrMalformedVolume) {
		t.Fatalf("Run err = %v, want ErrMalformedVolume", err)
	}
}

func TestRunHungPort(t *testing.T) {
	cfg := config.Default()
	cfg.AHCI.BusySpinBudget = 100
	l, m, err := boot.NewSimLoader(cfg, bootImage(t, 0))
	if err != nil {
		t.Fatalf("NewSimLoader: %v", err)
	}
	m.HBA.SetFault(0, ahcisim.Fault{BusyStuck: true})

	if _, err := l.Run(); !errors.Is(err, ahci.ErrPortHung) {
		t.Fatalf("Run err = %v, want ErrPortHung", err)
	}
	if n := m.HBA.CIWrites(0); n != 0 {
		t.Errorf("CI written %d times on a hung port", n)
	}
}

func TestRunWithoutDisks(t *testing.T) {
	l, _, err := boot.NewSimLoader(nil)
	if err != nil {
		t.Fatalf("NewSimLoader: %v", err)
	}
	if _, err := l.Run(); !errors.Is(err, boot.ErrNoDisks) {
		t.Fatalf("Run err = %v, want ErrNoDisks", err)
	}
}

func TestRunWithoutController(t *testing.T) {
	m := ahcisim.NewMachine(ahcisim.MachineConfig{})
	l, err := boot.NewLoader(nil, m, []pci.Device{m.Host})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if _, err := l.Run(); !errors.Is(err, pci.ErrNotFound) {
		t.Fatalf("Run err = %v, want pci.ErrNotFound", err)
	}
}

func TestNewLoaderRejectsSmallStride(t *testing.T) {
	cfg := config.Default()
	cfg.AHCI.RebaseStride = ahci.PortRegionSize
	if _, err := boot.NewLoader(cfg, ahcisim.NewMachine(ahcisim.MachineConfig{}), nil); err == nil {
		t.Fatalf("NewLoader accepted a stride with no room for the bounce buffer")
	}
}

func TestTiming(t *testing.T) {
	got := boot.Timing(config.AHCIConfig{BusySpinBudget: 7, CompletionSpinBudget: 8})
	if got.BusySpin != 7 || got.CompletionSpin != 8 || got.EngineSpin != 0 {
		t.Errorf("Timing = %+v", got)
	}
}
