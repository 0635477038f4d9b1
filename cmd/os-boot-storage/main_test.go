package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/open-edge-platform/os-boot-storage/internal/boot"
	"github.com/open-edge-platform/os-boot-storage/internal/config"
	"github.com/open-edge-platform/os-boot-storage/internal/diskimage"
	"github.com/open-edge-platform/os-boot-storage/internal/fat/fattest"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

var initrd = bytes.Repeat([]byte{0x1F, 0x8B, 0x08, 0x00}, 3000)

func TestMain(m *testing.M) {
	logger.SetLogger(zap.NewNop().Sugar())
	os.Exit(m.Run())
}

// helper: execute a cobra command and capture output.
func execCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// run executes the full command tree so the root's config handling applies.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		cfg = config.Default()
		newHostLoader = boot.NewHostLoader
		newInspector = func() inspector { return diskfsInspector{} }
	})
	return execCmd(t, createRootCommand(), args...)
}

// writeImage writes a partitioned disk with a small boot tree and returns
// its path.
func writeImage(t *testing.T) string {
	t.Helper()
	im, err := fattest.Build(fattest.DefaultLBA, fattest.VolumeOptions{
		Label: "EFI-SYSTEM",
		Files: []fattest.File{
			{Path: "EFI/BOOT/BOOTX64.EFI", Data: []byte("MZ")},
			{Path: "initrd.img", Data: initrd},
			{Path: "README.TXT", Data: []byte("boot partition\n")},
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p := filepath.Join(t.TempDir(), "disk.img")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()
	if _, err := im.WriteTo(f); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return p
}

func TestCreateRootCommand(t *testing.T) {
	cmd := createRootCommand()

	for _, name := range []string{"scan", "ls", "cat", "inspect", "selftest"} {
		if c, _, err := cmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	for _, name := range []string{"config", "log-level", "verbose"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("--%s flag should be registered", name)
		}
	}
}

func TestInitConfig(t *testing.T) {
	t.Run("VerboseOverridesFile", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(p, []byte("logging:\n  level: warn\nahci:\n  busy_spin_budget: 42\n"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := run(t, "--config", p, "--verbose", "inspect", "--format", "bogus", "x.img"); err == nil {
			t.Fatalf("expected --format to be rejected")
		}
		if cfg.Logging.Level != "debug" || cfg.AHCI.BusySpinBudget != 42 {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		if _, err := run(t, "--log-level", "loud", "scan"); err == nil {
			t.Fatalf("expected an unsupported log level to fail")
		}
	})

	t.Run("MissingConfig", func(t *testing.T) {
		_, err := run(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "scan")
		if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestScan(t *testing.T) {
	img := writeImage(t)

	t.Run("JSON", func(t *testing.T) {
		out, err := run(t, "scan", "--image", img, "--format", "json")
		if err != nil {
			t.Fatalf("scan: %v\n%s", err, out)
		}
		var rep struct {
			ID    string `json:"id"`
			Ports []struct {
				Kind    string `json:"kind"`
				Volumes []struct {
					Label string `json:"label"`
					Type  string `json:"type"`
					Root  []struct {
						Name string `json:"name"`
					} `json:"root"`
				} `json:"volumes"`
			} `json:"ports"`
		}
		if err := json.Unmarshal([]byte(out), &rep); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if rep.ID == "" || len(rep.Ports) != 1 || len(rep.Ports[0].Volumes) != 1 {
			t.Fatalf("report = %+v", rep)
		}
		v := rep.Ports[0].Volumes[0]
		if v.Label != "EFI-SYSTEM" || v.Type != "FAT32" || len(v.Root) != 3 {
			t.Errorf("volume = %+v", v)
		}
	})

	t.Run("YAML", func(t *testing.T) {
		out, err := run(t, "scan", "--image", img, "--format", "yaml")
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
			t.Fatalf("output is not YAML: %v", err)
		}
		if _, ok := doc["controller"]; !ok {
			t.Errorf("yaml output has no controller: %v", doc)
		}
	})

	t.Run("Text", func(t *testing.T) {
		out, err := run(t, "scan", "--image", img)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		for _, want := range []string{"Boot Storage Scan", "Port 0 (sata)", `"EFI-SYSTEM"`, "initrd.img", "EFI/"} {
			if !strings.Contains(out, want) {
				t.Errorf("output lacks %q:\n%s", want, out)
			}
		}
	})

	t.Run("ImageFromConfig", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(p, []byte("image:\n  path: "+img+"\n"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := run(t, "--config", p, "scan"); err != nil {
			t.Fatalf("scan: %v", err)
		}
	})

	t.Run("AllowBound", func(t *testing.T) {
		defer func() { newHostLoader = boot.NewHostLoader }()
		var allow bool
		newHostLoader = func(c *config.Config) (*boot.Loader, error) {
			allow = c.PCI.AllowBound
			return nil, boot.ErrControllerBound
		}
		_, err := run(t, "scan", "--allow-bound")
		if !errors.Is(err, boot.ErrControllerBound) {
			t.Fatalf("err = %v", err)
		}
		if !allow {
			t.Errorf("--allow-bound did not reach the host loader")
		}
	})

	t.Run("HostLoaderError", func(t *testing.T) {
		defer func() { newHostLoader = boot.NewHostLoader }()
		newHostLoader = func(*config.Config) (*boot.Loader, error) {
			return nil, errors.New("no /dev/mem")
		}
		_, err := run(t, "scan")
		if err == nil || !strings.Contains(err.Error(), "no /dev/mem") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestLs(t *testing.T) {
	img := writeImage(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr string
	}{
		{"Root", []string{img}, []string{"EFI/", "initrd.img", "README.TXT"}, ""},
		{"Subdirectory", []string{img, "/efi/boot"}, []string{"BOOTX64.EFI"}, ""},
		{"File", []string{img, "README.TXT"}, []string{"README.TXT", "15 B"}, ""},
		{"Missing", []string{img, "/boot/grub"}, nil, "not found"},
		{"NoSuchVolume", []string{"--volume", "3", img}, nil, "volume 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"ls"}, tt.args...)...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ls: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output lacks %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestCat(t *testing.T) {
	img := writeImage(t)

	t.Run("Stdout", func(t *testing.T) {
		out, err := run(t, "cat", img, "/readme.txt")
		if err != nil {
			t.Fatalf("cat: %v", err)
		}
		if out != "boot partition\n" {
			t.Errorf("cat = %q", out)
		}
	})

	t.Run("OutputFile", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "initrd")
		if _, err := run(t, "cat", img, "initrd.img", "-o", dst); err != nil {
			t.Fatalf("cat: %v", err)
		}
		got, err := os.ReadFile(dst)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if !bytes.Equal(got, initrd) {
			t.Errorf("copied %d bytes, want %d", len(got), len(initrd))
		}
	})

	t.Run("Directory", func(t *testing.T) {
		if _, err := run(t, "cat", img, "EFI"); err == nil {
			t.Fatalf("cat of a directory succeeded")
		}
	})
}

type fakeInspector struct {
	rep *diskimage.Report
	err error
}

func (f *fakeInspector) Inspect(string) (*diskimage.Report, error) {
	return f.rep, f.err
}

func TestInspect(t *testing.T) {
	t.Run("RealImage", func(t *testing.T) {
		out, err := run(t, "inspect", writeImage(t))
		if err != nil {
			t.Fatalf("inspect: %v\n%s", err, out)
		}
		for _, want := range []string{"W95 FAT32 (LBA)", "go-diskfs agrees on all 1 partition(s)"} {
			if !strings.Contains(out, want) {
				t.Errorf("output lacks %q:\n%s", want, out)
			}
		}
	})

	t.Run("Mismatch", func(t *testing.T) {
		newInspector = func() inspector {
			return &fakeInspector{rep: &diskimage.Report{
				File:       "fake.img",
				Format:     diskimage.FormatRaw,
				Driver:     []diskimage.PartitionSummary{{Slot: 0, Type: "0x0c"}},
				Diskfs:     []diskimage.PartitionSummary{{Slot: 0, Type: "0x0b"}},
				Mismatches: []diskimage.Mismatch{{Slot: 0, Field: "type", Driver: "0x0c", Diskfs: "0x0b"}},
			}}
		}
		out, err := run(t, "inspect", "fake.img")
		if err == nil || !strings.Contains(err.Error(), "disagree") {
			t.Fatalf("err = %v", err)
		}
		if !strings.Contains(out, "Mismatches against go-diskfs") {
			t.Errorf("output lacks the mismatch table:\n%s", out)
		}
	})

	t.Run("Error", func(t *testing.T) {
		newInspector = func() inspector { return &fakeInspector{err: errors.New("boom")} }
		if _, err := run(t, "inspect", "fake.img"); err == nil || !strings.Contains(err.Error(), "boom") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestSelftest(t *testing.T) {
	img := writeImage(t)
	before, err := os.ReadFile(img)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	out, err := run(t, "selftest", "--lba", "7", img)
	if err != nil {
		t.Fatalf("selftest: %v", err)
	}
	if !strings.Contains(out, "lba 7: write/read round trip ok") {
		t.Errorf("output = %q", out)
	}

	after, err := os.ReadFile(img)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("selftest modified the image file")
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{32 << 20, "32.0 MiB"},
	}
	for _, tt := range tests {
		if got := humanBytes(tt.n); got != tt.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
