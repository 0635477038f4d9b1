// Package config loads the os-boot-storage configuration file. Files are YAML,
// validated against an embedded JSON schema and layered over Default.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

//go:embed schema/config.schema.json
var schemaJSON []byte

const schemaURL = "config.schema.json"

// Defaults.
const (
	DefaultSysfsRoot      = "/sys"
	DefaultDevMem         = "/dev/mem"
	DefaultRebaseBase     = 0x40_0000
	DefaultRebaseStride   = 0x10_0000
	DefaultBusySpinBudget = 1_000_000
	DefaultBounceSectors  = 128
)

// Config is the full configuration.
type Config struct {
	PCI     PCIConfig     `yaml:"pci" json:"pci"`
	AHCI    AHCIConfig    `yaml:"ahci" json:"ahci"`
	Image   ImageConfig   `yaml:"image" json:"image"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PCIConfig locates the controller.
type PCIConfig struct {
	SysfsRoot string `yaml:"sysfs_root" json:"sysfs_root"`
	// Device pins a PCI address ([domain:]bus:dev.fn); empty scans by class.
	Device string `yaml:"device,omitempty" json:"device,omitempty"`
	DevMem string `yaml:"dev_mem" json:"dev_mem"`
	// AllowBound takes over a controller a kernel driver still owns.
	AllowBound bool `yaml:"allow_bound,omitempty" json:"allow_bound,omitempty"`
}

// AHCIConfig places command memory and bounds the register polls. A zero
// spin budget waits without bound.
type AHCIConfig struct {
	RebaseBase           uint64 `yaml:"rebase_base" json:"rebase_base"`
	RebaseStride         uint64 `yaml:"rebase_stride" json:"rebase_stride"`
	BusySpinBudget       uint64 `yaml:"busy_spin_budget" json:"busy_spin_budget"`
	CompletionSpinBudget uint64 `yaml:"completion_spin_budget" json:"completion_spin_budget"`
	EngineSpinBudget     uint64 `yaml:"engine_spin_budget" json:"engine_spin_budget"`
	BounceSectors        uint32 `yaml:"bounce_sectors" json:"bounce_sectors"`
}

// ImageConfig selects a disk image for the simulated controller.
type ImageConfig struct {
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
	Sectors uint64 `yaml:"sectors,omitempty" json:"sectors,omitempty"`
}

// LoggingConfig configures the shared logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PCI: PCIConfig{
			SysfsRoot: DefaultSysfsRoot,
			DevMem:    DefaultDevMem,
		},
		AHCI: AHCIConfig{
			RebaseBase:     DefaultRebaseBase,
			RebaseStride:   DefaultRebaseStride,
			BusySpinBudget: DefaultBusySpinBudget,
			BounceSectors:  DefaultBounceSectors,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logger.FormatConsole,
		},
	}
}

// Load reads path and layers it over Default. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	logger.Logger().Debugf("loaded configuration from %s", path)
	return cfg, nil
}

// Parse validates YAML data against the schema and layers it over Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateSchema(data []byte) error {
	js, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("failed to convert config to JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode config JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("failed to load config schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Validate checks values that flags can change after the file was read.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("unsupported log format %q", c.Logging.Format)
	}
	if c.AHCI.BounceSectors == 0 || c.AHCI.BounceSectors > 128 {
		return fmt.Errorf("bounce_sectors %d out of range 1..128", c.AHCI.BounceSectors)
	}
	if c.AHCI.RebaseStride == 0 {
		return fmt.Errorf("rebase_stride must be positive")
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
