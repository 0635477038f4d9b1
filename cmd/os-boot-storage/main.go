package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/open-edge-platform/os-boot-storage/internal/config"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// Global command flags
var (
	configFile string
	logLevel   string
	verbose    bool
)

// cfg is the configuration loaded by the root command before any subcommand
// runs.
var cfg = config.Default()

func main() {
	if err := createRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// createRootCommand builds the command tree.
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "os-boot-storage",
		Short: "AHCI and FAT32 boot storage tool",
		Long: `os-boot-storage brings up SATA disks behind an AHCI controller and
reads FAT32 boot volumes from them. It drives the host controller through
sysfs and /dev/mem, or a simulated controller backed by disk image files.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddCommand(createScanCommand())
	rootCmd.AddCommand(createLsCommand())
	rootCmd.AddCommand(createCatCommand())
	rootCmd.AddCommand(createInspectCommand())
	rootCmd.AddCommand(createSelftestCommand())

	return rootCmd
}

// initConfig loads the configuration file and lets flags override it.
func initConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd.Flags(), loaded)
	if err := loaded.Validate(); err != nil {
		return err
	}
	if err := logger.Init(loaded.Logging.Level, loaded.Logging.Format); err != nil {
		return err
	}
	cfg = loaded
	logger.Logger().Debugf("configuration: rebase=%#x stride=%#x busy=%d",
		cfg.AHCI.RebaseBase, cfg.AHCI.RebaseStride, cfg.AHCI.BusySpinBudget)
	return nil
}

func applyFlagOverrides(flags *pflag.FlagSet, c *config.Config) {
	if flags.Changed("log-level") {
		c.Logging.Level = strings.ToLower(logLevel)
	}
	if verbose {
		c.Logging.Level = "debug"
	}
}

// imageFileCompletion offers disk image files for shell completion.
func imageFileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return []string{"img", "raw", "gz", "zst", "xz"}, cobra.ShellCompDirectiveFilterFileExt
}

// fail wraps a command error for display.
func fail(what string, err error) error {
	return fmt.Errorf("%s: %w", what, err)
}
