package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/os-boot-storage/internal/diskimage"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// cmd needs only this method.
type inspector interface {
	Inspect(imagePath string) (*diskimage.Report, error)
}

type diskfsInspector struct{}

func (diskfsInspector) Inspect(imagePath string) (*diskimage.Report, error) {
	return diskimage.Inspect(imagePath)
}

// Allow tests to inject a fake inspector.
var newInspector = func() inspector {
	return diskfsInspector{}
}

// Inspect command flags
var (
	inspectFormat string = "text"
	inspectPretty bool   = false
)

// createInspectCommand creates the inspect subcommand
func createInspectCommand() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [flags] IMAGE",
		Short: "Cross-check the partition table of a disk image",
		Long: `Inspect reads the partition table of IMAGE with the boot loader's own
MBR parser and with go-diskfs, prints the partitions and reports every
field on which the two readers disagree. Compressed images (gzip, zstd,
xz) are expanded first.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(inspectFormat)
		},
		RunE:              executeInspect,
		ValidArgsFunction: imageFileCompletion,
	}

	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text",
		"Output format (text, json, yaml)")
	inspectCmd.Flags().BoolVar(&inspectPretty, "pretty", false,
		"Pretty-print JSON output (only for --format json)")

	return inspectCmd
}

// executeInspect handles the inspect command execution logic
func executeInspect(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile := args[0]
	log.Infof("Inspecting image file: %s", imageFile)

	rep, err := newInspector().Inspect(imageFile)
	if err != nil {
		return fmt.Errorf("image inspection failed: %w", err)
	}

	if err := writeResult(cmd, rep, inspectFormat, inspectPretty, func(w io.Writer) {
		printInspection(w, rep)
	}); err != nil {
		return err
	}
	if !rep.Consistent() {
		return fmt.Errorf("partition tables disagree in %d field(s)", len(rep.Mismatches))
	}
	return nil
}
