package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/os-boot-storage/internal/boot"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// Allow tests to replace host hardware access.
var newHostLoader = boot.NewHostLoader

// Scan command flags
var (
	scanFormat string = "text"
	scanPretty bool   = false
	scanImages []string

	scanAllowBound bool = false
)

// createScanCommand creates the scan subcommand
func createScanCommand() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [flags]",
		Short: "Run the boot storage scan",
		Long: `Scan finds the AHCI controller, rebases every port with a SATA disk,
opens the FAT32 volumes on each disk and lists their root directories.
With --image the scan runs against a simulated controller with one disk
per image instead of the host hardware.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(scanFormat)
		},
		RunE: executeScan,
	}

	scanCmd.Flags().StringVar(&scanFormat, "format", "text",
		"Output format (text, json, yaml)")
	scanCmd.Flags().BoolVar(&scanPretty, "pretty", false,
		"Pretty-print JSON output (only for --format json)")
	scanCmd.Flags().StringArrayVarP(&scanImages, "image", "i", nil,
		"Disk image to attach to the simulated controller (repeatable)")
	scanCmd.Flags().BoolVar(&scanAllowBound, "allow-bound", false,
		"Take over the host controller even if a kernel driver owns it")

	return scanCmd
}

// executeScan handles the scan command execution logic
func executeScan(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	images := scanImages
	if len(images) == 0 && cfg.Image.Path != "" {
		images = []string{cfg.Image.Path}
	}

	var sess *boot.Session
	if len(images) > 0 {
		log.Infof("Scanning simulated controller with %d image(s)", len(images))
		s, done, err := startSession(images, false)
		if err != nil {
			return fail("boot storage scan failed", err)
		}
		defer done()
		sess = s
	} else {
		log.Infof("Scanning host controller")
		if cmd.Flags().Changed("allow-bound") {
			cfg.PCI.AllowBound = scanAllowBound
		}
		l, err := newHostLoader(cfg)
		if err != nil {
			return fail("boot storage scan failed", err)
		}
		defer func() {
			if err := l.Close(); err != nil {
				log.Warnf("Failed to release host resources: %v", err)
			}
		}()
		if sess, err = l.Run(); err != nil {
			return fail("boot storage scan failed", err)
		}
	}

	return writeResult(cmd, sess.Report, scanFormat, scanPretty, func(w io.Writer) {
		printReport(w, sess.Report)
	})
}

func describeScan(rep *boot.Report) string {
	return fmt.Sprintf("%d port(s), %d volume(s)", len(rep.Ports), rep.VolumeCount())
}
