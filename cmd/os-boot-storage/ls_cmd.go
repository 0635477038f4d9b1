package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/os-boot-storage/internal/boot"
	"github.com/open-edge-platform/os-boot-storage/internal/fat"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// Ls command flags
var (
	lsFormat string = "text"
	lsPretty bool   = false
	lsVolume int    = -1
)

// createLsCommand creates the ls subcommand
func createLsCommand() *cobra.Command {
	lsCmd := &cobra.Command{
		Use:   "ls [flags] IMAGE [PATH]",
		Short: "List a directory on a FAT32 volume of a disk image",
		Long: `Ls attaches IMAGE to the simulated controller, opens its volumes and
lists PATH (default /) on the first volume, or on the MBR slot given
with --volume. Every sector is read through the AHCI command engine.`,
		Args: cobra.RangeArgs(1, 2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(lsFormat)
		},
		RunE:              executeLs,
		ValidArgsFunction: imageFileCompletion,
	}

	lsCmd.Flags().StringVar(&lsFormat, "format", "text",
		"Output format (text, json, yaml)")
	lsCmd.Flags().BoolVar(&lsPretty, "pretty", false,
		"Pretty-print JSON output (only for --format json)")
	lsCmd.Flags().IntVar(&lsVolume, "volume", -1,
		"MBR slot (0-3) of the volume to read; -1 selects the first volume")

	return lsCmd
}

// executeLs handles the ls command execution logic
func executeLs(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	dir := "/"
	if len(args) == 2 {
		dir = args[1]
	}

	sess, done, err := startSession(args[:1], false)
	if err != nil {
		return fail("open image", err)
	}
	defer done()

	vol, err := pickVolume(sess, lsVolume)
	if err != nil {
		return err
	}
	log.Debugf("listing %s on %s volume %q", dir, vol.Type(), vol.Label())

	e, err := vol.Lookup(dir)
	if err != nil {
		return fail("ls", err)
	}
	entries := []fat.Entry{e}
	if e.IsDir() {
		if entries, err = vol.ReadDir(dir); err != nil {
			return fail("ls", err)
		}
	}

	return writeResult(cmd, entries, lsFormat, lsPretty, func(w io.Writer) {
		printEntries(w, entries)
	})
}

// pickVolume returns the volume in slot on the first disk, or the first
// volume when slot is negative.
func pickVolume(sess *boot.Session, slot int) (*fat.Volume, error) {
	drive := sess.Disks[0].Drive
	if slot < 0 {
		return drive.FirstVolume()
	}
	return drive.Volume(slot)
}
