package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
)

// Cat command flags
var (
	catOutput string
	catVolume int = -1
)

// createCatCommand creates the cat subcommand
func createCatCommand() *cobra.Command {
	catCmd := &cobra.Command{
		Use:   "cat [flags] IMAGE PATH",
		Short: "Read a file from a FAT32 volume of a disk image",
		Long: `Cat attaches IMAGE to the simulated controller and copies the file at
PATH by following its cluster chain. Output goes to stdout, or to the file
given with --output, in which case progress is shown on stderr.`,
		Args:              cobra.ExactArgs(2),
		RunE:              executeCat,
		ValidArgsFunction: imageFileCompletion,
	}

	catCmd.Flags().StringVarP(&catOutput, "output", "o", "",
		"Write the file here instead of stdout")
	catCmd.Flags().IntVar(&catVolume, "volume", -1,
		"MBR slot (0-3) of the volume to read; -1 selects the first volume")

	return catCmd
}

// executeCat handles the cat command execution logic
func executeCat(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imagePath, filePath := args[0], args[1]

	sess, done, err := startSession([]string{imagePath}, false)
	if err != nil {
		return fail("open image", err)
	}
	defer done()

	vol, err := pickVolume(sess, catVolume)
	if err != nil {
		return err
	}
	e, err := vol.Lookup(filePath)
	if err != nil {
		return fail("cat", err)
	}

	if catOutput == "" {
		if _, err := vol.ReadFile(e, cmd.OutOrStdout()); err != nil {
			return fail("cat", err)
		}
		return nil
	}

	f, err := os.Create(catOutput)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	bar := newCopyBar(cmd.ErrOrStderr(), int(e.Size), e.Name)
	n, err := vol.ReadFile(e, io.MultiWriter(f, bar))
	_ = bar.Finish()
	if err != nil {
		return fail("cat", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	log.Infof("wrote %s (%s) to %s", e.Name, humanBytes(n), catOutput)
	return nil
}

func newCopyBar(w io.Writer, size int, name string) *progressbar.ProgressBar {
	return progressbar.NewOptions(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(name),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
