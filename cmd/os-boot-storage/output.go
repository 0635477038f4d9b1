package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/open-edge-platform/os-boot-storage/internal/boot"
	"github.com/open-edge-platform/os-boot-storage/internal/diskimage"
)

func checkFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", format)
	}
}

// writeResult renders v as JSON or YAML, or calls text for the text format.
func writeResult(cmd *cobra.Command, v any, format string, pretty bool, text func(io.Writer)) error {
	out := cmd.OutOrStdout()

	switch format {
	case "text":
		text(out)
		return nil

	case "json":
		var (
			b   []byte
			err error
		)
		if pretty {
			b, err = json.MarshalIndent(v, "", "  ")
		} else {
			b, err = json.Marshal(v)
		}
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(b))
		return nil

	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, _ = fmt.Fprint(out, string(b))
		return nil

	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// startSession attaches the images to a simulated controller and runs the
// boot sequence. With load set the images are read into memory and writes
// never reach the files.
func startSession(paths []string, load bool) (*boot.Session, func(), error) {
	var images []*diskimage.Image
	closeAll := func() {
		for _, im := range images {
			_ = im.Close()
		}
	}

	for _, p := range paths {
		open := diskimage.Open
		if load {
			open = diskimage.Load
		}
		im, err := open(p)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		images = append(images, im)
	}

	backings := make([]boot.Image, len(images))
	for i, im := range images {
		backings[i] = im
	}
	l, _, err := boot.NewSimLoader(cfg, backings...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	sess, err := l.Run()
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return sess, closeAll, nil
}
