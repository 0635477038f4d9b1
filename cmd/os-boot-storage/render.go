package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/open-edge-platform/os-boot-storage/internal/boot"
	"github.com/open-edge-platform/os-boot-storage/internal/diskimage"
	"github.com/open-edge-platform/os-boot-storage/internal/fat"
)

// printReport prints a human-readable boot storage report.
func printReport(w io.Writer, rep *boot.Report) {
	c := rep.Controller
	fmt.Fprintln(w, "Boot Storage Scan")
	fmt.Fprintln(w, "=================")
	fmt.Fprintf(w, "Scan ID:\t%s\n", rep.ID)
	fmt.Fprintf(w, "Controller:\t%s\n", c.PCI)
	fmt.Fprintf(w, "ABAR:\t%#x\n", c.ABAR)
	fmt.Fprintf(w, "AHCI version:\t%s\n", c.Version)
	fmt.Fprintf(w, "Ports implemented:\t%#08x\n", c.PortsImplemented)
	fmt.Fprintf(w, "Result:\t%s\n", describeScan(rep))

	for _, p := range rep.Ports {
		fmt.Fprintln(w)
		title := fmt.Sprintf("Port %d (%s)", p.Number, p.Kind)
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, underline(title))
		if p.Skipped {
			fmt.Fprintln(w, "(skipped: not a SATA disk)")
			continue
		}
		fmt.Fprintf(w, "Command region:\t%#x\n", p.RegionBase)
		if p.Partitioned {
			fmt.Fprintln(w, "Layout:\tMBR")
		} else {
			fmt.Fprintln(w, "Layout:\tunpartitioned volume")
		}

		for _, v := range p.Volumes {
			fmt.Fprintln(w)
			g := v.Geometry
			fmt.Fprintf(w, "Volume %d: %s %q (%s), OEM %q\n", v.Slot, v.Type, v.Label, v.VolumeID, v.OEMName)
			fmt.Fprintf(w, "  start LBA %d, %d clusters of %s, data at sector %d\n",
				v.StartLBA, g.ClusterCount, humanBytes(int64(g.BytesPerCluster)), g.FirstDataSector)
			printEntries(w, v.Root)
		}
	}
}

// printEntries prints directory entries in ls -l style.
func printEntries(w io.Writer, entries []fat.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "(empty)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTR\tSIZE\tMODIFIED\tCLUSTER\tNAME")
	for _, e := range entries {
		size := humanBytes(int64(e.Size))
		name := e.Name
		if e.IsDir() {
			size = "-"
			name += "/"
		}
		modified := "-"
		if !e.Modified.IsZero() {
			modified = e.Modified.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", e.Attr, size, modified, e.FirstCluster, name)
	}
	_ = tw.Flush()
}

// printInspection prints both partition table readings side by side.
func printInspection(w io.Writer, rep *diskimage.Report) {
	fmt.Fprintln(w, "Disk Image")
	fmt.Fprintln(w, "==========")
	fmt.Fprintf(w, "Image:\t%s\n", rep.File)
	fmt.Fprintf(w, "Format:\t%s\n", rep.Format)
	fmt.Fprintf(w, "Size:\t%s (%d bytes)\n", humanBytes(rep.SizeBytes), rep.SizeBytes)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Partitions")
	fmt.Fprintln(w, "----------")
	if rep.Unpartitioned {
		fmt.Fprintln(w, "(none: sector 0 is a volume boot record)")
		return
	}
	if len(rep.Driver) == 0 {
		fmt.Fprintln(w, "(none)")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SLOT\tTYPE\tTYPE_NAME\tBOOT\tSTART(LBA)\tSECTORS\tSIZE")
		for _, p := range rep.Driver {
			name := p.TypeName
			if name == "" {
				name = "-"
			}
			active := ""
			if p.Bootable {
				active = "*"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
				p.Slot, p.Type, name, active, p.StartLBA, p.Sectors, humanBytes(int64(p.SizeBytes)))
		}
		_ = tw.Flush()
	}

	fmt.Fprintln(w)
	if rep.Consistent() {
		fmt.Fprintf(w, "go-diskfs agrees on all %d partition(s)\n", len(rep.Diskfs))
		return
	}
	fmt.Fprintln(w, "Mismatches against go-diskfs")
	fmt.Fprintln(w, "----------------------------")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tFIELD\tDRIVER\tDISKFS")
	for _, m := range rep.Mismatches {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.Slot, m.Field, m.Driver, m.Diskfs)
	}
	_ = tw.Flush()
}

func underline(s string) string { return strings.Repeat("-", len(s)) }

func humanBytes(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
