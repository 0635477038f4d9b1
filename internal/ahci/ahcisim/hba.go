// Package ahcisim emulates an AHCI HBA and its attached disks closely enough
// to run the driver against disk images and to inject device faults.
package ahcisim

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/open-edge-platform/os-boot-storage/internal/ahci"
)

// Backing stores a disk's sectors.
type Backing interface {
	io.ReaderAt
	io.WriterAt
}

// Memory resolves physical addresses the way a bus master would.
type Memory interface {
	Memory(phys uint64, size int) ([]byte, error)
}

// Fault makes an attached device misbehave.
type Fault struct {
	// BusyStuck keeps BSY set in PxTFD forever.
	BusyStuck bool
	// BusyReads reports BSY for this many PxTFD reads before clearing.
	BusyReads int
	// TaskFileError fails every command with TFES.
	TaskFileError bool
	// CompleteAfter keeps the issued bit in PxCI for this many reads.
	CompleteAfter int
	// NeverComplete leaves the issued bit in PxCI forever.
	NeverComplete bool
	// EngineStuck keeps CR and FR set after ST and FRE are cleared.
	EngineStuck bool
}

// Command records one executed command.
type Command struct {
	Port   int
	Slot   int
	Header ahci.CommandHeader
	FIS    ahci.FisRegH2D
	Prdt   []ahci.PrdtEntry
	Err    error
}

const (
	tfdReady    = ahci.TFDStatusDRD | 0x10
	ataErrAbort = 0x04
	ataErrIDNF  = 0x10

	sstsActive = 0x113
)

var (
	errBadFIS      = errors.New("malformed command fis")
	errDirection   = errors.New("header write bit disagrees with command")
	errPrdtLength  = errors.New("prdt byte count does not match sector count")
	errOutOfRange  = errors.New("lba out of range")
	errUnsupported = errors.New("unsupported ata command")
	errInjected    = errors.New("injected task file error")
)

type simPort struct {
	regs     [0x80 / 4]uint32
	disk     Backing
	sectors  uint64
	fault    Fault
	busy     int
	pending  map[int]int
	ciWrites int
	tfdReads int
	commands []Command
}

// HBA is a register-level model of an AHCI controller.
type HBA struct {
	mu     sync.Mutex
	mem    Memory
	global [0x100 / 4]uint32
	ports  [ahci.MaxPorts]*simPort
}

// NewHBA returns an HBA with nports implemented ports and nothing attached.
func NewHBA(mem Memory, nports int) *HBA {
	if nports < 1 || nports > ahci.MaxPorts {
		nports = ahci.MaxPorts
	}
	h := &HBA{mem: mem}
	h.global[ahci.RegCAP/4] = 1<<31 | 31<<8 | uint32(nports-1)
	h.global[ahci.RegVS/4] = 0x00010301
	if nports == ahci.MaxPorts {
		h.global[ahci.RegPI/4] = 0xFFFFFFFF
	} else {
		h.global[ahci.RegPI/4] = 1<<nports - 1
	}
	for i := range h.ports {
		h.ports[i] = &simPort{pending: map[int]int{}}
	}
	return h
}

// Attach connects a disk of sectors sectors to port n.
func (h *HBA) Attach(n int, disk Backing, sectors uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.ports[n]
	p.disk = disk
	p.sectors = sectors
	p.regs[ahci.PortRegSSTS/4] = sstsActive
	p.regs[ahci.PortRegSIG/4] = ahci.SigATA
	p.regs[ahci.PortRegTFD/4] = tfdReady
}

// SetFault replaces the fault configuration of port n.
func (h *HBA) SetFault(n int, f Fault) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ports[n].fault = f
	h.ports[n].busy = f.BusyReads
}

// Commands returns the commands port n has executed.
func (h *HBA) Commands(n int) []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Command(nil), h.ports[n].commands...)
}

// CIWrites counts writes to port n's PxCI.
func (h *HBA) CIWrites(n int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ports[n].ciWrites
}

// TFDReads counts reads of port n's PxTFD.
func (h *HBA) TFDReads(n int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ports[n].tfdReads
}

// SetPortRegister forces a raw register value, for example PxSACT.
func (h *HBA) SetPortRegister(n int, off uintptr, v uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ports[n].regs[off/4] = v
}

// PortRegister returns a raw register value without side effects.
func (h *HBA) PortRegister(n int, off uintptr) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ports[n].regs[off/4]
}

func split(off uintptr) (port int, reg uintptr, ok bool) {
	if off < ahci.PortBase(0) || off >= ahci.ABARSize {
		return 0, 0, false
	}
	rel := off - ahci.PortBase(0)
	return int(rel / 0x80), rel % 0x80, true
}

func (h *HBA) Load32(off uintptr) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, reg, ok := split(off)
	if !ok {
		return h.global[off/4]
	}
	p := h.ports[n]
	switch reg {
	case ahci.PortRegTFD:
		p.tfdReads++
		if p.fault.BusyStuck {
			return p.regs[reg/4] | ahci.TFDStatusBSY
		}
		if p.busy > 0 {
			p.busy--
			return p.regs[reg/4] | ahci.TFDStatusBSY
		}
	case ahci.PortRegCI:
		for slot, left := range p.pending {
			if left <= 1 {
				delete(p.pending, slot)
				p.regs[reg/4] &^= 1 << slot
			} else {
				p.pending[slot] = left - 1
			}
		}
	}
	return p.regs[reg/4]
}

func (h *HBA) Store32(off uintptr, v uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, reg, ok := split(off)
	if !ok {
		switch off {
		case ahci.RegGHC:
			h.global[off/4] = v &^ ahci.GHCReset
		case ahci.RegIS:
			h.global[off/4] &^= v
		}
		return
	}

	p := h.ports[n]
	switch reg {
	case ahci.PortRegIS, ahci.PortRegSERR:
		p.regs[reg/4] &^= v
	case ahci.PortRegCMD:
		p.storeCmd(v)
	case ahci.PortRegCI:
		p.ciWrites++
		p.regs[reg/4] |= v
		for slot := 0; slot < 32; slot++ {
			if v&(1<<slot) != 0 {
				h.execute(n, slot)
			}
		}
	case ahci.PortRegTFD, ahci.PortRegSIG, ahci.PortRegSSTS:
		// read-only
	default:
		p.regs[reg/4] = v
	}
}

func (p *simPort) storeCmd(v uint32) {
	running := p.regs[ahci.PortRegCMD/4] & (ahci.PortCmdCR | ahci.PortCmdFR)
	v &^= ahci.PortCmdCR | ahci.PortCmdFR
	if v&ahci.PortCmdST != 0 {
		v |= ahci.PortCmdCR
	} else {
		// Clearing ST drops every outstanding command.
		p.regs[ahci.PortRegCI/4] = 0
		p.regs[ahci.PortRegSACT/4] = 0
		clear(p.pending)
		if p.fault.EngineStuck {
			v |= running & ahci.PortCmdCR
		}
	}
	if v&ahci.PortCmdFRE != 0 {
		v |= ahci.PortCmdFR
	} else if p.fault.EngineStuck {
		v |= running & ahci.PortCmdFR
	}
	p.regs[ahci.PortRegCMD/4] = v
}

func (h *HBA) execute(n, slot int) {
	p := h.ports[n]
	cmd := Command{Port: n, Slot: slot}
	err := h.run(p, slot, &cmd)
	cmd.Err = err
	p.commands = append(p.commands, cmd)

	if err != nil {
		code := uint32(ataErrAbort)
		if errors.Is(err, errOutOfRange) {
			code = ataErrIDNF
		}
		p.regs[ahci.PortRegTFD/4] = code<<8 | tfdReady | ahci.TFDStatusERR
		p.regs[ahci.PortRegIS/4] |= ahci.PortIntTFES | ahci.PortIntDHRS
		return
	}

	p.regs[ahci.PortRegTFD/4] = tfdReady
	p.regs[ahci.PortRegIS/4] |= ahci.PortIntDHRS | ahci.PortIntDPS
	switch {
	case p.fault.NeverComplete:
	case p.fault.CompleteAfter > 0:
		p.pending[slot] = p.fault.CompleteAfter
	default:
		p.regs[ahci.PortRegCI/4] &^= 1 << slot
	}
}

func (h *HBA) run(p *simPort, slot int, cmd *Command) error {
	if p.disk == nil {
		return fmt.Errorf("no device")
	}
	clb := uint64(p.regs[ahci.PortRegCLB/4]) | uint64(p.regs[ahci.PortRegCLBU/4])<<32
	hb, err := h.mem.Memory(clb+uint64(slot)*ahci.CommandHeaderSize, ahci.CommandHeaderSize)
	if err != nil {
		return err
	}
	hdr, err := ahci.DecodeCommandHeader(hb)
	if err != nil {
		return err
	}
	cmd.Header = hdr

	if int(hdr.Prdtl) > ahci.PrdtEntriesPerTable {
		return errPrdtLength
	}
	tb, err := h.mem.Memory(hdr.Ctba, ahci.CommandTableSize)
	if err != nil {
		return err
	}
	tbl, err := ahci.DecodeCommandTable(tb)
	if err != nil {
		return err
	}
	fis, err := tbl.FIS()
	if err != nil {
		return err
	}
	cmd.FIS = fis
	cmd.Prdt = append([]ahci.PrdtEntry(nil), tbl.Prdt[:hdr.Prdtl]...)

	if p.fault.TaskFileError {
		return errInjected
	}
	if fis.Type != ahci.FisTypeRegH2D || !fis.IsCommand() || hdr.CommandFISLength() != ahci.FisRegH2DSize/4 {
		return errBadFIS
	}

	var write bool
	switch fis.Command {
	case ahci.ATACmdReadDMAExt:
	case ahci.ATACmdWriteDMAExt:
		write = true
	default:
		return fmt.Errorf("%w %#x", errUnsupported, fis.Command)
	}
	if hdr.Write() != write {
		return errDirection
	}

	count := uint64(fis.Count)
	if count == 0 {
		count = 65536
	}
	lba := fis.LBA()
	if lba+count > p.sectors {
		return errOutOfRange
	}

	var total uint64
	for i := range cmd.Prdt {
		total += uint64(cmd.Prdt[i].ByteCount())
	}
	if total != count*ahci.SectorSize {
		return errPrdtLength
	}

	pos := int64(lba * ahci.SectorSize)
	for i := range cmd.Prdt {
		e := &cmd.Prdt[i]
		buf, err := h.mem.Memory(e.Address(), int(e.ByteCount()))
		if err != nil {
			return err
		}
		var n int
		if write {
			n, err = p.disk.WriteAt(buf, pos)
		} else {
			n, err = p.disk.ReadAt(buf, pos)
		}
		if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
			return err
		}
		pos += int64(len(buf))
	}

	hdr.Prdbc = uint32(total)
	cmd.Header.Prdbc = hdr.Prdbc
	return hdr.Encode(hb)
}
