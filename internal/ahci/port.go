package ahci

import (
	"fmt"

	"github.com/open-edge-platform/os-boot-storage/internal/hw/mmio"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/logger"
	"github.com/open-edge-platform/os-boot-storage/internal/utils/poll"
)

// SectorSize is the logical sector size every transfer is expressed in.
const SectorSize = 512

const (
	sectorsPerPrdt = 16
	prdtBytes      = sectorsPerPrdt * SectorSize

	// MaxSectorsPerCommand is bounded by the PRDT entries a command table
	// holds.
	MaxSectorsPerCommand = PrdtEntriesPerTable * sectorsPerPrdt

	// Only slot 0 is ever used.
	commandSlots = 1

	fisOffset    = CommandListSize
	tablesOffset = CommandListSize + ReceivedFISSize

	// PortRegionSize is the memory Rebase claims: command list, received FIS
	// area and one command table per slot.
	PortRegionSize = tablesOffset + MaxPorts*CommandTableSize
)

// A PRDT entry must be able to describe a full chunk.
var _ [MaxPrdtBytes - prdtBytes]struct{}

// Timing bounds the busy-wait loops of a port.
type Timing struct {
	// BusySpin bounds the wait for BSY and DRQ to clear before issue.
	BusySpin poll.Budget
	// CompletionSpin bounds the wait for the command to leave CI.
	CompletionSpin poll.Budget
	// EngineSpin bounds the CR/FR waits when starting and stopping.
	EngineSpin poll.Budget
}

// DefaultBusySpin is the pre-issue spin budget.
const DefaultBusySpin poll.Budget = 1_000_000

// DefaultTiming bounds only the pre-issue wait.
func DefaultTiming() Timing {
	return Timing{BusySpin: DefaultBusySpin}
}

// Port drives one port's command engine. Methods are not safe for concurrent
// use; one command is in flight at a time.
type Port struct {
	num    int
	regs   mmio.RegisterSpace
	mem    mmio.Platform
	timing Timing
}

// PortStatus is a snapshot of a port's registers.
type PortStatus struct {
	Number    int    `json:"number" yaml:"number"`
	SStatus   uint32 `json:"sstatus" yaml:"sstatus"`
	Signature uint32 `json:"signature" yaml:"signature"`
	Command   uint32 `json:"command" yaml:"command"`
	TaskFile  uint32 `json:"taskFile" yaml:"taskFile"`
	CLB       uint64 `json:"clb" yaml:"clb"`
	FB        uint64 `json:"fb" yaml:"fb"`
}

// Number is the port index within the HBA.
func (p *Port) Number() int { return p.num }

// HasDevice reports whether a device is present with PHY communication
// established.
func (p *Port) HasDevice() bool {
	return p.regs.Load32(PortRegSSTS)&SStatusDetMask == SStatusDetPresent
}

// Signature returns PxSIG.
func (p *Port) Signature() uint32 { return p.regs.Load32(PortRegSIG) }

// DeviceKind names the device class reported by the signature.
func (p *Port) DeviceKind() string {
	switch p.Signature() {
	case SigATA:
		return "sata"
	case SigATAPI:
		return "satapi"
	case SigSEMB:
		return "semb"
	case SigPM:
		return "port-multiplier"
	default:
		return "unknown"
	}
}

// Status snapshots the port registers.
func (p *Port) Status() PortStatus {
	return PortStatus{
		Number:    p.num,
		SStatus:   p.regs.Load32(PortRegSSTS),
		Signature: p.regs.Load32(PortRegSIG),
		Command:   p.regs.Load32(PortRegCMD),
		TaskFile:  p.regs.Load32(PortRegTFD),
		CLB:       p.commandListBase(),
		FB:        uint64(p.regs.Load32(PortRegFB)) | uint64(p.regs.Load32(PortRegFBU))<<32,
	}
}

func (p *Port) commandListBase() uint64 {
	return uint64(p.regs.Load32(PortRegCLB)) | uint64(p.regs.Load32(PortRegCLBU))<<32
}

// FindCmdSlot returns the lowest slot that is neither issued nor active.
func (p *Port) FindCmdSlot() (int, error) {
	busy := p.regs.Load32(PortRegCI) | p.regs.Load32(PortRegSACT)
	for i := 0; i < commandSlots; i++ {
		if busy&(1<<i) == 0 {
			return i, nil
		}
	}
	return -1, ErrNoCommandSlot
}

// StartCommandEngine waits for the command list to stop running, then enables
// FIS receive and starts processing.
func (p *Port) StartCommandEngine() error {
	if _, err := p.timing.EngineSpin.Until(func() bool {
		return p.regs.Load32(PortRegCMD)&PortCmdCR == 0
	}); err != nil {
		return fmt.Errorf("port %d: command list still running: %w", p.num, ErrPortHung)
	}
	cmd := p.regs.Load32(PortRegCMD)
	p.regs.Store32(PortRegCMD, cmd|PortCmdFRE|PortCmdST)
	return nil
}

// StopCommandEngine clears ST then FRE and waits for CR and FR to drop.
func (p *Port) StopCommandEngine() error {
	p.regs.Store32(PortRegCMD, p.regs.Load32(PortRegCMD)&^PortCmdST)
	p.regs.Store32(PortRegCMD, p.regs.Load32(PortRegCMD)&^PortCmdFRE)

	if _, err := p.timing.EngineSpin.Until(func() bool {
		return p.regs.Load32(PortRegCMD)&(PortCmdFR|PortCmdCR) == 0
	}); err != nil {
		return fmt.Errorf("port %d: engine did not stop: %w", p.num, ErrPortHung)
	}
	return nil
}

// Rebase moves the port's command list, received FIS area and command tables
// into PortRegionSize bytes at base.
func (p *Port) Rebase(base uint64) error {
	log := logger.Logger()

	if !p.HasDevice() {
		return fmt.Errorf("port %d: %w", p.num, ErrNoDevice)
	}
	if err := p.StopCommandEngine(); err != nil {
		return err
	}

	region, err := p.mem.Memory(base, PortRegionSize)
	if err != nil {
		return fmt.Errorf("port %d: map command region: %w", p.num, err)
	}

	clear(region[:CommandListSize])
	p.regs.Store32(PortRegCLB, uint32(base))
	p.regs.Store32(PortRegCLBU, uint32(base>>32))

	clear(region[fisOffset : fisOffset+ReceivedFISSize])
	fb := base + fisOffset
	p.regs.Store32(PortRegFB, uint32(fb))
	p.regs.Store32(PortRegFBU, uint32(fb>>32))

	for i := 0; i < MaxPorts; i++ {
		off := tablesOffset + i*CommandTableSize
		hdr := CommandHeader{
			Prdtl: PrdtEntriesPerTable,
			Ctba:  base + uint64(off),
		}
		if err := hdr.Encode(region[i*CommandHeaderSize:]); err != nil {
			return err
		}
		clear(region[off : off+CommandTableSize])
	}

	if err := p.StartCommandEngine(); err != nil {
		return err
	}
	log.Debugf("port %d rebased: clb=%#x fb=%#x tables=%#x", p.num, base, fb, base+tablesOffset)
	return nil
}

// Read transfers count sectors starting at LBA starth:startl into buf.
func (p *Port) Read(startl, starth, count uint32, buf mmio.Buffer) error {
	return p.transfer(ATACmdReadDMAExt, startl, starth, count, buf)
}

// Write transfers count sectors from buf to LBA starth:startl.
func (p *Port) Write(startl, starth, count uint32, buf mmio.Buffer) error {
	return p.transfer(ATACmdWriteDMAExt, startl, starth, count, buf)
}

func (p *Port) transfer(op uint8, startl, starth, count uint32, buf mmio.Buffer) error {
	log := logger.Logger()
	write := op == ATACmdWriteDMAExt

	if count == 0 || count > MaxSectorsPerCommand {
		return fmt.Errorf("%w: %d sectors, want 1..%d", ErrInvalidTransfer, count, MaxSectorsPerCommand)
	}
	if uint64(len(buf.Data)) < uint64(count)*SectorSize {
		return fmt.Errorf("%w: %d byte buffer for %d sectors", ErrInvalidTransfer, len(buf.Data), count)
	}
	if !p.HasDevice() {
		return fmt.Errorf("port %d: %w", p.num, ErrNoDevice)
	}
	clb := p.commandListBase()
	if clb == 0 {
		return fmt.Errorf("port %d: %w", p.num, ErrNotRebased)
	}

	slot, err := p.FindCmdSlot()
	if err != nil {
		return fmt.Errorf("port %d: %w", p.num, err)
	}

	p.regs.Store32(PortRegIS, 0xFFFFFFFF)

	list, err := p.mem.Memory(clb, CommandListSize)
	if err != nil {
		return fmt.Errorf("port %d: map command list: %w", p.num, err)
	}
	hdrBytes := list[slot*CommandHeaderSize : (slot+1)*CommandHeaderSize]
	hdr, err := DecodeCommandHeader(hdrBytes)
	if err != nil {
		return err
	}
	if hdr.Ctba == 0 {
		return fmt.Errorf("port %d slot %d: %w", p.num, slot, ErrNotRebased)
	}

	hdr.Flags0, hdr.Flags1 = 0, 0
	hdr.SetCommandFISLength(FisRegH2DSize / 4)
	hdr.SetWrite(write)
	hdr.SetClearBusy(write)
	hdr.Prdtl = uint16((count-1)/sectorsPerPrdt + 1)
	hdr.Prdbc = 0

	var tbl CommandTable
	addr, remaining := buf.Phys, count
	for i := 0; i < int(hdr.Prdtl); i++ {
		n := min(remaining, sectorsPerPrdt)
		e := &tbl.Prdt[i]
		e.SetAddress(addr)
		e.SetByteCount(n * SectorSize)
		e.SetInterruptOnCompletion(true)
		addr += uint64(n) * SectorSize
		remaining -= n
	}

	fis := FisRegH2D{
		Type:    FisTypeRegH2D,
		Command: op,
		Device:  ATADeviceLBA,
		Count:   uint16(count),
	}
	fis.SetCommand(true)
	fis.SetLBA(startl, starth)
	if err := tbl.SetFIS(&fis); err != nil {
		return err
	}

	tblMem, err := p.mem.Memory(hdr.Ctba, CommandTableSize)
	if err != nil {
		return fmt.Errorf("port %d: map command table: %w", p.num, err)
	}
	if err := tbl.Encode(tblMem); err != nil {
		return err
	}
	if err := hdr.Encode(hdrBytes); err != nil {
		return err
	}

	var tfd uint32
	if spins, err := p.timing.BusySpin.Until(func() bool {
		tfd = p.regs.Load32(PortRegTFD)
		return tfd&(TFDStatusBSY|TFDStatusDRQ) == 0
	}); err != nil {
		log.Warnf("port %d is hung after %d polls: tfd=%#x", p.num, spins, tfd)
		return fmt.Errorf("port %d: %w", p.num, ErrPortHung)
	}

	log.Debugf("port %d: issue cmd=%#x slot=%d lba=%#x count=%d prdtl=%d",
		p.num, op, slot, fis.LBA(), count, hdr.Prdtl)
	bit := uint32(1) << slot
	p.regs.Store32(PortRegCI, bit)

	taskFileError := false
	_, err = p.timing.CompletionSpin.Until(func() bool {
		if p.regs.Load32(PortRegCI)&bit == 0 {
			return true
		}
		if p.regs.Load32(PortRegIS)&PortIntTFES != 0 {
			taskFileError = true
			return true
		}
		return false
	})
	if taskFileError || p.regs.Load32(PortRegIS)&PortIntTFES != 0 {
		tfd = p.regs.Load32(PortRegTFD)
		log.Warnf("port %d: task file error on cmd=%#x lba=%#x: tfd=%#x", p.num, op, fis.LBA(), tfd)
		p.restartEngine()
		return fmt.Errorf("port %d: %w (status %#x, error %#x)", p.num, ErrTaskFileError, tfd&0xFF, (tfd>>8)&0xFF)
	}
	if err != nil {
		log.Warnf("port %d: cmd=%#x lba=%#x still issued: ci=%#x", p.num, op, fis.LBA(), p.regs.Load32(PortRegCI))
		p.restartEngine()
		return fmt.Errorf("port %d: command did not complete: %w", p.num, ErrPortHung)
	}
	return nil
}

// restartEngine cycles the command engine after a failed command. The HBA
// halts on a task file error with the slot still set in PxCI; clearing ST
// releases it so the caller can retry.
func (p *Port) restartEngine() {
	log := logger.Logger()

	if err := p.StopCommandEngine(); err != nil {
		log.Errorf("port %d: recovery failed: %v", p.num, err)
		return
	}
	p.regs.Store32(PortRegSERR, 0xFFFFFFFF)
	p.regs.Store32(PortRegIS, 0xFFFFFFFF)
	if err := p.StartCommandEngine(); err != nil {
		log.Errorf("port %d: recovery failed: %v", p.num, err)
		return
	}
	log.Debugf("port %d: command engine restarted", p.num)
}
