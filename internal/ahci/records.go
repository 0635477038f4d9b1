package ahci

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Record sizes as the HBA sees them.
const (
	CommandHeaderSize = 32
	CommandListSize   = 32 * CommandHeaderSize
	ReceivedFISSize   = 256
	PrdtEntrySize     = 16
	FisRegH2DSize     = 20

	// PrdtEntriesPerTable is how many descriptors fit in a command table as
	// laid out by Rebase.
	PrdtEntriesPerTable = 8
	CommandTableSize    = 0x80 + PrdtEntriesPerTable*PrdtEntrySize
)

// FIS types.
const (
	FisTypeRegH2D   = 0x27
	FisTypeRegD2H   = 0x34
	FisTypeDMAAct   = 0x39
	FisTypeDMASetup = 0x41
	FisTypeData     = 0x46
	FisTypeBIST     = 0x58
	FisTypePIOSetup = 0x5F
	FisTypeDevBits  = 0xA1
)

// ATA commands.
const (
	ATACmdReadDMAExt  = 0x25
	ATACmdWriteDMAExt = 0x35
	ATACmdIdentify    = 0xEC
)

// ATADeviceLBA selects LBA addressing in the device register.
const ATADeviceLBA = 1 << 6

// CommandHeader is one of the 32 entries of a port's command list.
type CommandHeader struct {
	// CFL[4:0], A, W, P
	Flags0 uint8
	// R, B, C, reserved, PMP[7:4]
	Flags1   uint8
	Prdtl    uint16 // PRDT entries
	Prdbc    uint32 // bytes transferred
	Ctba     uint64 // command table base
	Reserved [4]uint32
}

// PrdtEntry describes one contiguous DMA region.
type PrdtEntry struct {
	Dba      uint32
	Dbau     uint32
	Reserved uint32
	// DBC[21:0] is the byte count minus one; bit 31 is interrupt on completion.
	Dw3 uint32
}

// FisRegH2D is the register FIS a host sends to issue an ATA command.
type FisRegH2D struct {
	Type     uint8
	PmpC     uint8 // PMP[3:0], C in bit 7
	Command  uint8
	FeatureL uint8
	Lba0     uint8
	Lba1     uint8
	Lba2     uint8
	Device   uint8
	Lba3     uint8
	Lba4     uint8
	Lba5     uint8
	FeatureH uint8
	Count    uint16
	Icc      uint8
	Control  uint8
	Reserved [4]uint8
}

// CommandTable is the FIS area followed by the PRDT.
type CommandTable struct {
	Cfis     [64]byte
	Acmd     [16]byte
	Reserved [48]byte
	Prdt     [PrdtEntriesPerTable]PrdtEntry
}

var (
	_ [unsafe.Sizeof(CommandHeader{}) - CommandHeaderSize]struct{}
	_ [CommandHeaderSize - unsafe.Sizeof(CommandHeader{})]struct{}
	_ [unsafe.Sizeof(PrdtEntry{}) - PrdtEntrySize]struct{}
	_ [PrdtEntrySize - unsafe.Sizeof(PrdtEntry{})]struct{}
	_ [unsafe.Sizeof(FisRegH2D{}) - FisRegH2DSize]struct{}
	_ [FisRegH2DSize - unsafe.Sizeof(FisRegH2D{})]struct{}
	_ [unsafe.Sizeof(CommandTable{}) - CommandTableSize]struct{}
	_ [CommandTableSize - unsafe.Sizeof(CommandTable{})]struct{}
)

const (
	hdrCFLMask   = 0x1F
	hdrATAPI     = 1 << 5
	hdrWrite     = 1 << 6
	hdrPrefetch  = 1 << 7
	hdrReset     = 1 << 0
	hdrBIST      = 1 << 1
	hdrClearBusy = 1 << 2

	prdtDBCMask = 0x3FFFFF
	prdtIOC     = 1 << 31

	fisCommandBit = 1 << 7
)

// MaxPrdtBytes is the largest region one PRDT entry can describe.
const MaxPrdtBytes = prdtDBCMask + 1

// CommandFISLength returns the FIS length in dwords.
func (h *CommandHeader) CommandFISLength() uint8 { return h.Flags0 & hdrCFLMask }

// SetCommandFISLength stores the FIS length in dwords.
func (h *CommandHeader) SetCommandFISLength(dwords uint8) {
	h.Flags0 = h.Flags0&^hdrCFLMask | dwords&hdrCFLMask
}

// ATAPI reports the A bit; the command carries an ATAPI packet.
func (h *CommandHeader) ATAPI() bool     { return h.Flags0&hdrATAPI != 0 }
func (h *CommandHeader) SetATAPI(v bool) { h.Flags0 = setBit8(h.Flags0, hdrATAPI, v) }

// Write reports the W bit; data flows from host to device.
func (h *CommandHeader) Write() bool     { return h.Flags0&hdrWrite != 0 }
func (h *CommandHeader) SetWrite(v bool) { h.Flags0 = setBit8(h.Flags0, hdrWrite, v) }

// Prefetch reports the P bit; the HBA may prefetch PRDs.
func (h *CommandHeader) Prefetch() bool     { return h.Flags0&hdrPrefetch != 0 }
func (h *CommandHeader) SetPrefetch(v bool) { h.Flags0 = setBit8(h.Flags0, hdrPrefetch, v) }

// Reset reports the R bit of a soft reset sequence.
func (h *CommandHeader) Reset() bool     { return h.Flags1&hdrReset != 0 }
func (h *CommandHeader) SetReset(v bool) { h.Flags1 = setBit8(h.Flags1, hdrReset, v) }

// BIST reports the B bit; the command FIS is a BIST FIS.
func (h *CommandHeader) BIST() bool     { return h.Flags1&hdrBIST != 0 }
func (h *CommandHeader) SetBIST(v bool) { h.Flags1 = setBit8(h.Flags1, hdrBIST, v) }

// ClearBusy reports the C bit; BSY clears once R_OK is received.
func (h *CommandHeader) ClearBusy() bool     { return h.Flags1&hdrClearBusy != 0 }
func (h *CommandHeader) SetClearBusy(v bool) { h.Flags1 = setBit8(h.Flags1, hdrClearBusy, v) }

// PortMultiplier returns the PMP field.
func (h *CommandHeader) PortMultiplier() uint8 { return h.Flags1 >> 4 }

// SetPortMultiplier stores the low four bits of pmp in the PMP field.
func (h *CommandHeader) SetPortMultiplier(pmp uint8) {
	h.Flags1 = h.Flags1&0x0F | pmp<<4
}

// Address returns the 64-bit data base address.
func (e *PrdtEntry) Address() uint64 { return uint64(e.Dba) | uint64(e.Dbau)<<32 }

// SetAddress splits phys across DBA and DBAU.
func (e *PrdtEntry) SetAddress(phys uint64) {
	e.Dba = uint32(phys)
	e.Dbau = uint32(phys >> 32)
}

// ByteCount returns the number of bytes described, already adjusted by one.
func (e *PrdtEntry) ByteCount() uint32 { return e.Dw3&prdtDBCMask + 1 }

// SetByteCount stores n-1 in DBC. n must be in [1, MaxPrdtBytes].
func (e *PrdtEntry) SetByteCount(n uint32) {
	e.Dw3 = e.Dw3&^prdtDBCMask | (n-1)&prdtDBCMask
}

// InterruptOnCompletion reports the I bit of DW3.
func (e *PrdtEntry) InterruptOnCompletion() bool { return e.Dw3&prdtIOC != 0 }

// SetInterruptOnCompletion sets or clears the I bit of DW3.
func (e *PrdtEntry) SetInterruptOnCompletion(v bool) {
	if v {
		e.Dw3 |= prdtIOC
	} else {
		e.Dw3 &^= prdtIOC
	}
}

// IsCommand reports whether the C bit marks this FIS as a command update.
func (f *FisRegH2D) IsCommand() bool { return f.PmpC&fisCommandBit != 0 }

// SetCommand sets or clears the C bit.
func (f *FisRegH2D) SetCommand(v bool) { f.PmpC = setBit8(f.PmpC, fisCommandBit, v) }

// LBA returns the 48-bit block address.
func (f *FisRegH2D) LBA() uint64 {
	return uint64(f.Lba0) | uint64(f.Lba1)<<8 | uint64(f.Lba2)<<16 |
		uint64(f.Lba3)<<24 | uint64(f.Lba4)<<32 | uint64(f.Lba5)<<40
}

// SetLBA splits startl:starth into the six address bytes. Only the low 16 bits
// of starth are representable.
func (f *FisRegH2D) SetLBA(startl, starth uint32) {
	f.Lba0 = uint8(startl)
	f.Lba1 = uint8(startl >> 8)
	f.Lba2 = uint8(startl >> 16)
	f.Lba3 = uint8(startl >> 24)
	f.Lba4 = uint8(starth)
	f.Lba5 = uint8(starth >> 8)
}

func setBit8(b, mask uint8, v bool) uint8 {
	if v {
		return b | mask
	}
	return b &^ mask
}

// DecodeCommandHeader reads a header from b.
func DecodeCommandHeader(b []byte) (CommandHeader, error) {
	var h CommandHeader
	if _, err := binary.Decode(b, binary.LittleEndian, &h); err != nil {
		return CommandHeader{}, fmt.Errorf("decode command header: %w", err)
	}
	return h, nil
}

// Encode writes the header into b.
func (h *CommandHeader) Encode(b []byte) error {
	if _, err := binary.Encode(b, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("encode command header: %w", err)
	}
	return nil
}

// DecodeCommandTable reads a table from b.
func DecodeCommandTable(b []byte) (CommandTable, error) {
	var t CommandTable
	if _, err := binary.Decode(b, binary.LittleEndian, &t); err != nil {
		return CommandTable{}, fmt.Errorf("decode command table: %w", err)
	}
	return t, nil
}

// Encode writes the table into b.
func (t *CommandTable) Encode(b []byte) error {
	if _, err := binary.Encode(b, binary.LittleEndian, t); err != nil {
		return fmt.Errorf("encode command table: %w", err)
	}
	return nil
}

// SetFIS stores f in the command FIS area.
func (t *CommandTable) SetFIS(f *FisRegH2D) error {
	if _, err := binary.Encode(t.Cfis[:], binary.LittleEndian, f); err != nil {
		return fmt.Errorf("encode register fis: %w", err)
	}
	return nil
}

// FIS decodes the command FIS area as a host-to-device register FIS.
func (t *CommandTable) FIS() (FisRegH2D, error) {
	var f FisRegH2D
	if _, err := binary.Decode(t.Cfis[:], binary.LittleEndian, &f); err != nil {
		return FisRegH2D{}, fmt.Errorf("decode register fis: %w", err)
	}
	return f, nil
}
