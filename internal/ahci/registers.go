package ahci

import "unsafe"

// hbaRegs is the generic host control block at the start of ABAR.
type hbaRegs struct {
	Cap      uint32 // host capabilities
	Ghc      uint32 // global host control
	Is       uint32 // interrupt status
	Pi       uint32 // ports implemented
	Vs       uint32 // version
	CccCtl   uint32 // command completion coalescing control
	CccPorts uint32 // command completion coalescing ports
	EmLoc    uint32 // enclosure management location
	EmCtl    uint32 // enclosure management control
	Cap2     uint32 // extended host capabilities
	Bohc     uint32 // BIOS/OS handoff control and status
	Reserved [0xA0 - 0x2C]byte
	Vendor   [0x100 - 0xA0]byte
}

// portRegs is one port's register block.
type portRegs struct {
	Clb       uint32 // command list base, low
	Clbu      uint32 // command list base, high
	Fb        uint32 // FIS base, low
	Fbu       uint32 // FIS base, high
	Is        uint32 // interrupt status
	Ie        uint32 // interrupt enable
	Cmd       uint32 // command and status
	Reserved0 uint32
	Tfd       uint32 // task file data
	Sig       uint32 // signature
	Ssts      uint32 // SStatus
	Sctl      uint32 // SControl
	Serr      uint32 // SError
	Sact      uint32 // SActive
	Ci        uint32 // command issue
	Sntf      uint32 // SNotification
	Fbs       uint32 // FIS-based switching control
	Reserved1 [11]uint32
	Vendor    [4]uint32
}

const (
	hbaRegsSize  = 0x100
	portRegsSize = 0x80

	// MaxPorts is the number of port blocks an HBA can expose.
	MaxPorts = 32

	// ABARSize covers the host control block and every port block.
	ABARSize = hbaRegsSize + MaxPorts*portRegsSize
)

var (
	_ [unsafe.Sizeof(hbaRegs{}) - hbaRegsSize]struct{}
	_ [hbaRegsSize - unsafe.Sizeof(hbaRegs{})]struct{}
	_ [unsafe.Sizeof(portRegs{}) - portRegsSize]struct{}
	_ [portRegsSize - unsafe.Sizeof(portRegs{})]struct{}
)

// Host control register offsets.
const (
	RegCAP  = unsafe.Offsetof(hbaRegs{}.Cap)
	RegGHC  = unsafe.Offsetof(hbaRegs{}.Ghc)
	RegIS   = unsafe.Offsetof(hbaRegs{}.Is)
	RegPI   = unsafe.Offsetof(hbaRegs{}.Pi)
	RegVS   = unsafe.Offsetof(hbaRegs{}.Vs)
	RegCAP2 = unsafe.Offsetof(hbaRegs{}.Cap2)
	RegBOHC = unsafe.Offsetof(hbaRegs{}.Bohc)
)

// Port register offsets, relative to the port block.
const (
	PortRegCLB  = unsafe.Offsetof(portRegs{}.Clb)
	PortRegCLBU = unsafe.Offsetof(portRegs{}.Clbu)
	PortRegFB   = unsafe.Offsetof(portRegs{}.Fb)
	PortRegFBU  = unsafe.Offsetof(portRegs{}.Fbu)
	PortRegIS   = unsafe.Offsetof(portRegs{}.Is)
	PortRegIE   = unsafe.Offsetof(portRegs{}.Ie)
	PortRegCMD  = unsafe.Offsetof(portRegs{}.Cmd)
	PortRegTFD  = unsafe.Offsetof(portRegs{}.Tfd)
	PortRegSIG  = unsafe.Offsetof(portRegs{}.Sig)
	PortRegSSTS = unsafe.Offsetof(portRegs{}.Ssts)
	PortRegSCTL = unsafe.Offsetof(portRegs{}.Sctl)
	PortRegSERR = unsafe.Offsetof(portRegs{}.Serr)
	PortRegSACT = unsafe.Offsetof(portRegs{}.Sact)
	PortRegCI   = unsafe.Offsetof(portRegs{}.Ci)
	PortRegSNTF = unsafe.Offsetof(portRegs{}.Sntf)
	PortRegFBS  = unsafe.Offsetof(portRegs{}.Fbs)
)

// PortBase returns the offset of port n's register block within ABAR.
func PortBase(n int) uintptr {
	return hbaRegsSize + uintptr(n)*portRegsSize
}

// GHC bits.
const (
	GHCReset = 1 << 0
	GHCIE    = 1 << 1
	GHCAE    = 1 << 31
)

// PxCMD bits.
const (
	PortCmdST  = 1 << 0  // start
	PortCmdSUD = 1 << 1  // spin-up device
	PortCmdPOD = 1 << 2  // power on device
	PortCmdFRE = 1 << 4  // FIS receive enable
	PortCmdFR  = 1 << 14 // FIS receive running
	PortCmdCR  = 1 << 15 // command list running
)

// PxIS bits.
const (
	PortIntDHRS = 1 << 0  // D2H register FIS
	PortIntPSS  = 1 << 1  // PIO setup FIS
	PortIntDSS  = 1 << 2  // DMA setup FIS
	PortIntDPS  = 1 << 5  // descriptor processed
	PortIntTFES = 1 << 30 // task file error
)

// PxTFD status bits.
const (
	TFDStatusERR = 0x01
	TFDStatusDRQ = 0x08
	TFDStatusDRD = 0x40
	TFDStatusBSY = 0x80
)

// PxSSTS device detection.
const (
	SStatusDetMask    = 0x0F
	SStatusDetPresent = 0x03
)

// PxSIG values.
const (
	SigATA   = 0x00000101
	SigATAPI = 0xEB140101
	SigSEMB  = 0xC33C0101
	SigPM    = 0x96690101
)
