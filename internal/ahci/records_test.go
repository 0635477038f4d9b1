package ahci

import (
	"encoding/binary"
	"testing"
)

func TestRecordSizes(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int
	}{
		{"CommandHeader", CommandHeader{}, CommandHeaderSize},
		{"PrdtEntry", PrdtEntry{}, PrdtEntrySize},
		{"FisRegH2D", FisRegH2D{}, FisRegH2DSize},
		{"CommandTable", CommandTable{}, CommandTableSize},
	}
	for _, tt := range tests {
		if got := binary.Size(tt.v); got != tt.want {
			t.Errorf("%s: encoded size %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestRegisterOffsets(t *testing.T) {
	offsets := map[string][2]uintptr{
		"CLB":  {PortRegCLB, 0x00},
		"FB":   {PortRegFB, 0x08},
		"IS":   {PortRegIS, 0x10},
		"CMD":  {PortRegCMD, 0x18},
		"TFD":  {PortRegTFD, 0x20},
		"SSTS": {PortRegSSTS, 0x28},
		"SACT": {PortRegSACT, 0x34},
		"CI":   {PortRegCI, 0x38},
		"FBS":  {PortRegFBS, 0x40},
		"PI":   {RegPI, 0x0C},
		"BOHC": {RegBOHC, 0x28},
	}
	for name, o := range offsets {
		if o[0] != o[1] {
			t.Errorf("%s at %#x, want %#x", name, o[0], o[1])
		}
	}
	if PortBase(3) != 0x280 {
		t.Errorf("PortBase(3)=%#x", PortBase(3))
	}
}

func TestCommandHeaderBits(t *testing.T) {
	var h CommandHeader
	h.SetCommandFISLength(FisRegH2DSize / 4)
	h.SetWrite(true)
	h.SetClearBusy(true)
	h.SetPortMultiplier(0xA)
	h.Prdtl = 2
	h.Ctba = 0x1_2345_6780

	b := make([]byte, CommandHeaderSize)
	if err := h.Encode(b); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if b[0] != 0x45 {
		t.Errorf("byte0=%#x, want 0x45", b[0])
	}
	if b[1] != 0xA4 {
		t.Errorf("byte1=%#x, want 0xa4", b[1])
	}
	if got := binary.LittleEndian.Uint16(b[2:]); got != 2 {
		t.Errorf("prdtl=%d", got)
	}
	if got := binary.LittleEndian.Uint64(b[8:]); got != 0x1_2345_6780 {
		t.Errorf("ctba=%#x", got)
	}

	back, err := DecodeCommandHeader(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !back.Write() || !back.ClearBusy() || back.ATAPI() || back.Prefetch() || back.CommandFISLength() != 5 {
		t.Errorf("decoded flags wrong: %+v", back)
	}
	back.SetWrite(false)
	if back.Write() || back.CommandFISLength() != 5 {
		t.Errorf("clearing W disturbed CFL: %#x", back.Flags0)
	}
}

func TestPrdtEntryByteCount(t *testing.T) {
	var e PrdtEntry
	e.SetByteCount(8192)
	e.SetInterruptOnCompletion(true)
	if e.Dw3 != 0x8000_1FFF {
		t.Fatalf("dw3=%#x, want 0x80001fff", e.Dw3)
	}
	if e.ByteCount() != 8192 {
		t.Errorf("ByteCount=%d", e.ByteCount())
	}
	e.SetByteCount(512)
	if e.Dw3 != 0x8000_01FF {
		t.Errorf("dw3=%#x after resize", e.Dw3)
	}
	e.SetAddress(0x2_0000_1000)
	if e.Dba != 0x1000 || e.Dbau != 2 {
		t.Errorf("dba=%#x dbau=%#x", e.Dba, e.Dbau)
	}
	e.SetByteCount(MaxPrdtBytes)
	if e.Dw3&0x3F_FFFF != 0x3F_FFFF || e.ByteCount() != MaxPrdtBytes {
		t.Errorf("dw3=%#x ByteCount=%d at the 4 MiB limit", e.Dw3, e.ByteCount())
	}
}

func TestFisLBASplit(t *testing.T) {
	f := FisRegH2D{Type: FisTypeRegH2D, Command: ATACmdReadDMAExt, Device: ATADeviceLBA, Count: 17}
	f.SetCommand(true)
	f.SetLBA(0x12345678, 0x9ABC)

	var tbl CommandTable
	if err := tbl.SetFIS(&f); err != nil {
		t.Fatalf("SetFIS: %v", err)
	}
	want := []byte{0x27, 0x80, 0x25, 0x00, 0x78, 0x56, 0x34, 0x40, 0x12, 0xBC, 0x9A, 0x00, 17, 0}
	for i, w := range want {
		if tbl.Cfis[i] != w {
			t.Fatalf("cfis[%d]=%#x, want %#x (cfis=% x)", i, tbl.Cfis[i], w, tbl.Cfis[:FisRegH2DSize])
		}
	}
	got, err := tbl.FIS()
	if err != nil {
		t.Fatalf("FIS: %v", err)
	}
	if got.LBA() != 0x9ABC_1234_5678 || !got.IsCommand() {
		t.Errorf("decoded lba=%#x command=%v", got.LBA(), got.IsCommand())
	}

	tbl.Prdt[7].SetAddress(0x1234_5000)
	tbl.Prdt[7].SetByteCount(4096)
	b := make([]byte, CommandTableSize)
	if err := tbl.Encode(b); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if b[0x80+7*PrdtEntrySize+1] != 0x50 {
		t.Errorf("prdt[7] not at offset %#x", 0x80+7*PrdtEntrySize)
	}
	back, err := DecodeCommandTable(b)
	if err != nil {
		t.Fatalf("DecodeCommandTable: %v", err)
	}
	if back != tbl {
		t.Errorf("decoded table differs from the encoded one")
	}
	if _, err := DecodeCommandTable(b[:CommandTableSize-1]); err == nil {
		t.Errorf("expected error decoding a short table")
	}
}

