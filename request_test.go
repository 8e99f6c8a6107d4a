package modbus

import (
	"bytes"
	"testing"
)

func TestBuildReadBitsFrame(t *testing.T) {
	req := buildReadBits(0x11, FuncCodeReadCoils, 0x0013, 0x25)
	want := []byte{0x11, 0x01, 0x00, 0x13, 0x00, 0x25, 0x0E, 0x84}
	if !bytes.Equal(req.frame, want) {
		t.Errorf("frame: got % X, want % X", req.frame, want)
	}
	// 3 header bytes + ceil(37/8) bitmap bytes + CRC
	if req.expected != 3+5+2 {
		t.Errorf("expected length: got %d, want 10", req.expected)
	}
	if req.quantity != 0x25 {
		t.Errorf("quantity: got %d, want 37", req.quantity)
	}
}

func TestBuildReadRegistersFrame(t *testing.T) {
	req := buildReadRegisters(0x11, FuncCodeReadHoldingRegisters, 0x006B, 2, nil)
	want := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x02, 0xB7, 0x47}
	if !bytes.Equal(req.frame, want) {
		t.Errorf("frame: got % X, want % X", req.frame, want)
	}
	if req.expected != 9 {
		t.Errorf("expected length: got %d, want 9", req.expected)
	}
	if req.enronAddress != -1 {
		t.Errorf("enron address: got %d, want -1", req.enronAddress)
	}
}

func TestBuildReadRegistersEnronWidth(t *testing.T) {
	enron := DefaultEnronConfig()

	// long range register: 4 bytes per register
	req := buildReadRegisters(1, FuncCodeReadHoldingRegisters, 5010, 2, &enron)
	if req.expected != 3+4*2+2 {
		t.Errorf("long range expected length: got %d, want 13", req.expected)
	}

	// short range register keeps the 16-bit width
	req = buildReadRegisters(1, FuncCodeReadHoldingRegisters, 3005, 2, &enron)
	if req.expected != 3+2*2+2 {
		t.Errorf("short range expected length: got %d, want 9", req.expected)
	}
}

func TestBuildWriteCoilFrame(t *testing.T) {
	req := buildWriteCoil(0x11, 0x00AC, true)
	if req.frame[2] != 0x00 || req.frame[3] != 0xAC || req.frame[4] != 0xFF || req.frame[5] != 0x00 {
		t.Errorf("on-state PDU: got % X", req.frame)
	}
	if req.expected != 8 {
		t.Errorf("expected length: got %d, want 8", req.expected)
	}

	req = buildWriteCoil(0x11, 0x00AC, false)
	if req.frame[4] != 0x00 || req.frame[5] != 0x00 {
		t.Errorf("off-state PDU: got % X", req.frame)
	}

	// broadcast writes expect no response
	req = buildWriteCoil(0, 0x00AC, true)
	if req.expected != 0 {
		t.Errorf("broadcast expected length: got %d, want 0", req.expected)
	}
}

func TestBuildWriteRegisterFrames(t *testing.T) {
	req := buildWriteRegister(1, 0x0001, 0x0003)
	if len(req.frame) != 8 || req.expected != 8 {
		t.Errorf("standard write: frame %d bytes, expected %d", len(req.frame), req.expected)
	}

	req = buildWriteRegisterEnron(1, 5017, 0x00010002)
	if len(req.frame) != 10 || req.expected != 10 {
		t.Errorf("enron write: frame %d bytes, expected %d", len(req.frame), req.expected)
	}
	if req.frame[4] != 0x00 || req.frame[5] != 0x01 || req.frame[6] != 0x00 || req.frame[7] != 0x02 {
		t.Errorf("enron value bytes: got % X", req.frame[4:8])
	}
}

func TestBuildWriteCoilsFrame(t *testing.T) {
	req := buildWriteCoils(1, 0x0013, []bool{true, false, true, true, false, false, true, true, true, false})
	// addr(2) qty(2) count(1) data(2) after unit+fc, then CRC
	if len(req.frame) != 2+5+2+2 {
		t.Fatalf("frame length: got %d, want 11", len(req.frame))
	}
	if req.frame[4] != 0x00 || req.frame[5] != 0x0A {
		t.Errorf("quantity field: got % X", req.frame[4:6])
	}
	if req.frame[6] != 2 {
		t.Errorf("byte count: got %d, want 2", req.frame[6])
	}
	if req.frame[7] != 0xCD || req.frame[8] != 0x01 {
		t.Errorf("coil bitmap: got % X, want CD 01", req.frame[7:9])
	}
	if req.expected != 8 {
		t.Errorf("expected length: got %d, want 8", req.expected)
	}
}

func TestBuildWriteRegistersBytes(t *testing.T) {
	req, err := buildWriteRegistersBytes(1, 0x0001, []byte{0x00, 0x0A, 0x01, 0x02})
	if err != nil {
		t.Fatalf("buildWriteRegistersBytes failed: %v", err)
	}
	if req.frame[4] != 0x00 || req.frame[5] != 0x02 {
		t.Errorf("quantity field: got % X, want 00 02", req.frame[4:6])
	}
	if req.frame[6] != 4 {
		t.Errorf("byte count: got %d, want 4", req.frame[6])
	}
	if !bytes.Equal(req.frame[7:11], []byte{0x00, 0x0A, 0x01, 0x02}) {
		t.Errorf("register bytes not emitted verbatim: % X", req.frame[7:11])
	}

	if _, err := buildWriteRegistersBytes(1, 0, []byte{0x01}); err == nil {
		t.Error("odd-length buffer accepted")
	}
}

func TestBuildReadExceptionStatusFrame(t *testing.T) {
	req := buildReadExceptionStatus(0x11)
	if len(req.frame) != 4 {
		t.Errorf("frame length: got %d, want 4", len(req.frame))
	}
	if req.expected != 5 {
		t.Errorf("expected length: got %d, want 5", req.expected)
	}
}

func TestBuildReadFileRecordFrame(t *testing.T) {
	req := buildReadFileRecord(1, 7, 0x0004, 0x0001, 3)
	// unit fc count ref file(2) record(2) len(2) crc(2)
	if len(req.frame) != 12 {
		t.Fatalf("frame length: got %d, want 12", len(req.frame))
	}
	if req.frame[2] != 7 {
		t.Errorf("sub-request byte count: got %d, want 7", req.frame[2])
	}
	if req.frame[3] != 7 {
		t.Errorf("reference type: got %d, want 7", req.frame[3])
	}
	if req.expected != 5+2*3+2 {
		t.Errorf("expected length: got %d, want 13", req.expected)
	}
}

func TestBuildReadDeviceIDFrame(t *testing.T) {
	req := buildReadDeviceID(0x11, DeviceIDBasic, 0x00)
	want := []byte{0x11, 0x2B, 0x0E, 0x01, 0x00}
	if !bytes.Equal(req.frame[:5], want) {
		t.Errorf("frame head: got % X, want % X", req.frame[:5], want)
	}
	if req.expected != lengthUnknown {
		t.Errorf("expected length: got %d, want lengthUnknown", req.expected)
	}
}

func TestBuildReadCompressedFrame(t *testing.T) {
	req := buildReadCompressed(1, []uint16{100, 200, 300})
	if req.frame[2] != 3 {
		t.Errorf("point count: got %d, want 3", req.frame[2])
	}
	if len(req.frame) != 2+1+6+2 {
		t.Errorf("frame length: got %d, want 11", len(req.frame))
	}
	if req.expected != 4+2*3+3 {
		t.Errorf("expected length: got %d, want 13", req.expected)
	}
}

func TestAllFramesCarryValidCRC(t *testing.T) {
	enron := DefaultEnronConfig()
	frames := [][]byte{
		buildReadBits(1, FuncCodeReadCoils, 0, 8).frame,
		buildReadBits(1, FuncCodeReadDiscreteInputs, 0, 8).frame,
		buildReadRegisters(1, FuncCodeReadHoldingRegisters, 0, 1, nil).frame,
		buildReadRegisters(1, FuncCodeReadInputRegisters, 0, 1, &enron).frame,
		buildWriteCoil(1, 0, true).frame,
		buildWriteRegister(1, 0, 1).frame,
		buildWriteRegisterEnron(1, 5001, 1).frame,
		buildWriteCoils(1, 0, []bool{true, false}).frame,
		buildWriteRegisters(1, 0, []uint16{1, 2}).frame,
		buildReadExceptionStatus(1).frame,
		buildReadFileRecord(1, 0, 1, 1, 4).frame,
		buildReadDeviceID(1, 1, 0).frame,
		buildReadCompressed(1, []uint16{1}).frame,
	}
	for i, frame := range frames {
		if !VerifyCRC(frame) {
			t.Errorf("frame %d has invalid CRC: % X", i, frame)
		}
	}
}
