// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// lengthUnknown marks a transaction whose response length cannot be known
// up front (FC43; FC20 at the port layer).
const lengthUnknown = -1

// request is an encoded RTU frame plus the correlation expectations the
// transaction engine needs to validate its response.
type request struct {
	frame        []byte
	slaveID      uint8
	fc           FunctionCode
	expected     int    // full response frame length; lengthUnknown when variable; 0 for broadcast writes
	enronAddress int    // data address used for Enron width selection; -1 when not applicable
	quantity     uint16 // requested bit count for FC1/FC2, used to trim the decoded bitmap
}

// buildFrame assembles a complete RTU frame: slave id, function code, PDU
// data, CRC (low byte first).
func buildFrame(slaveID uint8, fc FunctionCode, pduData []byte) []byte {
	frame := make([]byte, 0, 2+len(pduData)+2)
	frame = append(frame, slaveID, byte(fc))
	frame = append(frame, pduData...)
	return AppendCRC(frame)
}

// writeExpected returns the expected response length for a write request:
// zero on broadcast, n otherwise.
func writeExpected(slaveID uint8, n int) int {
	if slaveID == BroadcastAddress {
		return 0
	}
	return n
}

// buildReadBits encodes FC1/FC2: start address and quantity, both big
// endian. The response carries ceil(quantity/8) bitmap bytes.
func buildReadBits(slaveID uint8, fc FunctionCode, address, quantity uint16) request {
	pdu := make([]byte, 4)
	binary.BigEndian.PutUint16(pdu[0:2], address)
	binary.BigEndian.PutUint16(pdu[2:4], quantity)
	return request{
		frame:        buildFrame(slaveID, fc, pdu),
		slaveID:      slaveID,
		fc:           fc,
		expected:     3 + int(quantity+7)/8 + 2,
		enronAddress: -1,
		quantity:     quantity,
	}
}

// buildReadRegisters encodes FC3/FC4. Under Enron the register width is 4
// bytes for any address outside the short range.
func buildReadRegisters(slaveID uint8, fc FunctionCode, address, quantity uint16, enron *EnronConfig) request {
	width := 2
	enronAddress := -1
	if enron != nil {
		width = enron.RegisterWidth(address)
		enronAddress = int(address)
	}
	pdu := make([]byte, 4)
	binary.BigEndian.PutUint16(pdu[0:2], address)
	binary.BigEndian.PutUint16(pdu[2:4], quantity)
	return request{
		frame:        buildFrame(slaveID, fc, pdu),
		slaveID:      slaveID,
		fc:           fc,
		expected:     3 + width*int(quantity) + 2,
		enronAddress: enronAddress,
	}
}

// buildWriteCoil encodes FC5. The on state is 0xFF00, off is 0x0000.
func buildWriteCoil(slaveID uint8, address uint16, state bool) request {
	pdu := make([]byte, 4)
	binary.BigEndian.PutUint16(pdu[0:2], address)
	if state {
		binary.BigEndian.PutUint16(pdu[2:4], 0xFF00)
	}
	return request{
		frame:        buildFrame(slaveID, FuncCodeWriteSingleCoil, pdu),
		slaveID:      slaveID,
		fc:           FuncCodeWriteSingleCoil,
		expected:     writeExpected(slaveID, 8),
		enronAddress: -1,
	}
}

// buildWriteRegister encodes FC6 with the standard 16-bit value.
func buildWriteRegister(slaveID uint8, address, value uint16) request {
	pdu := make([]byte, 4)
	binary.BigEndian.PutUint16(pdu[0:2], address)
	binary.BigEndian.PutUint16(pdu[2:4], value)
	return request{
		frame:        buildFrame(slaveID, FuncCodeWriteSingleRegister, pdu),
		slaveID:      slaveID,
		fc:           FuncCodeWriteSingleRegister,
		expected:     writeExpected(slaveID, 8),
		enronAddress: -1,
	}
}

// buildWriteRegisterEnron encodes FC6 with a 32-bit value. The echo
// response is two bytes longer than the standard form.
func buildWriteRegisterEnron(slaveID uint8, address uint16, value uint32) request {
	pdu := make([]byte, 6)
	binary.BigEndian.PutUint16(pdu[0:2], address)
	binary.BigEndian.PutUint32(pdu[2:6], value)
	return request{
		frame:        buildFrame(slaveID, FuncCodeWriteSingleRegister, pdu),
		slaveID:      slaveID,
		fc:           FuncCodeWriteSingleRegister,
		expected:     writeExpected(slaveID, 10),
		enronAddress: int(address),
	}
}

// buildWriteCoils encodes FC15: address, quantity, byte count and the
// packed coil bitmap.
func buildWriteCoils(slaveID uint8, address uint16, values []bool) request {
	packed := PackBits(values)
	pdu := make([]byte, 5, 5+len(packed))
	binary.BigEndian.PutUint16(pdu[0:2], address)
	binary.BigEndian.PutUint16(pdu[2:4], uint16(len(values)))
	pdu[4] = byte(len(packed))
	pdu = append(pdu, packed...)
	return request{
		frame:        buildFrame(slaveID, FuncCodeWriteMultipleCoils, pdu),
		slaveID:      slaveID,
		fc:           FuncCodeWriteMultipleCoils,
		expected:     writeExpected(slaveID, 8),
		enronAddress: -1,
	}
}

// buildWriteRegisters encodes FC16 from 16-bit values.
func buildWriteRegisters(slaveID uint8, address uint16, values []uint16) request {
	pdu := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(pdu[0:2], address)
	binary.BigEndian.PutUint16(pdu[2:4], uint16(len(values)))
	pdu[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[5+2*i:7+2*i], v)
	}
	return request{
		frame:        buildFrame(slaveID, FuncCodeWriteMultipleRegs, pdu),
		slaveID:      slaveID,
		fc:           FuncCodeWriteMultipleRegs,
		expected:     writeExpected(slaveID, 8),
		enronAddress: -1,
	}
}

// buildWriteRegistersBytes encodes FC16 from a prebuilt register buffer,
// emitted verbatim. The quantity is len(data)/2.
func buildWriteRegistersBytes(slaveID uint8, address uint16, data []byte) (request, error) {
	if len(data) == 0 || len(data)%2 != 0 {
		return request{}, fmt.Errorf("modbus: register buffer must hold whole registers, got %d bytes", len(data))
	}
	pdu := make([]byte, 5, 5+len(data))
	binary.BigEndian.PutUint16(pdu[0:2], address)
	binary.BigEndian.PutUint16(pdu[2:4], uint16(len(data)/2))
	pdu[4] = byte(len(data))
	pdu = append(pdu, data...)
	return request{
		frame:        buildFrame(slaveID, FuncCodeWriteMultipleRegs, pdu),
		slaveID:      slaveID,
		fc:           FuncCodeWriteMultipleRegs,
		expected:     writeExpected(slaveID, 8),
		enronAddress: -1,
	}, nil
}

// buildReadExceptionStatus encodes FC7, which carries no PDU data.
func buildReadExceptionStatus(slaveID uint8) request {
	return request{
		frame:        buildFrame(slaveID, FuncCodeReadExceptionStatus, nil),
		slaveID:      slaveID,
		fc:           FuncCodeReadExceptionStatus,
		expected:     5,
		enronAddress: -1,
	}
}

// buildReadFileRecord encodes FC20 with a single sub-request of fixed
// 7-byte length.
func buildReadFileRecord(slaveID uint8, refType uint8, fileNumber, recordNumber uint16, recordLength uint8) request {
	pdu := make([]byte, 8)
	pdu[0] = 7 // sub-request byte count
	pdu[1] = refType
	binary.BigEndian.PutUint16(pdu[2:4], fileNumber)
	binary.BigEndian.PutUint16(pdu[4:6], recordNumber)
	binary.BigEndian.PutUint16(pdu[6:8], uint16(recordLength))
	return request{
		frame:        buildFrame(slaveID, FuncCodeReadFileRecord, pdu),
		slaveID:      slaveID,
		fc:           FuncCodeReadFileRecord,
		expected:     5 + 2*int(recordLength) + 2,
		enronAddress: -1,
	}
}

// buildReadDeviceID encodes FC43/14. The response length is unknown.
func buildReadDeviceID(slaveID uint8, deviceIDCode, objectID uint8) request {
	pdu := []byte{MEITypeDeviceID, deviceIDCode, objectID}
	return request{
		frame:        buildFrame(slaveID, FuncCodeReadDeviceID, pdu),
		slaveID:      slaveID,
		fc:           FuncCodeReadDeviceID,
		expected:     lengthUnknown,
		enronAddress: -1,
	}
}

// buildReadCompressed encodes FC65: a point count followed by up to 16
// point numbers.
func buildReadCompressed(slaveID uint8, pnus []uint16) request {
	pdu := make([]byte, 1+2*len(pnus))
	pdu[0] = byte(len(pnus))
	for i, pnu := range pnus {
		binary.BigEndian.PutUint16(pdu[1+2*i:3+2*i], pnu)
	}
	return request{
		frame:        buildFrame(slaveID, FuncCodeReadCompressed, pdu),
		slaveID:      slaveID,
		fc:           FuncCodeReadCompressed,
		expected:     4 + 2*len(pnus) + 3,
		enronAddress: -1,
	}
}
