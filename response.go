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
	"bytes"
	"encoding/binary"
	"fmt"
)

// Trace captures the original request frame and the response chunks that
// produced a result. It is only populated when debug capture is enabled on
// the client.
type Trace struct {
	Request   []byte
	Responses [][]byte
}

// TraceData exposes the embedded trace; every result type implements
// Response through it.
func (t *Trace) TraceData() *Trace { return t }

// Response is implemented by all decoded result types.
type Response interface {
	TraceData() *Trace
}

// CoilsResult is the decoded form of an FC1/FC2 response.
type CoilsResult struct {
	Trace
	Data   []bool // coil states, request order
	Buffer []byte // raw coil bitmap bytes
}

// RegistersResult is the decoded form of an FC3/FC4 response with standard
// 16-bit registers.
type RegistersResult struct {
	Trace
	Data   []uint16
	Buffer []byte
}

// EnronRegistersResult is the decoded form of an Enron FC3 response. Values
// are 32-bit outside the short range and zero-extended 16-bit inside it.
type EnronRegistersResult struct {
	Trace
	Data   []uint32
	Buffer []byte
}

// WriteCoilResult echoes a completed FC5 write.
type WriteCoilResult struct {
	Trace
	Address uint16
	State   bool
}

// WriteRegisterResult echoes a completed FC6 write. Value is 16-bit except
// under Enron, where the device echoes the full 32-bit value.
type WriteRegisterResult struct {
	Trace
	Address uint16
	Value   uint32
}

// WriteMultipleResult echoes a completed FC15/FC16 write.
type WriteMultipleResult struct {
	Trace
	Address  uint16
	Quantity uint16
}

// FileRecordResult is the decoded form of an FC20 response. Only the first
// sub-request of a multi-record response is parsed. Text is set when the
// reference type marks the payload as ASCII (truncated at the first NUL).
type FileRecordResult struct {
	Trace
	Data   []byte
	Text   string
	Length uint8 // sub-request byte length as reported by the device
}

// DeviceIdentification is the merged result of one or more FC43 responses.
type DeviceIdentification struct {
	Trace
	Objects         map[uint8]string
	ConformityLevel uint8

	// continuation state, consumed by the FC43 driver
	moreFollows  uint8
	nextObjectID uint8
}

// CompressedResult is the decoded form of an FC65 response.
type CompressedResult struct {
	Trace
	Data       []int16
	ErrorFlags uint16 // per-point error bitmap
	Buffer     []byte
}

// ExceptionStatusResult is the decoded form of an FC7 response.
type ExceptionStatusResult struct {
	Trace
	Status uint8
}

// decodeResponse parses a validated response frame into the typed result
// matching the transaction's function code. The frame has already passed
// CRC, address, function and length checks.
func decodeResponse(tx *transaction, adu []byte, enron *EnronConfig) (Response, error) {
	switch tx.fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		return decodeBits(tx, adu)
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		return decodeRegisters(tx, adu, enron)
	case FuncCodeWriteSingleCoil:
		return decodeWriteCoil(adu)
	case FuncCodeWriteSingleRegister:
		return decodeWriteRegister(adu)
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegs:
		return decodeWriteMultiple(adu)
	case FuncCodeReadExceptionStatus:
		return decodeExceptionStatus(adu)
	case FuncCodeReadFileRecord:
		return decodeFileRecord(adu)
	case FuncCodeReadDeviceID:
		return decodeDeviceID(adu)
	case FuncCodeReadCompressed:
		return decodeCompressed(adu)
	}
	return nil, fmt.Errorf("modbus: no decoder for function code %d", tx.fc)
}

func decodeBits(tx *transaction, adu []byte) (Response, error) {
	byteCount := int(adu[2])
	if len(adu) < 3+byteCount+2 {
		return nil, &LengthError{Expected: 3 + byteCount + 2, Actual: len(adu)}
	}
	bitmap := adu[3 : 3+byteCount]
	count := byteCount * 8
	if tx.quantity > 0 && int(tx.quantity) < count {
		count = int(tx.quantity)
	}
	buf := make([]byte, byteCount)
	copy(buf, bitmap)
	return &CoilsResult{Data: UnpackBits(bitmap, count), Buffer: buf}, nil
}

func decodeRegisters(tx *transaction, adu []byte, enron *EnronConfig) (Response, error) {
	byteCount := int(adu[2])
	if len(adu) < 3+byteCount+2 {
		return nil, &LengthError{Expected: 3 + byteCount + 2, Actual: len(adu)}
	}
	data := adu[3 : 3+byteCount]
	buf := make([]byte, byteCount)
	copy(buf, data)

	if tx.enronAddress >= 0 && enron != nil {
		width := enron.RegisterWidth(uint16(tx.enronAddress))
		if byteCount%width != 0 {
			return nil, fmt.Errorf("modbus: register data length %d is not a multiple of width %d", byteCount, width)
		}
		values := make([]uint32, byteCount/width)
		for i := range values {
			if width == 4 {
				values[i] = binary.BigEndian.Uint32(data[4*i : 4*i+4])
			} else {
				values[i] = uint32(binary.BigEndian.Uint16(data[2*i : 2*i+2]))
			}
		}
		return &EnronRegistersResult{Data: values, Buffer: buf}, nil
	}

	if byteCount%2 != 0 {
		return nil, fmt.Errorf("modbus: register data length must be even, got %d", byteCount)
	}
	values := make([]uint16, byteCount/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[2*i : 2*i+2])
	}
	return &RegistersResult{Data: values, Buffer: buf}, nil
}

func decodeWriteCoil(adu []byte) (Response, error) {
	return &WriteCoilResult{
		Address: binary.BigEndian.Uint16(adu[2:4]),
		State:   binary.BigEndian.Uint16(adu[4:6]) == 0xFF00,
	}, nil
}

func decodeWriteRegister(adu []byte) (Response, error) {
	res := &WriteRegisterResult{Address: binary.BigEndian.Uint16(adu[2:4])}
	if len(adu) >= 10 {
		// Enron echo carries a 32-bit value
		res.Value = binary.BigEndian.Uint32(adu[4:8])
	} else {
		res.Value = uint32(binary.BigEndian.Uint16(adu[4:6]))
	}
	return res, nil
}

func decodeWriteMultiple(adu []byte) (Response, error) {
	return &WriteMultipleResult{
		Address:  binary.BigEndian.Uint16(adu[2:4]),
		Quantity: binary.BigEndian.Uint16(adu[4:6]),
	}, nil
}

func decodeExceptionStatus(adu []byte) (Response, error) {
	return &ExceptionStatusResult{Status: adu[2]}, nil
}

func decodeFileRecord(adu []byte) (Response, error) {
	if len(adu) < 7 {
		return nil, &LengthError{Expected: 7, Actual: len(adu)}
	}
	subLength := adu[3]
	refType := adu[4]
	if subLength == 0 || len(adu) < 5+int(subLength)-1+2 {
		return nil, fmt.Errorf("modbus: file record response truncated: sub-request length %d in %d-byte frame", subLength, len(adu))
	}
	payload := make([]byte, int(subLength)-1)
	copy(payload, adu[5:5+int(subLength)-1])

	res := &FileRecordResult{Data: payload, Length: subLength}
	if refType == 7 {
		text := payload
		if i := bytes.IndexByte(text, 0); i >= 0 {
			text = text[:i]
		}
		res.Text = string(text)
	}
	return res, nil
}

func decodeDeviceID(adu []byte) (Response, error) {
	if len(adu) < 8+2 {
		return nil, &LengthError{Expected: 10, Actual: len(adu)}
	}
	res := &DeviceIdentification{
		Objects:         make(map[uint8]string),
		ConformityLevel: adu[4],
		moreFollows:     adu[5],
		nextObjectID:    adu[6],
	}
	numObjects := int(adu[7])
	offset := 8
	for i := 0; i < numObjects; i++ {
		if offset+2 > len(adu)-2 {
			return nil, fmt.Errorf("modbus: device id response truncated at object %d", i)
		}
		objectID := adu[offset]
		objectLen := int(adu[offset+1])
		offset += 2
		if offset+objectLen > len(adu)-2 {
			return nil, fmt.Errorf("modbus: device id object %d overruns frame", objectID)
		}
		res.Objects[objectID] = string(adu[offset : offset+objectLen])
		offset += objectLen
	}
	return res, nil
}

func decodeCompressed(adu []byte) (Response, error) {
	byteCount := int(adu[2])
	if byteCount < 2 || len(adu) < 3+byteCount+2 {
		return nil, &LengthError{Expected: 3 + byteCount + 2, Actual: len(adu)}
	}
	values := make([]int16, (byteCount-2)/2)
	for i := range values {
		values[i] = int16(binary.BigEndian.Uint16(adu[5+2*i : 7+2*i]))
	}
	buf := make([]byte, byteCount)
	copy(buf, adu[3:3+byteCount])
	return &CompressedResult{
		Data:       values,
		ErrorFlags: binary.BigEndian.Uint16(adu[3:5]),
		Buffer:     buf,
	}, nil
}
