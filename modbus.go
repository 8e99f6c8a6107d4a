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

// Package modbus implements a Modbus master (client) for RTU framed
// transports, with TCP (MBAP) and RTU-over-TCP ports layered on the same
// transaction engine.
package modbus

// FunctionCode selects a Modbus operation. Responses set the high bit to
// signal an exception.
type FunctionCode uint8

const (
	FuncCodeReadCoils            FunctionCode = 1
	FuncCodeReadDiscreteInputs   FunctionCode = 2
	FuncCodeReadHoldingRegisters FunctionCode = 3
	FuncCodeReadInputRegisters   FunctionCode = 4
	FuncCodeWriteSingleCoil      FunctionCode = 5
	FuncCodeWriteSingleRegister  FunctionCode = 6
	FuncCodeReadExceptionStatus  FunctionCode = 7
	FuncCodeWriteMultipleCoils   FunctionCode = 15
	FuncCodeWriteMultipleRegs    FunctionCode = 16
	FuncCodeReadFileRecord       FunctionCode = 20
	FuncCodeReadDeviceID         FunctionCode = 43
	FuncCodeReadCompressed       FunctionCode = 65
)

// IsException reports whether fc carries the exception marker bit.
func (fc FunctionCode) IsException() bool {
	return fc&0x80 != 0
}

// Base strips the exception marker bit.
func (fc FunctionCode) Base() FunctionCode {
	return fc & 0x7F
}

const (
	// MEITypeDeviceID is the MEI type byte carried by FC43 requests.
	MEITypeDeviceID = 0x0E

	// MinFrameLength is the shortest valid RTU frame: slave id, function
	// code, one data byte, two CRC bytes. Exception frames are exactly
	// this long.
	MinFrameLength = 5

	// MaxFrameLength bounds a Modbus RTU frame.
	MaxFrameLength = 256

	// MaxPDULength is the maximum PDU length according to the Modbus spec.
	MaxPDULength = 253

	// BroadcastAddress targets every slave on the bus; no response follows.
	BroadcastAddress = 0

	// MaxSlaveAddress is the highest addressable unit id.
	MaxSlaveAddress = 247

	// MaxCompressedPNUs bounds the point numbers in one FC65 request.
	MaxCompressedPNUs = 16
)

// Modbus exception codes.
const (
	ExceptionCodeIllegalFunction              = 1
	ExceptionCodeIllegalDataAddress           = 2
	ExceptionCodeIllegalDataValue             = 3
	ExceptionCodeSlaveDeviceFailure           = 4
	ExceptionCodeAcknowledge                  = 5
	ExceptionCodeSlaveDeviceBusy              = 6
	ExceptionCodeNegativeAcknowledge          = 7
	ExceptionCodeMemoryParityError            = 8
	ExceptionCodeGatewayPathUnavailable       = 10
	ExceptionCodeGatewayTargetFailedToRespond = 11
)

// getExceptionMessage returns a human-readable message for a Modbus exception code.
func getExceptionMessage(exceptionCode uint8) string {
	switch exceptionCode {
	case ExceptionCodeIllegalFunction:
		return "Illegal function (device does not support this read/write function)"
	case ExceptionCodeIllegalDataAddress:
		return "Illegal data address (register not supported by device)"
	case ExceptionCodeIllegalDataValue:
		return "Illegal data value (value cannot be written to this register)"
	case ExceptionCodeSlaveDeviceFailure:
		return "Slave device failure (device reports internal error)"
	case ExceptionCodeAcknowledge:
		return "Acknowledge (requested data will be available later)"
	case ExceptionCodeSlaveDeviceBusy:
		return "Slave device busy (retry request again later)"
	case ExceptionCodeNegativeAcknowledge:
		return "Negative acknowledge (requested function cannot be performed)"
	case ExceptionCodeMemoryParityError:
		return "Memory parity error (device reports memory error)"
	case ExceptionCodeGatewayPathUnavailable:
		return "Gateway path unavailable (misconfigured gateway)"
	case ExceptionCodeGatewayTargetFailedToRespond:
		return "Gateway target device failed to respond"
	default:
		return "Unknown exception code"
	}
}
