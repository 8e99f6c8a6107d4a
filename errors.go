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
	"errors"
	"fmt"
)

var (
	// ErrPortNotOpen is reported when a request is submitted while the
	// underlying port is closed.
	ErrPortNotOpen = errors.New("modbus: port not open")

	// ErrBadAddress is reported when a required address parameter is
	// missing or out of range.
	ErrBadAddress = errors.New("modbus: bad address")

	// ErrBroadcastNotAllowed is reported when the broadcast address is
	// used with a function code that requires a response.
	ErrBroadcastNotAllowed = errors.New("modbus: broadcast not allowed for this function")
)

// ModbusError is a well-formed exception response from a slave device.
type ModbusError struct {
	FunctionCode  FunctionCode // Base function code of the failed request
	ExceptionCode uint8        // Exception code 1-11
}

// Message returns the human-readable text for the exception code.
func (e *ModbusError) Message() string {
	return getExceptionMessage(e.ExceptionCode)
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception %d on function %d: %s",
		e.ExceptionCode, e.FunctionCode, e.Message())
}

// CRCError is reported when the trailing CRC of a frame does not match the
// value recomputed over its body.
type CRCError struct {
	Calculated uint16
	Received   uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("modbus: CRC mismatch: calculated=0x%04X, received=0x%04X",
		e.Calculated, e.Received)
}

// LengthError is reported when a frame's length does not match the expected
// length for a length-known transaction.
type LengthError struct {
	Expected int
	Actual   int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("modbus: invalid frame length: expected %d bytes, got %d",
		e.Expected, e.Actual)
}

// AddressMismatchError is reported when the responding slave id differs from
// the one the request targeted.
type AddressMismatchError struct {
	Expected uint8
	Actual   uint8
}

func (e *AddressMismatchError) Error() string {
	return fmt.Sprintf("modbus: response slave id mismatch: expected %d, got %d",
		e.Expected, e.Actual)
}

// FunctionMismatchError is reported when the response function code is
// neither the requested code nor its exception form.
type FunctionMismatchError struct {
	Expected FunctionCode
	Actual   FunctionCode
}

func (e *FunctionMismatchError) Error() string {
	return fmt.Sprintf("modbus: response function code mismatch: expected %d, got %d",
		e.Expected, e.Actual)
}

// TimeoutError is reported when no valid response arrived within the
// configured timeout. In debug mode it carries the original request bytes
// and whatever response chunks accumulated before the timer fired.
type TimeoutError struct {
	Trace
}

func (e *TimeoutError) Error() string {
	return "modbus: transaction timed out"
}

// TransportError relays an error emitted by the underlying port.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
