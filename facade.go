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

// Callback-style adapters over the blocking operations. Each Go* method
// runs the operation on its own goroutine and delivers the result to the
// callback; the engine still runs one transaction at a time, so concurrent
// calls queue behind each other.

// GoReadCoils is the callback form of ReadCoils.
func (c *Client) GoReadCoils(address, quantity uint16, cb func(*CoilsResult, error)) {
	go func() { cb(c.ReadCoils(address, quantity)) }()
}

// GoReadDiscreteInputs is the callback form of ReadDiscreteInputs.
func (c *Client) GoReadDiscreteInputs(address, quantity uint16, cb func(*CoilsResult, error)) {
	go func() { cb(c.ReadDiscreteInputs(address, quantity)) }()
}

// GoReadHoldingRegisters is the callback form of ReadHoldingRegisters.
func (c *Client) GoReadHoldingRegisters(address, quantity uint16, cb func(*RegistersResult, error)) {
	go func() { cb(c.ReadHoldingRegisters(address, quantity)) }()
}

// GoReadInputRegisters is the callback form of ReadInputRegisters.
func (c *Client) GoReadInputRegisters(address, quantity uint16, cb func(*RegistersResult, error)) {
	go func() { cb(c.ReadInputRegisters(address, quantity)) }()
}

// GoReadHoldingRegistersEnron is the callback form of ReadHoldingRegistersEnron.
func (c *Client) GoReadHoldingRegistersEnron(address, quantity uint16, cb func(*EnronRegistersResult, error)) {
	go func() { cb(c.ReadHoldingRegistersEnron(address, quantity)) }()
}

// GoWriteCoil is the callback form of WriteCoil.
func (c *Client) GoWriteCoil(address uint16, state bool, cb func(*WriteCoilResult, error)) {
	go func() { cb(c.WriteCoil(address, state)) }()
}

// GoWriteCoils is the callback form of WriteCoils.
func (c *Client) GoWriteCoils(address uint16, states []bool, cb func(*WriteMultipleResult, error)) {
	go func() { cb(c.WriteCoils(address, states)) }()
}

// GoWriteRegister is the callback form of WriteRegister.
func (c *Client) GoWriteRegister(address, value uint16, cb func(*WriteRegisterResult, error)) {
	go func() { cb(c.WriteRegister(address, value)) }()
}

// GoWriteRegisterEnron is the callback form of WriteRegisterEnron.
func (c *Client) GoWriteRegisterEnron(address uint16, value uint32, cb func(*WriteRegisterResult, error)) {
	go func() { cb(c.WriteRegisterEnron(address, value)) }()
}

// GoWriteRegisters is the callback form of WriteRegisters.
func (c *Client) GoWriteRegisters(address uint16, values []uint16, cb func(*WriteMultipleResult, error)) {
	go func() { cb(c.WriteRegisters(address, values)) }()
}

// GoReadFileRecords is the callback form of ReadFileRecords.
func (c *Client) GoReadFileRecords(fileNumber, recordNumber uint16, recordLength, refType uint8, cb func(*FileRecordResult, error)) {
	go func() { cb(c.ReadFileRecords(fileNumber, recordNumber, recordLength, refType)) }()
}

// GoReadExceptionStatus is the callback form of ReadExceptionStatus.
func (c *Client) GoReadExceptionStatus(cb func(*ExceptionStatusResult, error)) {
	go func() { cb(c.ReadExceptionStatus()) }()
}

// GoReadDeviceIdentification is the callback form of ReadDeviceIdentification.
func (c *Client) GoReadDeviceIdentification(deviceIDCode, objectID uint8, cb func(*DeviceIdentification, error)) {
	go func() { cb(c.ReadDeviceIdentification(deviceIDCode, objectID)) }()
}

// GoReadCompressed is the callback form of ReadCompressed.
func (c *Client) GoReadCompressed(pnus []uint16, cb func(*CompressedResult, error)) {
	go func() { cb(c.ReadCompressed(pnus)) }()
}
