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
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultTimeout is the response timeout a new client starts with.
const DefaultTimeout = 1 * time.Second

// Client is a Modbus master bound to one port. All operations target the
// configured slave id and run one at a time; the engine keeps a single
// outstanding transaction.
type Client struct {
	mu    sync.Mutex // guards every mutable field below
	reqMu sync.Mutex // serializes blocking operations

	port    Port
	logger  io.Writer
	slaveID uint8
	timeout time.Duration
	debug   bool
	enron   *EnronConfig

	current            *transaction
	transactionIDWrite uint16
	transactionIDRead  uint16

	lastModbusError *ModbusError
	closeHandler    func()
}

// NewClient creates a client over the given port. The port's event handler
// is taken over by the engine.
func NewClient(port Port) *Client {
	c := &Client{
		port:               port,
		logger:             NewSimpleLogger(nil, LevelWarning, "modbus"),
		slaveID:            1,
		timeout:            DefaultTimeout,
		transactionIDWrite: 1,
		transactionIDRead:  1,
	}
	port.SetHandler(clientHandler{c})
	return c
}

// SetLogger replaces the log sink. A nil writer silences the client.
func (c *Client) SetLogger(w io.Writer) {
	c.mu.Lock()
	c.logger = w
	c.mu.Unlock()
}

func (c *Client) logf(format string, args ...any) {
	c.mu.Lock()
	w := c.logger
	c.mu.Unlock()
	if w != nil {
		fmt.Fprintf(w, format+"\n", args...)
	}
}

// SetSlaveID sets the unit id targeted by subsequent operations. Zero is
// the broadcast address.
func (c *Client) SetSlaveID(id uint8) error {
	if id > MaxSlaveAddress {
		return fmt.Errorf("%w: slave id %d", ErrBadAddress, id)
	}
	c.mu.Lock()
	c.slaveID = id
	c.mu.Unlock()
	return nil
}

// GetSlaveID returns the configured unit id.
func (c *Client) GetSlaveID() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slaveID
}

// SetTimeout sets the response timeout for subsequent transactions.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// GetTimeout returns the configured response timeout.
func (c *Client) GetTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// SetDebug toggles capture of request bytes and response chunks into
// results and timeout errors.
func (c *Client) SetDebug(enabled bool) {
	c.mu.Lock()
	c.debug = enabled
	c.mu.Unlock()
}

// IsDebugEnabled reports whether debug capture is on.
func (c *Client) IsDebugEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.debug
}

// SetEnron enables the Enron extension with the given register ranges.
// Pass nil to disable.
func (c *Client) SetEnron(cfg *EnronConfig) error {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.enron = cfg
	port := c.port
	c.mu.Unlock()
	// buffered ports size Enron responses themselves
	if ep, ok := port.(interface{ SetEnron(*EnronConfig) }); ok {
		ep.SetEnron(cfg)
	}
	return nil
}

// GetLastModbusError returns the last exception response this client
// received, or nil.
func (c *Client) GetLastModbusError() *ModbusError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastModbusError
}

func (c *Client) setLastModbusError(err *ModbusError) {
	c.mu.Lock()
	c.lastModbusError = err
	c.mu.Unlock()
}

// OnClose registers a handler fired once when the port closes while the
// client is attached to it. Close and Destroy detach the client before
// closing the port, so they do not fire it.
func (c *Client) OnClose(handler func()) {
	c.mu.Lock()
	c.closeHandler = handler
	c.mu.Unlock()
}

// Open opens the underlying port.
func (c *Client) Open() error {
	return c.port.Open()
}

// Close detaches the engine from the port and closes it. A pending
// transaction is not interrupted; it times out normally.
func (c *Client) Close() error {
	c.port.SetHandler(nil)
	return c.port.Close()
}

// Destroy closes the port and tears down its resources where the port
// supports it.
func (c *Client) Destroy() error {
	c.port.SetHandler(nil)
	if d, ok := c.port.(Destroyer); ok {
		return d.Destroy()
	}
	return c.port.Close()
}

// IsOpen reports whether the underlying port is open.
func (c *Client) IsOpen() bool {
	return c.port.IsOpen()
}

type txResult struct {
	resp Response
	err  error
}

// roundTrip submits a request and blocks until its callback fires. It is
// the single primitive every public operation goes through.
func (c *Client) roundTrip(req request) (Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	ch := make(chan txResult, 1)
	err := c.submit(req, func(resp Response, err error) {
		ch <- txResult{resp: resp, err: err}
	})
	if err != nil {
		return nil, err
	}
	res := <-ch
	return res.resp, res.err
}

// ReadCoils reads quantity coils starting at address (FC1).
func (c *Client) ReadCoils(address, quantity uint16) (*CoilsResult, error) {
	resp, err := c.roundTrip(buildReadBits(c.GetSlaveID(), FuncCodeReadCoils, address, quantity))
	if err != nil {
		return nil, err
	}
	return resp.(*CoilsResult), nil
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address (FC2).
func (c *Client) ReadDiscreteInputs(address, quantity uint16) (*CoilsResult, error) {
	resp, err := c.roundTrip(buildReadBits(c.GetSlaveID(), FuncCodeReadDiscreteInputs, address, quantity))
	if err != nil {
		return nil, err
	}
	return resp.(*CoilsResult), nil
}

// ReadHoldingRegisters reads quantity 16-bit holding registers (FC3).
func (c *Client) ReadHoldingRegisters(address, quantity uint16) (*RegistersResult, error) {
	resp, err := c.roundTrip(buildReadRegisters(c.GetSlaveID(), FuncCodeReadHoldingRegisters, address, quantity, nil))
	if err != nil {
		return nil, err
	}
	return resp.(*RegistersResult), nil
}

// ReadInputRegisters reads quantity 16-bit input registers (FC4).
func (c *Client) ReadInputRegisters(address, quantity uint16) (*RegistersResult, error) {
	resp, err := c.roundTrip(buildReadRegisters(c.GetSlaveID(), FuncCodeReadInputRegisters, address, quantity, nil))
	if err != nil {
		return nil, err
	}
	return resp.(*RegistersResult), nil
}

// ReadHoldingRegistersEnron reads holding registers under the Enron
// extension: registers outside the configured short range are 32 bits
// wide (FC3).
func (c *Client) ReadHoldingRegistersEnron(address, quantity uint16) (*EnronRegistersResult, error) {
	c.mu.Lock()
	enron := c.enron
	c.mu.Unlock()
	if enron == nil {
		return nil, fmt.Errorf("modbus: enron extension not configured")
	}
	resp, err := c.roundTrip(buildReadRegisters(c.GetSlaveID(), FuncCodeReadHoldingRegisters, address, quantity, enron))
	if err != nil {
		return nil, err
	}
	return resp.(*EnronRegistersResult), nil
}

// WriteCoil writes a single coil (FC5). On broadcast the result echoes the
// request and no response is awaited.
func (c *Client) WriteCoil(address uint16, state bool) (*WriteCoilResult, error) {
	resp, err := c.roundTrip(buildWriteCoil(c.GetSlaveID(), address, state))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &WriteCoilResult{Address: address, State: state}, nil
	}
	return resp.(*WriteCoilResult), nil
}

// WriteCoils writes multiple coils starting at address (FC15).
func (c *Client) WriteCoils(address uint16, states []bool) (*WriteMultipleResult, error) {
	resp, err := c.roundTrip(buildWriteCoils(c.GetSlaveID(), address, states))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &WriteMultipleResult{Address: address, Quantity: uint16(len(states))}, nil
	}
	return resp.(*WriteMultipleResult), nil
}

// WriteRegister writes a single 16-bit register (FC6).
func (c *Client) WriteRegister(address, value uint16) (*WriteRegisterResult, error) {
	resp, err := c.roundTrip(buildWriteRegister(c.GetSlaveID(), address, value))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &WriteRegisterResult{Address: address, Value: uint32(value)}, nil
	}
	return resp.(*WriteRegisterResult), nil
}

// WriteRegisterEnron writes a single 32-bit register under the Enron
// extension (FC6).
func (c *Client) WriteRegisterEnron(address uint16, value uint32) (*WriteRegisterResult, error) {
	resp, err := c.roundTrip(buildWriteRegisterEnron(c.GetSlaveID(), address, value))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &WriteRegisterResult{Address: address, Value: value}, nil
	}
	return resp.(*WriteRegisterResult), nil
}

// WriteRegisters writes multiple 16-bit registers starting at address (FC16).
func (c *Client) WriteRegisters(address uint16, values []uint16) (*WriteMultipleResult, error) {
	resp, err := c.roundTrip(buildWriteRegisters(c.GetSlaveID(), address, values))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &WriteMultipleResult{Address: address, Quantity: uint16(len(values))}, nil
	}
	return resp.(*WriteMultipleResult), nil
}

// WriteRegistersBytes writes a prebuilt register buffer verbatim (FC16).
// The buffer must hold whole big-endian registers.
func (c *Client) WriteRegistersBytes(address uint16, data []byte) (*WriteMultipleResult, error) {
	req, err := buildWriteRegistersBytes(c.GetSlaveID(), address, data)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &WriteMultipleResult{Address: address, Quantity: uint16(len(data) / 2)}, nil
	}
	return resp.(*WriteMultipleResult), nil
}

// ReadFileRecords reads one file record sub-request (FC20). Reference type
// 7 marks the payload as ASCII. Only the first sub-request of the response
// is parsed.
func (c *Client) ReadFileRecords(fileNumber, recordNumber uint16, recordLength, refType uint8) (*FileRecordResult, error) {
	resp, err := c.roundTrip(buildReadFileRecord(c.GetSlaveID(), refType, fileNumber, recordNumber, recordLength))
	if err != nil {
		return nil, err
	}
	return resp.(*FileRecordResult), nil
}

// ReadExceptionStatus reads the device's exception status byte (FC7).
func (c *Client) ReadExceptionStatus() (*ExceptionStatusResult, error) {
	resp, err := c.roundTrip(buildReadExceptionStatus(c.GetSlaveID()))
	if err != nil {
		return nil, err
	}
	return resp.(*ExceptionStatusResult), nil
}

// ReadCompressed reads up to 16 scattered points in one request (FC65).
func (c *Client) ReadCompressed(pnus []uint16) (*CompressedResult, error) {
	if len(pnus) == 0 || len(pnus) > MaxCompressedPNUs {
		return nil, fmt.Errorf("modbus: compressed read takes 1-%d point numbers, got %d", MaxCompressedPNUs, len(pnus))
	}
	resp, err := c.roundTrip(buildReadCompressed(c.GetSlaveID(), pnus))
	if err != nil {
		return nil, err
	}
	return resp.(*CompressedResult), nil
}
