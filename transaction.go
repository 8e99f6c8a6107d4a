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
	"time"
)

// transaction is the fingerprint of one in-flight request. At most one
// transaction is active per client; a new submission overwrites the slot.
type transaction struct {
	id           uint16
	slaveID      uint8
	fc           FunctionCode
	expected     int // expected full response frame length; lengthUnknown when variable
	enronAddress int
	quantity     uint16
	done         func(Response, error)
	timer        *time.Timer
	timedOut     bool // latched when the timeout callback has fired
	finished     bool // latched when the callback has fired for any reason
	request      []byte
	responses    [][]byte
}

// isWriteFunction reports whether fc is one of the write functions that
// produce no response on broadcast.
func isWriteFunction(fc FunctionCode) bool {
	switch fc {
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegs:
		return true
	}
	return false
}

// submit validates the request, populates the transaction slot, arms the
// timeout and hands the frame to the port. Broadcast writes complete
// immediately with an empty success. When submit returns nil the done
// callback fires exactly once; when it returns an error it never fires.
func (c *Client) submit(req request, done func(Response, error)) error {
	c.mu.Lock()
	if c.port == nil || !c.port.IsOpen() {
		c.mu.Unlock()
		return ErrPortNotOpen
	}
	if req.slaveID > MaxSlaveAddress {
		c.mu.Unlock()
		return fmt.Errorf("%w: slave id %d", ErrBadAddress, req.slaveID)
	}
	if req.slaveID == BroadcastAddress && !isWriteFunction(req.fc) {
		c.mu.Unlock()
		return ErrBroadcastNotAllowed
	}

	tx := &transaction{
		id:           c.transactionIDWrite,
		slaveID:      req.slaveID,
		fc:           req.fc,
		expected:     req.expected,
		enronAddress: req.enronAddress,
		quantity:     req.quantity,
		done:         done,
	}
	if c.debug {
		tx.request = make([]byte, len(req.frame))
		copy(tx.request, req.frame)
	}
	// read id follows write id in lockstep: the slot being prepared is
	// the slot whose response will be awaited
	c.transactionIDRead = c.transactionIDWrite
	c.transactionIDWrite++
	c.current = tx
	if req.expected != 0 {
		timeout := c.timeout
		tx.timer = time.AfterFunc(timeout, func() { c.onTimeout(tx) })
	}
	port := c.port
	c.mu.Unlock()

	c.logf("DEBUG: send slave %d func %d frame % X", req.slaveID, req.fc, req.frame)
	if err := port.Write(req.frame); err != nil {
		c.abort(tx)
		return &TransportError{Err: err}
	}

	if req.expected == 0 {
		// broadcast write: no response follows, report success now
		c.abort(tx)
		done(nil, nil)
	}
	return nil
}

// abort clears a transaction without invoking its callback.
func (c *Client) abort(tx *transaction) {
	c.mu.Lock()
	if tx.timer != nil {
		tx.timer.Stop()
	}
	tx.finished = true
	if c.current == tx {
		c.current = nil
	}
	c.mu.Unlock()
}

// onTimeout fires when no valid response arrived in time. The latch keeps a
// late frame from invoking the callback a second time; the slot is left in
// place so late bytes are recognised and dropped.
func (c *Client) onTimeout(tx *transaction) {
	c.mu.Lock()
	if tx.finished {
		c.mu.Unlock()
		return
	}
	tx.timedOut = true
	tx.finished = true
	err := &TimeoutError{}
	if c.debug {
		err.Request = tx.request
		err.Responses = tx.responses
	}
	c.mu.Unlock()

	c.logf("WARNING: transaction %d timed out (slave %d func %d)", tx.id, tx.slaveID, tx.fc)
	tx.done(nil, err)
}

// onFrame is the engine's receive path. It correlates the candidate frame
// with the awaited transaction, runs the validation chain and dispatches
// the matching decoder.
func (c *Client) onFrame(frame []byte) {
	c.mu.Lock()
	tx := c.current
	if tx == nil || tx.id != c.transactionIDRead {
		c.mu.Unlock()
		c.logf("DEBUG: dropping stray frame % X", frame)
		return
	}
	if c.debug {
		chunk := make([]byte, len(frame))
		copy(chunk, frame)
		tx.responses = append(tx.responses, chunk)
	}
	if tx.timer != nil {
		tx.timer.Stop()
	}
	if tx.timedOut || tx.finished {
		// callback already invoked with a timeout error
		c.mu.Unlock()
		return
	}
	tx.finished = true
	c.current = nil
	enron := c.enron
	debug := c.debug
	c.mu.Unlock()

	resp, err := c.validate(tx, frame, enron)
	if merr, ok := err.(*ModbusError); ok {
		c.setLastModbusError(merr)
	}
	if err != nil {
		c.logf("ERROR: transaction %d failed: %v", tx.id, err)
	}
	if debug && resp != nil {
		t := resp.TraceData()
		t.Request = tx.request
		t.Responses = tx.responses
	}
	tx.done(resp, err)
}

// validate runs the receive checks on a candidate frame in order: minimal
// length, CRC, exception, address, function, length, then decode.
func (c *Client) validate(tx *transaction, adu []byte, enron *EnronConfig) (Response, error) {
	if tx.expected != lengthUnknown && len(adu) < MinFrameLength {
		return nil, &LengthError{Expected: MinFrameLength, Actual: len(adu)}
	}
	if len(adu) < 4 {
		// too short to even carry a CRC
		return nil, &LengthError{Expected: MinFrameLength, Actual: len(adu)}
	}
	if !VerifyCRC(adu) {
		dataLen := len(adu) - 2
		return nil, &CRCError{
			Calculated: CRC16(adu[:dataLen]),
			Received:   uint16(adu[dataLen]) | uint16(adu[dataLen+1])<<8,
		}
	}
	fc := FunctionCode(adu[1])
	if fc.IsException() && fc.Base() == tx.fc {
		return nil, &ModbusError{FunctionCode: tx.fc, ExceptionCode: adu[2]}
	}
	if adu[0] != tx.slaveID {
		return nil, &AddressMismatchError{Expected: tx.slaveID, Actual: adu[0]}
	}
	if fc != tx.fc {
		return nil, &FunctionMismatchError{Expected: tx.fc, Actual: fc}
	}
	if tx.expected != lengthUnknown && len(adu) != tx.expected {
		return nil, &LengthError{Expected: tx.expected, Actual: len(adu)}
	}
	return decodeResponse(tx, adu, enron)
}

// onPortError fails the pending transaction with a TransportError.
func (c *Client) onPortError(err error) {
	c.mu.Lock()
	tx := c.current
	if tx == nil || tx.finished {
		c.mu.Unlock()
		c.logf("ERROR: port error with no pending transaction: %v", err)
		return
	}
	if tx.timer != nil {
		tx.timer.Stop()
	}
	tx.finished = true
	c.current = nil
	c.mu.Unlock()

	c.logf("ERROR: port error: %v", err)
	tx.done(nil, &TransportError{Err: err})
}

// onPortClose fires the client's close event.
func (c *Client) onPortClose() {
	c.mu.Lock()
	handler := c.closeHandler
	c.mu.Unlock()
	c.logf("INFO: port closed")
	if handler != nil {
		handler()
	}
}

// clientHandler adapts the Client to the PortHandler contract.
type clientHandler struct {
	c *Client
}

func (h clientHandler) OnFrame(frame []byte) { h.c.onFrame(frame) }
func (h clientHandler) OnError(err error)    { h.c.onPortError(err) }
func (h clientHandler) OnClose()             { h.c.onPortClose() }
