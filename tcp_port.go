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
	"io"
	"net"
	"sync"
	"time"
)

// Modbus TCP protocol constants.
const (
	TCPHeaderLength       = 7 // MBAP header length in bytes
	ProtocolIdentifierTCP = 0
)

// TCPPort speaks Modbus TCP (MBAP framing). Outgoing RTU frames are
// re-framed with an MBAP header in place of the CRC; responses are
// normalised back to CRC-suffixed RTU form so the engine validates every
// transport uniformly.
type TCPPort struct {
	mu            sync.Mutex
	address       string
	dialTimeout   time.Duration
	conn          net.Conn
	handler       PortHandler
	transactionID uint16
	closed        bool
}

// NewTCPPort creates a Modbus TCP port dialing the given address on Open.
func NewTCPPort(address string, dialTimeout time.Duration) *TCPPort {
	return &TCPPort{address: address, dialTimeout: dialTimeout}
}

// SetHandler implements Port.
func (p *TCPPort) SetHandler(h PortHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Open dials the server and starts the read loop.
func (p *TCPPort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return fmt.Errorf("modbus: connection to %s already open", p.address)
	}
	conn, err := net.DialTimeout("tcp", p.address, p.dialTimeout)
	if err != nil {
		return fmt.Errorf("modbus: failed to connect to %s: %w", p.address, err)
	}
	p.conn = conn
	p.closed = false
	go p.readLoop(conn)
	return nil
}

// Close closes the connection.
func (p *TCPPort) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.closed = true
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsOpen implements Port.
func (p *TCPPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Write re-frames an RTU request as MBAP and sends it. The MBAP
// transaction id advances on every request and must be echoed by the
// server.
func (p *TCPPort) Write(frame []byte) error {
	if len(frame) < 4 {
		return fmt.Errorf("modbus: frame too short for MBAP framing: %d bytes", len(frame))
	}
	p.mu.Lock()
	conn := p.conn
	p.transactionID++
	transactionID := p.transactionID
	p.mu.Unlock()
	if conn == nil {
		return ErrPortNotOpen
	}

	// strip the CRC; MBAP length covers unit id + PDU
	body := frame[:len(frame)-2]
	packet := make([]byte, TCPHeaderLength+len(body)-1)
	binary.BigEndian.PutUint16(packet[0:2], transactionID)
	binary.BigEndian.PutUint16(packet[2:4], ProtocolIdentifierTCP)
	binary.BigEndian.PutUint16(packet[4:6], uint16(len(body)))
	copy(packet[6:], body)

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("modbus: tcp write failed: %w", err)
	}
	return nil
}

func (p *TCPPort) readLoop(conn net.Conn) {
	header := make([]byte, TCPHeaderLength)
	for {
		if _, err := io.ReadFull(conn, header[:6]); err != nil {
			p.fail(err)
			return
		}
		transactionID := binary.BigEndian.Uint16(header[0:2])
		protocolID := binary.BigEndian.Uint16(header[2:4])
		length := binary.BigEndian.Uint16(header[4:6])
		if protocolID != ProtocolIdentifierTCP || length == 0 || int(length) > MaxPDULength+1 {
			p.fail(fmt.Errorf("modbus: malformed MBAP header: protocol 0x%04X length %d", protocolID, length))
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(conn, body); err != nil {
			p.fail(err)
			return
		}
		p.mu.Lock()
		expectedID := p.transactionID
		p.mu.Unlock()
		if transactionID != expectedID {
			// stale response from an earlier, timed-out request
			continue
		}
		// normalise to RTU form so the engine's CRC check applies
		if h := p.getHandler(); h != nil {
			h.OnFrame(AppendCRC(body))
		}
	}
}

func (p *TCPPort) fail(err error) {
	p.mu.Lock()
	wasClosed := p.closed
	p.conn = nil
	p.closed = true
	p.mu.Unlock()
	if h := p.getHandler(); h != nil {
		if !wasClosed {
			h.OnError(err)
		}
		h.OnClose()
	}
}

func (p *TCPPort) getHandler() PortHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}
