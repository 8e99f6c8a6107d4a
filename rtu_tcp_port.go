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
	"net"
	"sync"
	"time"
)

// RTUOverTCPPort carries raw RTU frames (CRC included) over a TCP stream.
// TCP gives no message boundaries, so inbound bytes run through the same
// stream reassembler as the serial port.
type RTUOverTCPPort struct {
	mu          sync.Mutex
	address     string
	dialTimeout time.Duration
	conn        net.Conn
	handler     PortHandler
	asm         *rtuAssembler
	enron       *EnronConfig
	closed      bool
}

// NewRTUOverTCPPort creates a port dialing the given TCP address on Open.
func NewRTUOverTCPPort(address string, dialTimeout time.Duration) *RTUOverTCPPort {
	return &RTUOverTCPPort{
		address:     address,
		dialTimeout: dialTimeout,
		asm:         newRTUAssembler(),
	}
}

// SetHandler implements Port.
func (p *RTUOverTCPPort) SetHandler(h PortHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// SetEnron gives the reassembler the register ranges it needs to size
// responses to Enron reads.
func (p *RTUOverTCPPort) SetEnron(cfg *EnronConfig) {
	p.mu.Lock()
	p.enron = cfg
	p.mu.Unlock()
}

// Open dials the peer and starts the read loop.
func (p *RTUOverTCPPort) Open() error {
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
	p.asm.Reset()
	go p.readLoop(conn)
	return nil
}

// Close closes the connection.
func (p *RTUOverTCPPort) Close() error {
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
func (p *RTUOverTCPPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Write snapshots the request for the reassembler and sends the frame.
func (p *RTUOverTCPPort) Write(frame []byte) error {
	p.mu.Lock()
	conn := p.conn
	enron := p.enron
	p.mu.Unlock()
	if conn == nil {
		return ErrPortNotOpen
	}
	p.asm.NoteRequest(frame, enron)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("modbus: tcp write failed: %w", err)
	}
	return nil
}

func (p *RTUOverTCPPort) readLoop(conn net.Conn) {
	buf := make([]byte, MaxFrameLength)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, frame := range p.asm.Push(buf[:n]) {
				if h := p.getHandler(); h != nil {
					h.OnFrame(frame)
				}
			}
		}
		if err != nil {
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
			return
		}
	}
}

func (p *RTUOverTCPPort) getHandler() PortHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}
