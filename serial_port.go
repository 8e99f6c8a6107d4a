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
	"io"
	"sync"

	serial "github.com/hootrhino/goserial"
)

// SerialPort is a buffered RTU port over a serial line. Inbound bytes run
// through the stream reassembler; the engine only ever sees complete
// candidate frames.
type SerialPort struct {
	mu      sync.Mutex
	config  serial.Config
	port    io.ReadWriteCloser
	handler PortHandler
	asm     *rtuAssembler
	enron   *EnronConfig
	closed  bool
}

// NewSerialPort creates a serial port with the given line settings. The
// port stays closed until Open.
func NewSerialPort(config serial.Config) *SerialPort {
	return &SerialPort{
		config: config,
		asm:    newRTUAssembler(),
	}
}

// SetHandler implements Port.
func (p *SerialPort) SetHandler(h PortHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// SetEnron gives the reassembler the register ranges it needs to size
// responses to Enron reads.
func (p *SerialPort) SetEnron(cfg *EnronConfig) {
	p.mu.Lock()
	p.enron = cfg
	p.mu.Unlock()
}

// Open opens the serial line and starts the read loop.
func (p *SerialPort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port != nil {
		return fmt.Errorf("modbus: serial port %s already open", p.config.Address)
	}
	port, err := serial.Open(&p.config)
	if err != nil {
		return fmt.Errorf("modbus: failed to open serial port %s: %w", p.config.Address, err)
	}
	p.port = port
	p.closed = false
	p.asm.Reset()
	go p.readLoop(port)
	return nil
}

// Close closes the serial line. The read loop fires the close event when
// it notices.
func (p *SerialPort) Close() error {
	p.mu.Lock()
	port := p.port
	p.port = nil
	p.closed = true
	p.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

// IsOpen implements Port.
func (p *SerialPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port != nil
}

// Write snapshots the request for the reassembler and puts the frame on
// the wire.
func (p *SerialPort) Write(frame []byte) error {
	p.mu.Lock()
	port := p.port
	enron := p.enron
	p.mu.Unlock()
	if port == nil {
		return ErrPortNotOpen
	}
	p.asm.NoteRequest(frame, enron)
	written := 0
	for written < len(frame) {
		n, err := port.Write(frame[written:])
		if err != nil {
			return fmt.Errorf("modbus: serial write failed after %d bytes: %w", written, err)
		}
		written += n
	}
	return nil
}

func (p *SerialPort) readLoop(port io.ReadWriteCloser) {
	buf := make([]byte, MaxFrameLength)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			for _, frame := range p.asm.Push(buf[:n]) {
				if h := p.getHandler(); h != nil {
					h.OnFrame(frame)
				}
			}
		}
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				// idle line, keep listening
				continue
			}
			p.mu.Lock()
			wasClosed := p.closed
			p.port = nil
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

func (p *SerialPort) getHandler() PortHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}
