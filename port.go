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

// Port is the uniform byte-stream transport consumed by the transaction
// engine. A port accepts complete RTU request frames via Write and hands
// back complete candidate response frames through its handler; buffered
// transports (serial, RTU over TCP) run the stream reassembler internally,
// message-oriented transports (Modbus TCP) deliver frames directly.
type Port interface {
	Open() error
	Close() error
	Write(frame []byte) error
	IsOpen() bool

	// SetHandler registers the event sink. Handler calls must be
	// sequential; the engine relies on it.
	SetHandler(h PortHandler)
}

// PortHandler receives transport events.
type PortHandler interface {
	OnFrame(frame []byte) // one complete candidate response frame
	OnError(err error)    // transport-level failure
	OnClose()             // one-shot, fired when the port closes
}

// Destroyer is implemented by ports that can tear down their underlying
// resources beyond a plain Close.
type Destroyer interface {
	Destroy() error
}
