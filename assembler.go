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

import "encoding/binary"

// rtuAssembler locates complete Modbus RTU answers inside a free-flowing
// byte stream. Buffered ports (serial, RTU over TCP) feed it every inbound
// chunk; it emits exactly one complete frame at a time and discards any
// leading garbage together with the emitted frame.
type rtuAssembler struct {
	buf      []byte
	slaveID  uint8
	fc       FunctionCode
	expected int // expected response frame length; lengthUnknown for FC20/FC43
}

func newRTUAssembler() *rtuAssembler {
	return &rtuAssembler{expected: lengthUnknown}
}

// NoteRequest snapshots the outbound unit id, function code and expected
// response length from a request frame about to be written.
func (a *rtuAssembler) NoteRequest(frame []byte, enron *EnronConfig) {
	if len(frame) < 4 {
		return
	}
	a.slaveID = frame[0]
	a.fc = FunctionCode(frame[1])
	a.expected = expectedResponseLength(frame, enron)
}

// expectedResponseLength applies the per-function response length formulas
// to a raw request frame. FC20 and FC43 responses vary; they are marked
// length-unknown and sized during the scan instead.
func expectedResponseLength(frame []byte, enron *EnronConfig) int {
	if frame[0] == BroadcastAddress {
		return 0
	}
	switch FunctionCode(frame[1]) {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		quantity := int(binary.BigEndian.Uint16(frame[4:6]))
		return 3 + (quantity+7)/8 + 2
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		width := 2
		if enron != nil {
			width = enron.RegisterWidth(binary.BigEndian.Uint16(frame[2:4]))
		}
		quantity := int(binary.BigEndian.Uint16(frame[4:6]))
		return 3 + width*quantity + 2
	case FuncCodeWriteSingleCoil:
		return 8
	case FuncCodeWriteSingleRegister:
		if len(frame) == 10 {
			// Enron write echoes the 32-bit value
			return 10
		}
		return 8
	case FuncCodeReadExceptionStatus:
		return 5
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegs:
		return 8
	case FuncCodeReadCompressed:
		return 4 + 2*int(frame[2]) + 3
	case FuncCodeReadFileRecord, FuncCodeReadDeviceID:
		return lengthUnknown
	}
	return lengthUnknown
}

// Push appends an inbound chunk and returns every complete frame the
// buffer now holds, in arrival order.
func (a *rtuAssembler) Push(chunk []byte) [][]byte {
	a.buf = append(a.buf, chunk...)
	if len(a.buf) > MaxFrameLength {
		// a full RTU frame never exceeds 256 bytes; drop the oldest
		a.buf = a.buf[len(a.buf)-MaxFrameLength:]
	}
	var frames [][]byte
	for {
		frame := a.scan()
		if frame == nil {
			return frames
		}
		frames = append(frames, frame)
	}
}

// scan walks the buffer for a candidate answer matching the remembered
// unit id and function code. It returns nil when more bytes are needed.
func (a *rtuAssembler) scan() []byte {
	bufLen := len(a.buf)
	if a.expected != lengthUnknown && bufLen < a.expected && bufLen < MinFrameLength {
		// shorter than both the expected answer and an exception frame
		return nil
	}
	for i := 0; i+MinFrameLength <= bufLen; i++ {
		if a.buf[i] != a.slaveID {
			continue
		}
		fc := FunctionCode(a.buf[i+1])
		if fc == a.fc {
			switch a.fc {
			case FuncCodeReadDeviceID:
				// walk the object TLV chain to size the frame
				if bufLen < i+8 {
					return nil
				}
				frameLen := 8
				numObjects := int(a.buf[i+7])
				for j := 0; j < numObjects; j++ {
					if i+frameLen+2 > bufLen {
						return nil
					}
					frameLen += 2 + int(a.buf[i+frameLen+1])
				}
				if i+frameLen+2 > bufLen {
					return nil
				}
				return a.emit(i, frameLen+2)
			case FuncCodeReadFileRecord:
				if bufLen < i+3 {
					return nil
				}
				frameLen := 5 + int(a.buf[i+2]) + 2
				if i+frameLen > bufLen {
					return nil
				}
				return a.emit(i, frameLen)
			default:
				if a.expected != lengthUnknown && i+a.expected <= bufLen {
					return a.emit(i, a.expected)
				}
				return nil
			}
		}
		if fc == a.fc|0x80 {
			// exception responses are always five bytes
			if i+MinFrameLength <= bufLen {
				return a.emit(i, MinFrameLength)
			}
			return nil
		}
		if fc == a.fc&0x7F {
			// header tentatively matches, more bytes pending
			return nil
		}
	}
	return nil
}

// emit copies the frame out and drops it together with any bytes that
// preceded it.
func (a *rtuAssembler) emit(offset, length int) []byte {
	frame := make([]byte, length)
	copy(frame, a.buf[offset:offset+length])
	a.buf = a.buf[offset+length:]
	return frame
}

// Reset clears the buffer and the remembered request.
func (a *rtuAssembler) Reset() {
	a.buf = nil
	a.expected = lengthUnknown
}
