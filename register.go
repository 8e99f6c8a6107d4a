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
	"math"
	"sort"
)

// DeviceRegister describes one polled point: where it lives on the bus and
// how to interpret its raw bytes.
type DeviceRegister struct {
	Tag       string  `json:"tag"`       // unique label for the point
	Alias     string  `json:"alias"`     // human-readable name
	SlaveID   uint8   `json:"slaveId"`   // target unit
	Function  uint8   `json:"function"`  // 1, 2, 3 or 4
	Address   uint16  `json:"address"`   // start address
	Quantity  uint16  `json:"quantity"`  // registers (or bits) to read
	DataType  string  `json:"dataType"`  // bool, uint16, int16, uint32, int32, float32, float64
	DataOrder string  `json:"dataOrder"` // A, AB, BA, ABCD, DCBA, BADC, CDAB, ABCDEFGH, HGFEDCBA
	Weight    float64 `json:"weight"`    // scaling factor applied by DecodeValue
	Frequency uint64  `json:"frequency"` // polling period hint in milliseconds
	Value     []byte  `json:"value"`     // raw bytes from the last read
	Status    string  `json:"status"`    // "OK" or "ERROR:<reason>"
}

// isValidDataOrder checks whether the byte order name is one the decoder
// understands.
func isValidDataOrder(order string) bool {
	switch order {
	case "A", "AB", "BA", "ABCD", "DCBA", "BADC", "CDAB", "ABCDEFGH", "HGFEDCBA":
		return true
	}
	return false
}

// RequiredQuantity derives the register count from the data type and
// stores it in Quantity.
func (r *DeviceRegister) RequiredQuantity() (uint16, error) {
	var bytes int
	switch r.DataType {
	case "bool", "uint8", "int8":
		bytes = 2 // one register, low byte used
	case "uint16", "int16":
		bytes = 2
	case "uint32", "int32", "float32":
		bytes = 4
	case "uint64", "int64", "float64":
		bytes = 8
	default:
		return 0, fmt.Errorf("modbus: unknown data type %q for register %s", r.DataType, r.Tag)
	}
	r.Quantity = uint16(bytes / 2)
	return r.Quantity, nil
}

// DecodedValue holds the interpretations of a raw register value.
type DecodedValue struct {
	Raw     []byte
	Float64 float64 // scaled by Weight when Weight is non-zero
	AsType  any
}

// reorderBytes rearranges b according to the register's byte order name.
// Unknown orders and length mismatches return b unchanged.
func reorderBytes(b []byte, order string) []byte {
	index := func(positions ...int) []byte {
		if len(b) < len(positions) {
			return b
		}
		out := make([]byte, len(positions))
		for i, p := range positions {
			out[i] = b[p]
		}
		return out
	}
	switch order {
	case "BA":
		return index(1, 0)
	case "DCBA":
		return index(3, 2, 1, 0)
	case "BADC":
		return index(1, 0, 3, 2)
	case "CDAB":
		return index(2, 3, 0, 1)
	case "HGFEDCBA":
		return index(7, 6, 5, 4, 3, 2, 1, 0)
	}
	return b
}

// DecodeValue interprets the raw value according to DataType and
// DataOrder. Weight scales the Float64 form when set.
func (r DeviceRegister) DecodeValue() (DecodedValue, error) {
	if len(r.Value) == 0 {
		return DecodedValue{}, fmt.Errorf("modbus: empty value for register %s", r.Tag)
	}
	b := reorderBytes(r.Value, r.DataOrder)
	res := DecodedValue{Raw: b}

	switch r.DataType {
	case "bool":
		v := b[len(b)-1] != 0
		res.AsType = v
		if v {
			res.Float64 = 1
		}
	case "uint16":
		if len(b) < 2 {
			return res, fmt.Errorf("modbus: register %s needs 2 bytes, got %d", r.Tag, len(b))
		}
		v := binary.BigEndian.Uint16(b[:2])
		res.AsType = v
		res.Float64 = float64(v)
	case "int16":
		if len(b) < 2 {
			return res, fmt.Errorf("modbus: register %s needs 2 bytes, got %d", r.Tag, len(b))
		}
		v := int16(binary.BigEndian.Uint16(b[:2]))
		res.AsType = v
		res.Float64 = float64(v)
	case "uint32":
		if len(b) < 4 {
			return res, fmt.Errorf("modbus: register %s needs 4 bytes, got %d", r.Tag, len(b))
		}
		v := binary.BigEndian.Uint32(b[:4])
		res.AsType = v
		res.Float64 = float64(v)
	case "int32":
		if len(b) < 4 {
			return res, fmt.Errorf("modbus: register %s needs 4 bytes, got %d", r.Tag, len(b))
		}
		v := int32(binary.BigEndian.Uint32(b[:4]))
		res.AsType = v
		res.Float64 = float64(v)
	case "float32":
		if len(b) < 4 {
			return res, fmt.Errorf("modbus: register %s needs 4 bytes, got %d", r.Tag, len(b))
		}
		v := math.Float32frombits(binary.BigEndian.Uint32(b[:4]))
		res.AsType = v
		res.Float64 = float64(v)
	case "float64":
		if len(b) < 8 {
			return res, fmt.Errorf("modbus: register %s needs 8 bytes, got %d", r.Tag, len(b))
		}
		v := math.Float64frombits(binary.BigEndian.Uint64(b[:8]))
		res.AsType = v
		res.Float64 = v
	default:
		return res, fmt.Errorf("modbus: unknown data type %q for register %s", r.DataType, r.Tag)
	}

	if r.Weight != 0 {
		res.Float64 *= r.Weight
	}
	return res, nil
}

// GroupDeviceRegisters sorts registers by slave, function and address and
// groups runs whose addresses are contiguous or overlapping, so each group
// reads in one request.
func GroupDeviceRegisters(registers []DeviceRegister) [][]DeviceRegister {
	sort.Slice(registers, func(i, j int) bool {
		if registers[i].SlaveID != registers[j].SlaveID {
			return registers[i].SlaveID < registers[j].SlaveID
		}
		if registers[i].Function != registers[j].Function {
			return registers[i].Function < registers[j].Function
		}
		return registers[i].Address < registers[j].Address
	})

	var groups [][]DeviceRegister
	if len(registers) == 0 {
		return groups
	}

	current := []DeviceRegister{registers[0]}
	last := registers[0]
	for _, r := range registers[1:] {
		if r.SlaveID == last.SlaveID && r.Function == last.Function && r.Address <= last.Address+last.Quantity {
			current = append(current, r)
		} else {
			groups = append(groups, current)
			current = []DeviceRegister{r}
		}
		last = r
	}
	groups = append(groups, current)
	return groups
}

// ReadGroupedData reads every group in one request each and distributes
// the raw bytes back onto the member registers. Failed groups are marked
// in Status and still returned.
func ReadGroupedData(client *Client, groups [][]DeviceRegister) [][]DeviceRegister {
	result := make([][]DeviceRegister, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		start := group[0].Address
		end := start
		for _, reg := range group {
			if reg.Address+reg.Quantity > end {
				end = reg.Address + reg.Quantity
			}
		}
		quantity := end - start

		if err := client.SetSlaveID(group[0].SlaveID); err != nil {
			markGroupError(group, err)
			result = append(result, group)
			continue
		}

		var data []byte
		var err error
		switch group[0].Function {
		case 1:
			var res *CoilsResult
			res, err = client.ReadCoils(start, quantity)
			if err == nil {
				data = coilBytes(res.Data)
			}
		case 2:
			var res *CoilsResult
			res, err = client.ReadDiscreteInputs(start, quantity)
			if err == nil {
				data = coilBytes(res.Data)
			}
		case 3:
			var res *RegistersResult
			res, err = client.ReadHoldingRegisters(start, quantity)
			if err == nil {
				data = res.Buffer
			}
		case 4:
			var res *RegistersResult
			res, err = client.ReadInputRegisters(start, quantity)
			if err == nil {
				data = res.Buffer
			}
		default:
			err = fmt.Errorf("modbus: function %d cannot be polled", group[0].Function)
		}
		if err != nil {
			markGroupError(group, err)
			result = append(result, group)
			continue
		}

		for i := range group {
			reg := &group[i]
			var offset, size int
			if reg.Function <= 2 {
				// one byte per bit after coilBytes
				offset = int(reg.Address - start)
				size = int(reg.Quantity)
			} else {
				offset = int(reg.Address-start) * 2
				size = int(reg.Quantity) * 2
			}
			if offset+size > len(data) {
				reg.Status = "ERROR:short read"
				continue
			}
			reg.Value = make([]byte, size)
			copy(reg.Value, data[offset:offset+size])
			reg.Status = "OK"
		}
		result = append(result, group)
	}
	return result
}

// coilBytes widens coil states to one byte per bit so register offsets
// address them uniformly.
func coilBytes(states []bool) []byte {
	out := make([]byte, len(states))
	for i, s := range states {
		if s {
			out[i] = 1
		}
	}
	return out
}

func markGroupError(group []DeviceRegister, err error) {
	for i := range group {
		group[i].Status = "ERROR:" + err.Error()
	}
}
