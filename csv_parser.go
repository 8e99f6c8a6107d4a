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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// csvHeaders is the register-map column order, first row of every file.
var csvHeaders = []string{
	"tag",
	"alias",
	"slaveId",
	"function",
	"address",
	"quantity",
	"dataType",
	"dataOrder",
	"weight",
	"frequency",
}

// ParseRegisterCSV reads a register map from CSV. The first row must be
// the header row; every data row becomes one DeviceRegister.
func ParseRegisterCSV(r io.Reader) ([]DeviceRegister, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("modbus: failed to read CSV header: %w", err)
	}
	if len(header) != len(csvHeaders) {
		return nil, fmt.Errorf("modbus: CSV header has %d columns, want %d", len(header), len(csvHeaders))
	}
	for i, name := range csvHeaders {
		if header[i] != name {
			return nil, fmt.Errorf("modbus: CSV column %d is %q, want %q", i, header[i], name)
		}
	}

	var registers []DeviceRegister
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("modbus: failed to read CSV line %d: %w", line, err)
		}
		reg, err := parseRegisterRecord(record)
		if err != nil {
			return nil, fmt.Errorf("modbus: CSV line %d: %w", line, err)
		}
		registers = append(registers, reg)
	}
	return registers, nil
}

func parseRegisterRecord(record []string) (DeviceRegister, error) {
	var reg DeviceRegister
	if len(record) != len(csvHeaders) {
		return reg, fmt.Errorf("row has %d columns, want %d", len(record), len(csvHeaders))
	}
	reg.Tag = record[0]
	reg.Alias = record[1]
	if reg.Tag == "" {
		return reg, fmt.Errorf("tag must not be empty")
	}

	slaveID, err := strconv.ParseUint(record[2], 10, 8)
	if err != nil {
		return reg, fmt.Errorf("invalid slaveId %q: %w", record[2], err)
	}
	reg.SlaveID = uint8(slaveID)

	function, err := strconv.ParseUint(record[3], 10, 8)
	if err != nil || function < 1 || function > 4 {
		return reg, fmt.Errorf("invalid function %q", record[3])
	}
	reg.Function = uint8(function)

	address, err := strconv.ParseUint(record[4], 10, 16)
	if err != nil {
		return reg, fmt.Errorf("invalid address %q: %w", record[4], err)
	}
	reg.Address = uint16(address)

	quantity, err := strconv.ParseUint(record[5], 10, 16)
	if err != nil || quantity == 0 {
		return reg, fmt.Errorf("invalid quantity %q", record[5])
	}
	reg.Quantity = uint16(quantity)

	reg.DataType = record[6]
	reg.DataOrder = record[7]
	if !isValidDataOrder(reg.DataOrder) {
		return reg, fmt.Errorf("invalid dataOrder %q", reg.DataOrder)
	}

	weight, err := strconv.ParseFloat(record[8], 64)
	if err != nil {
		return reg, fmt.Errorf("invalid weight %q: %w", record[8], err)
	}
	reg.Weight = weight

	frequency, err := strconv.ParseUint(record[9], 10, 64)
	if err != nil {
		return reg, fmt.Errorf("invalid frequency %q: %w", record[9], err)
	}
	reg.Frequency = frequency

	return reg, nil
}

// WriteRegisterCSV writes a register map as CSV, header row first.
func WriteRegisterCSV(w io.Writer, registers []DeviceRegister) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeaders); err != nil {
		return fmt.Errorf("modbus: failed to write CSV header: %w", err)
	}
	for _, reg := range registers {
		record := []string{
			reg.Tag,
			reg.Alias,
			strconv.FormatUint(uint64(reg.SlaveID), 10),
			strconv.FormatUint(uint64(reg.Function), 10),
			strconv.FormatUint(uint64(reg.Address), 10),
			strconv.FormatUint(uint64(reg.Quantity), 10),
			reg.DataType,
			reg.DataOrder,
			strconv.FormatFloat(reg.Weight, 'g', -1, 64),
			strconv.FormatUint(reg.Frequency, 10),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("modbus: failed to write CSV row for %s: %w", reg.Tag, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
