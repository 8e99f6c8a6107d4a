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

import "fmt"

// EnronRange is an inclusive register address range.
type EnronRange struct {
	Start uint16 `yaml:"start"`
	End   uint16 `yaml:"end"`
}

// Contains reports whether addr falls inside the range.
func (r EnronRange) Contains(addr uint16) bool {
	return addr >= r.Start && addr <= r.End
}

// EnronConfig describes the register ranges of the Enron Modbus extension.
// Addresses inside ShortRange keep the standard 16-bit register width; all
// other addresses use 32-bit registers.
type EnronConfig struct {
	BooleanRange EnronRange `yaml:"booleanRange"`
	ShortRange   EnronRange `yaml:"shortRange"`
	LongRange    EnronRange `yaml:"longRange"`
	FloatRange   EnronRange `yaml:"floatRange"`
}

// DefaultEnronConfig returns the conventional Enron register map.
func DefaultEnronConfig() EnronConfig {
	return EnronConfig{
		BooleanRange: EnronRange{Start: 1001, End: 1999},
		ShortRange:   EnronRange{Start: 3001, End: 3999},
		LongRange:    EnronRange{Start: 5001, End: 5999},
		FloatRange:   EnronRange{Start: 7001, End: 7999},
	}
}

// Validate checks that every range is strictly increasing.
func (c EnronConfig) Validate() error {
	ranges := []struct {
		name string
		r    EnronRange
	}{
		{"booleanRange", c.BooleanRange},
		{"shortRange", c.ShortRange},
		{"longRange", c.LongRange},
		{"floatRange", c.FloatRange},
	}
	for _, entry := range ranges {
		if entry.r.Start >= entry.r.End {
			return fmt.Errorf("enron %s must be strictly increasing: [%d, %d]",
				entry.name, entry.r.Start, entry.r.End)
		}
	}
	return nil
}

// RegisterWidth returns the register width in bytes for addr: 2 inside
// ShortRange, 4 everywhere else.
func (c EnronConfig) RegisterWidth(addr uint16) int {
	if c.ShortRange.Contains(addr) {
		return 2
	}
	return 4
}
