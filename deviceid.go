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

// Read Device Identification codes for FC43/14.
const (
	DeviceIDBasic    = 1
	DeviceIDRegular  = 2
	DeviceIDExtended = 3
	DeviceIDSpecific = 4
)

// ReadDeviceIdentification reads device identification objects (FC43/14).
// When the device reports more follows, follow-up requests are issued with
// the reported next object id and the object maps are merged. The loop
// stops when the device reports no continuation or returns zero objects,
// which guards against devices that would otherwise never terminate.
func (c *Client) ReadDeviceIdentification(deviceIDCode, objectID uint8) (*DeviceIdentification, error) {
	if deviceIDCode < DeviceIDBasic || deviceIDCode > DeviceIDSpecific {
		return nil, fmt.Errorf("modbus: device id code must be 1-4, got %d", deviceIDCode)
	}

	merged := &DeviceIdentification{Objects: make(map[uint8]string)}
	nextObject := objectID
	for {
		resp, err := c.roundTrip(buildReadDeviceID(c.GetSlaveID(), deviceIDCode, nextObject))
		if err != nil {
			return nil, err
		}
		page := resp.(*DeviceIdentification)
		for id, value := range page.Objects {
			merged.Objects[id] = value
		}
		merged.ConformityLevel = page.ConformityLevel
		merged.Trace = page.Trace

		if page.moreFollows == 0 || len(page.Objects) == 0 {
			return merged, nil
		}
		nextObject = page.nextObjectID
	}
}
