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
	"io"
	"os"
	"time"

	serial "github.com/hootrhino/goserial"
	"gopkg.in/yaml.v3"
)

// Client transport modes accepted by ClientConfig.
const (
	ModeSerial     = "serial"
	ModeTCP        = "tcp"
	ModeRTUOverTCP = "rtu_over_tcp"
)

// ClientConfig describes a client and its transport in YAML form.
type ClientConfig struct {
	Mode      string `yaml:"mode"`      // serial | tcp | rtu_over_tcp
	Address   string `yaml:"address"`   // device path or host:port
	BaudRate  int    `yaml:"baud_rate"` // serial only
	DataBits  int    `yaml:"data_bits"` // serial only
	StopBits  int    `yaml:"stop_bits"` // serial only
	Parity    string `yaml:"parity"`    // serial only: N, E or O
	SlaveID   uint8  `yaml:"slave_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Debug     bool   `yaml:"debug"`

	// Enron enables the Enron extension when present.
	Enron *EnronConfig `yaml:"enron"`
}

// LoadClientConfig reads a YAML client configuration.
func LoadClientConfig(r io.Reader) (*ClientConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("modbus: failed to read config: %w", err)
	}
	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("modbus: failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// LoadClientConfigFile reads a YAML client configuration from path.
func LoadClientConfigFile(path string) (*ClientConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("modbus: failed to open config %s: %w", path, err)
	}
	defer f.Close()
	return LoadClientConfig(f)
}

// Validate checks configuration correctness. It does not mutate the
// configuration.
func (c *ClientConfig) Validate() error {
	switch c.Mode {
	case ModeSerial, ModeTCP, ModeRTUOverTCP:
	case "":
		return fmt.Errorf("modbus: config mode is required")
	default:
		return fmt.Errorf("modbus: unknown mode %q", c.Mode)
	}
	if c.Address == "" {
		return fmt.Errorf("modbus: config address is required")
	}
	if c.SlaveID > MaxSlaveAddress {
		return fmt.Errorf("modbus: slave_id %d out of range 0-%d", c.SlaveID, MaxSlaveAddress)
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("modbus: timeout_ms must not be negative")
	}
	if c.Mode == ModeSerial {
		switch c.Parity {
		case "", "N", "E", "O":
		default:
			return fmt.Errorf("modbus: parity must be N, E or O, got %q", c.Parity)
		}
	}
	if c.Enron != nil {
		if err := c.Enron.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Normalize fills in defaults. Call only after Validate.
func (c *ClientConfig) Normalize() {
	if c.SlaveID == 0 && c.Mode != "" {
		// zero would broadcast every request; default to unit 1
		c.SlaveID = 1
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = int(DefaultTimeout / time.Millisecond)
	}
	if c.Mode == ModeSerial {
		if c.BaudRate == 0 {
			c.BaudRate = 9600
		}
		if c.DataBits == 0 {
			c.DataBits = 8
		}
		if c.StopBits == 0 {
			c.StopBits = 1
		}
		if c.Parity == "" {
			c.Parity = "N"
		}
	}
}

// Timeout returns the configured response timeout.
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// NewPort builds the transport the configuration describes.
func (c *ClientConfig) NewPort() (Port, error) {
	switch c.Mode {
	case ModeSerial:
		return NewSerialPort(serial.Config{
			Address:  c.Address,
			BaudRate: c.BaudRate,
			DataBits: c.DataBits,
			StopBits: c.StopBits,
			Parity:   c.Parity,
			Timeout:  c.Timeout(),
		}), nil
	case ModeTCP:
		return NewTCPPort(c.Address, c.Timeout()), nil
	case ModeRTUOverTCP:
		return NewRTUOverTCPPort(c.Address, c.Timeout()), nil
	}
	return nil, fmt.Errorf("modbus: unknown mode %q", c.Mode)
}

// NewClientFromConfig builds a configured client. The port is not opened.
func NewClientFromConfig(cfg *ClientConfig) (*Client, error) {
	port, err := cfg.NewPort()
	if err != nil {
		return nil, err
	}
	client := NewClient(port)
	if err := client.SetSlaveID(cfg.SlaveID); err != nil {
		return nil, err
	}
	client.SetTimeout(cfg.Timeout())
	client.SetDebug(cfg.Debug)
	if cfg.Enron != nil {
		if err := client.SetEnron(cfg.Enron); err != nil {
			return nil, err
		}
	}
	return client, nil
}
