// Package ble owns the wearable sensor link.
//
// This file implements Radio on top of tinygo.org/x/bluetooth.
package ble

import (
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/beatbalance/hrvlink/internal/protocol"
)

var (
	sensorService = must(bluetooth.ParseUUID(protocol.ServiceID))

	characteristicUUIDs = map[protocol.Role]bluetooth.UUID{
		protocol.RoleMetrics: must(bluetooth.ParseUUID(protocol.MetricsCharacteristicID)),
		protocol.RoleRawPPG:  must(bluetooth.ParseUUID(protocol.RawPPGCharacteristicID)),
		protocol.RoleBattery: must(bluetooth.ParseUUID(protocol.BatteryCharacteristicID)),
		protocol.RoleControl: must(bluetooth.ParseUUID(protocol.ControlCharacteristicID)),
	}
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// HardwareRadio implements Radio on the platform BLE adapter.
type HardwareRadio struct {
	adapter *bluetooth.Adapter

	mu    sync.Mutex
	known map[string]bluetooth.Address // addresses seen in scans, for connect
}

// NewHardwareRadio returns a Radio backed by the default adapter.
func NewHardwareRadio() *HardwareRadio {
	return &HardwareRadio{
		adapter: bluetooth.DefaultAdapter,
		known:   make(map[string]bluetooth.Address),
	}
}

func (r *HardwareRadio) Enable() error {
	return r.adapter.Enable()
}

func (r *HardwareRadio) SetConnectHandler(handler func(address string, connected bool)) {
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		handler(device.Address.String(), connected)
	})
}

func (r *HardwareRadio) Scan(callback func(ScanResult)) error {
	return r.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		r.mu.Lock()
		r.known[addr] = result.Address
		r.mu.Unlock()
		callback(ScanResult{
			Address:    addr,
			LocalName:  result.LocalName(),
			HasService: result.AdvertisementPayload.HasServiceUUID(sensorService),
		})
	})
}

func (r *HardwareRadio) StopScan() error {
	return r.adapter.StopScan()
}

// Connect connects to an address previously observed in a scan. Addresses
// that have never been seen cannot be resolved; callers fall back to
// scanning.
func (r *HardwareRadio) Connect(address string) (Device, error) {
	r.mu.Lock()
	addr, ok := r.known[address]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("address %s not resolvable without a scan", address)
	}

	dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return &hardwareDevice{dev: dev}, nil
}

type hardwareDevice struct {
	dev bluetooth.Device
}

func (d *hardwareDevice) Characteristics() (map[protocol.Role]Characteristic, error) {
	services, err := d.dev.DiscoverServices([]bluetooth.UUID{sensorService})
	if err != nil {
		return nil, fmt.Errorf("failed to discover sensor service: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("sensor service not found")
	}

	var uuids []bluetooth.UUID
	for _, u := range characteristicUUIDs {
		uuids = append(uuids, u)
	}
	chars, err := services[0].DiscoverCharacteristics(uuids)
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", err)
	}

	out := make(map[protocol.Role]Characteristic, len(chars))
	for _, c := range chars {
		for role, u := range characteristicUUIDs {
			if c.UUID() == u {
				out[role] = &hardwareCharacteristic{char: c}
			}
		}
	}
	return out, nil
}

func (d *hardwareDevice) Disconnect() error {
	return d.dev.Disconnect()
}

type hardwareCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *hardwareCharacteristic) EnableNotifications(handler func([]byte)) error {
	return c.char.EnableNotifications(handler)
}

func (c *hardwareCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
