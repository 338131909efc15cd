// Package ble owns the wearable sensor link.
//
// It manages discovery, connection, characteristic subscription, and
// recording control for exactly one peripheral at a time, and publishes
// every observable state change as a typed event. The BLE adapter sits
// behind the Radio interface so the link logic is testable without
// hardware.
package ble

import "github.com/beatbalance/hrvlink/internal/protocol"

// ScanResult is one advertisement seen during discovery.
type ScanResult struct {
	Address    string
	LocalName  string
	HasService bool // advertises the sensor service
}

// Radio abstracts the BLE adapter.
type Radio interface {
	// Enable powers on the BLE stack. Must be called once before any
	// other operation.
	Enable() error
	// SetConnectHandler registers a callback for connection state changes
	// reported by the platform stack, including unexpected link loss.
	SetConnectHandler(handler func(address string, connected bool))
	// Scan starts discovery and blocks until StopScan, invoking the
	// callback for each advertisement.
	Scan(callback func(ScanResult)) error
	// StopScan cancels an in-progress Scan.
	StopScan() error
	// Connect resolves an address previously seen in a scan (or directly
	// resolvable by the platform) and connects to it.
	Connect(address string) (Device, error)
}

// Device is a connected peripheral.
type Device interface {
	// Characteristics discovers the sensor service and returns its
	// characteristics keyed by role.
	Characteristics() (map[protocol.Role]Characteristic, error)
	// Disconnect tears the connection down.
	Disconnect() error
}

// Characteristic is one characteristic stream on a connected device.
type Characteristic interface {
	// EnableNotifications subscribes to value updates. A nil handler
	// unsubscribes.
	EnableNotifications(handler func([]byte)) error
	// Write writes a value to the characteristic.
	Write(data []byte) error
}
