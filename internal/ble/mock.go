package ble

import (
	"fmt"
	"sync"

	"github.com/beatbalance/hrvlink/internal/protocol"
)

// MockRadio is a scripted Radio for tests. Scan replays the configured
// advertisements and then blocks until StopScan; Connect serves devices
// from the Devices map. Notifications are injected through the mock
// characteristics.
type MockRadio struct {
	mu       sync.Mutex
	enabled  bool
	scanStop chan struct{}
	handler  func(address string, connected bool)

	Advertisements []ScanResult
	Devices        map[string]*MockDevice

	EnableErr  error
	ScanErr    error
	ConnectErr error
}

// NewMockRadio creates an empty MockRadio.
func NewMockRadio() *MockRadio {
	return &MockRadio{Devices: make(map[string]*MockDevice)}
}

// AddDevice registers a connectable device that advertises the sensor
// service, and returns it for scripting.
func (r *MockRadio) AddDevice(address, name string) *MockDevice {
	d := &MockDevice{
		Address: address,
		Chars: map[protocol.Role]*MockCharacteristic{
			protocol.RoleMetrics: {},
			protocol.RoleRawPPG:  {},
			protocol.RoleBattery: {},
			protocol.RoleControl: {},
		},
	}
	r.mu.Lock()
	r.Devices[address] = d
	r.Advertisements = append(r.Advertisements, ScanResult{Address: address, LocalName: name, HasService: true})
	r.mu.Unlock()
	return d
}

func (r *MockRadio) Enable() error {
	if r.EnableErr != nil {
		return r.EnableErr
	}
	r.mu.Lock()
	r.enabled = true
	r.mu.Unlock()
	return nil
}

func (r *MockRadio) SetConnectHandler(handler func(address string, connected bool)) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

// ReportLinkLoss invokes the registered connect handler as the platform
// stack would on an unexpected disconnect.
func (r *MockRadio) ReportLinkLoss(address string) {
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()
	if handler != nil {
		handler(address, false)
	}
}

func (r *MockRadio) Scan(callback func(ScanResult)) error {
	if r.ScanErr != nil {
		return r.ScanErr
	}
	r.mu.Lock()
	stop := make(chan struct{})
	r.scanStop = stop
	ads := make([]ScanResult, len(r.Advertisements))
	copy(ads, r.Advertisements)
	r.mu.Unlock()

	for _, ad := range ads {
		callback(ad)
	}
	<-stop
	return nil
}

func (r *MockRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanStop != nil {
		close(r.scanStop)
		r.scanStop = nil
	}
	return nil
}

func (r *MockRadio) Connect(address string) (Device, error) {
	if r.ConnectErr != nil {
		return nil, r.ConnectErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.Devices[address]
	if !ok {
		return nil, fmt.Errorf("no device at %s", address)
	}
	return d, nil
}

// MockDevice is a scripted connected peripheral.
type MockDevice struct {
	mu sync.Mutex

	Address      string
	Chars        map[protocol.Role]*MockCharacteristic
	CharsErr     error
	disconnected bool
}

func (d *MockDevice) Characteristics() (map[protocol.Role]Characteristic, error) {
	if d.CharsErr != nil {
		return nil, d.CharsErr
	}
	out := make(map[protocol.Role]Characteristic, len(d.Chars))
	for role, c := range d.Chars {
		out[role] = c
	}
	return out, nil
}

func (d *MockDevice) Disconnect() error {
	d.mu.Lock()
	d.disconnected = true
	d.mu.Unlock()
	return nil
}

// Disconnected reports whether Disconnect was called.
func (d *MockDevice) Disconnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnected
}

// MockCharacteristic records writes and lets tests inject notifications.
type MockCharacteristic struct {
	mu      sync.Mutex
	handler func([]byte)

	Writes   [][]byte
	WriteErr error
}

func (c *MockCharacteristic) EnableNotifications(handler func([]byte)) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
	return nil
}

func (c *MockCharacteristic) Write(data []byte) error {
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.mu.Lock()
	c.Writes = append(c.Writes, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

// Notify delivers a payload to the subscribed handler, as the sensor
// would over the air. Payloads sent before subscription are dropped.
func (c *MockCharacteristic) Notify(payload []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}

// WrittenBytes returns a copy of everything written to the characteristic.
func (c *MockCharacteristic) WrittenBytes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.Writes))
	copy(out, c.Writes)
	return out
}
