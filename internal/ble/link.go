package ble

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beatbalance/hrvlink/internal/models"
	"github.com/beatbalance/hrvlink/internal/protocol"
	"github.com/beatbalance/hrvlink/internal/signal"
)

// Default link timing.
const (
	// DefaultScanTimeout bounds a discovery scan. Expiry is not an error;
	// the scan just ends with whatever was found.
	DefaultScanTimeout = 10 * time.Second
	// DefaultReconnectGrace is how long the link waits after an unexpected
	// disconnect before attempting to reconnect, giving the sensor time to
	// resume advertising.
	DefaultReconnectGrace = 3 * time.Second

	eventBufferSize = 64
)

// DeviceSettings persists the last-connected peripheral address.
type DeviceSettings interface {
	SaveDeviceAddress(addr string) error
	DeviceAddress() (string, error)
	ForgetDeviceAddress() error
}

// RawSink receives raw reading hex strings while a recording is active.
type RawSink interface {
	Append(hexReadings []string)
}

// Opts holds configuration for the link.
type Opts struct {
	ScanTimeout    time.Duration
	ReconnectGrace time.Duration
}

// Option configures the link.
type Option func(*Opts)

// WithScanTimeout overrides the discovery scan timeout.
func WithScanTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ScanTimeout = d }
}

// WithReconnectGrace overrides the delay before auto-reconnect.
func WithReconnectGrace(d time.Duration) Option {
	return func(o *Opts) { o.ReconnectGrace = d }
}

// Link manages the connection to one wearable sensor: discovery,
// connection, characteristic subscriptions, recording control, and
// auto-reconnect. State changes and decoded payloads are published on the
// Events channel.
type Link struct {
	radio    Radio
	settings DeviceSettings
	opts     Opts
	events   chan models.LinkEvent

	mu           sync.Mutex
	state        models.ConnectionState
	peripherals  map[string]models.Peripheral
	connected    *models.Peripheral
	device       Device
	control      Characteristic
	scanning     bool
	scanTimer    *time.Timer
	intentional  bool
	recording    bool
	rawSink      RawSink
	smoother     *signal.Smoother
	battery      models.BatteryLevel
	lastSample   *models.HRVSample
	reconnecting bool
}

// New creates a Link on the given radio. The radio is not enabled until
// Enable is called.
func New(radio Radio, settings DeviceSettings, options ...Option) *Link {
	opts := Opts{
		ScanTimeout:    DefaultScanTimeout,
		ReconnectGrace: DefaultReconnectGrace,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return &Link{
		radio:       radio,
		settings:    settings,
		opts:        opts,
		events:      make(chan models.LinkEvent, eventBufferSize),
		state:       models.ConnectionDisconnected,
		peripherals: make(map[string]models.Peripheral),
		smoother:    signal.NewSmoother(),
		battery:     models.BatteryUnknown,
	}
}

// Enable powers on the radio and registers the link-loss handler.
func (l *Link) Enable() error {
	if err := l.radio.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE radio: %w", err)
	}
	l.radio.SetConnectHandler(l.handleConnectChange)
	slog.Debug("Link radio enabled")
	return nil
}

// Events returns the channel of link events. Events are dropped, with a
// warning, when the consumer falls behind.
func (l *Link) Events() <-chan models.LinkEvent {
	return l.events
}

func (l *Link) emit(ev models.LinkEvent) {
	select {
	case l.events <- ev:
	default:
		slog.Warn("Link event dropped, consumer too slow", "type", ev.Type)
	}
}

// State returns the current connection state.
func (l *Link) State() models.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connected returns the connected peripheral, or nil.
func (l *Link) Connected() *models.Peripheral {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected == nil {
		return nil
	}
	p := *l.connected
	return &p
}

// Battery returns the last decoded battery level.
func (l *Link) Battery() models.BatteryLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.battery
}

// LastSample returns the most recent decoded metrics sample, or nil.
func (l *Link) LastSample() *models.HRVSample {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastSample == nil {
		return nil
	}
	s := *l.lastSample
	return &s
}

// Peripherals returns the peripherals found by the current or most recent
// scan, deduplicated by address.
func (l *Link) Peripherals() []models.Peripheral {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Peripheral, 0, len(l.peripherals))
	for _, p := range l.peripherals {
		out = append(out, p)
	}
	return out
}

// WaveformDisplay returns the smoothed raw-waveform points of the active
// recording, oldest first.
func (l *Link) WaveformDisplay() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.smoother.Display()
}

// Scan starts discovery of sensors advertising the sensor service. The
// scan stops on Connect, StopScan, or timeout. Starting a scan while one
// is running is a no-op.
func (l *Link) Scan() error {
	l.mu.Lock()
	if l.scanning {
		l.mu.Unlock()
		return nil
	}
	l.scanning = true
	l.peripherals = make(map[string]models.Peripheral)
	l.scanTimer = time.AfterFunc(l.opts.ScanTimeout, func() {
		slog.Debug("Link scan timeout reached")
		l.StopScan()
	})
	l.mu.Unlock()

	slog.Info("Link scan started", "timeout", l.opts.ScanTimeout)
	go func() {
		err := l.radio.Scan(l.handleAdvertisement)
		if err != nil {
			slog.Error("Link scan failed", "error", err)
			l.emit(models.LinkEvent{Type: models.LinkEventError, Error: err.Error()})
			l.StopScan()
		}
	}()
	return nil
}

func (l *Link) handleAdvertisement(res ScanResult) {
	if !res.HasService {
		return
	}
	p := models.Peripheral{ID: res.Address, Name: res.LocalName, State: models.ConnectionDisconnected}

	l.mu.Lock()
	_, seen := l.peripherals[p.ID]
	l.peripherals[p.ID] = p
	l.mu.Unlock()
	if seen {
		return
	}

	slog.Debug("Link found peripheral", "address", p.ID, "name", p.Name)
	l.emit(models.LinkEvent{Type: models.LinkEventPeripheralFound, Peripheral: &p})
}

// StopScan ends an in-progress scan. Safe to call when no scan is running.
func (l *Link) StopScan() {
	l.mu.Lock()
	if !l.scanning {
		l.mu.Unlock()
		return
	}
	l.scanning = false
	if l.scanTimer != nil {
		l.scanTimer.Stop()
		l.scanTimer = nil
	}
	l.mu.Unlock()

	if err := l.radio.StopScan(); err != nil {
		slog.Error("Link stop scan failed", "error", err)
	}
	slog.Info("Link scan stopped")
	l.emit(models.LinkEvent{Type: models.LinkEventScanStopped})
}

// Connect connects to a peripheral by address, discovers the sensor
// characteristics, subscribes to the three notification streams, and
// persists the address for later reconnects.
func (l *Link) Connect(address string) error {
	l.StopScan()

	l.mu.Lock()
	if l.device != nil {
		l.mu.Unlock()
		return fmt.Errorf("already connected; disconnect first")
	}
	l.state = models.ConnectionConnecting
	l.intentional = false
	name := l.peripherals[address].Name
	l.mu.Unlock()

	slog.Info("Link connecting", "address", address)
	dev, err := l.radio.Connect(address)
	if err != nil {
		l.mu.Lock()
		l.state = models.ConnectionDisconnected
		l.mu.Unlock()
		l.emit(models.LinkEvent{Type: models.LinkEventError, Error: err.Error()})
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	chars, err := dev.Characteristics()
	if err != nil {
		dev.Disconnect()
		l.mu.Lock()
		l.state = models.ConnectionDisconnected
		l.mu.Unlock()
		l.emit(models.LinkEvent{Type: models.LinkEventError, Error: err.Error()})
		return fmt.Errorf("failed to discover characteristics on %s: %w", address, err)
	}

	for role, handler := range map[protocol.Role]func([]byte){
		protocol.RoleMetrics: l.handleMetrics,
		protocol.RoleRawPPG:  l.handleRawPPG,
		protocol.RoleBattery: l.handleBattery,
	} {
		c, ok := chars[role]
		if !ok {
			slog.Warn("Link characteristic missing", "role", role, "address", address)
			continue
		}
		if err := c.EnableNotifications(handler); err != nil {
			slog.Error("Link subscription failed", "error", err, "role", role)
		}
	}

	peripheral := models.Peripheral{ID: address, Name: name, State: models.ConnectionConnected}
	l.mu.Lock()
	l.device = dev
	l.control = chars[protocol.RoleControl]
	l.connected = &peripheral
	l.state = models.ConnectionConnected
	l.mu.Unlock()

	if err := l.settings.SaveDeviceAddress(address); err != nil {
		slog.Error("Link failed to save device address", "error", err, "address", address)
	}

	slog.Info("Link connected", "address", address, "name", name)
	l.emit(models.LinkEvent{Type: models.LinkEventConnected, Peripheral: &peripheral})
	return nil
}

// ReconnectSaved reconnects to the persisted peripheral. It first tries a
// direct connect, then falls back to scanning for the address. Returns
// models.ErrNoDeviceSaved when no address is persisted.
func (l *Link) ReconnectSaved() error {
	addr, err := l.settings.DeviceAddress()
	if err != nil {
		return err
	}

	slog.Info("Link reconnecting to saved device", "address", addr)
	if err := l.Connect(addr); err == nil {
		return nil
	}

	// Hold the grace window before giving up on the direct connect; the
	// device may still be re-advertising after a drop.
	time.Sleep(l.opts.ReconnectGrace)

	// The platform may be unable to resolve an address it has not seen
	// since boot; scan until the device shows up.
	found := make(chan struct{}, 1)
	l.mu.Lock()
	l.scanning = true
	l.peripherals = make(map[string]models.Peripheral)
	l.scanTimer = time.AfterFunc(l.opts.ScanTimeout, func() { l.StopScan() })
	l.mu.Unlock()

	go func() {
		err := l.radio.Scan(func(res ScanResult) {
			l.handleAdvertisement(res)
			if res.Address == addr {
				select {
				case found <- struct{}{}:
				default:
				}
			}
		})
		if err != nil {
			slog.Error("Link reconnect scan failed", "error", err)
			l.StopScan()
		}
	}()

	select {
	case <-found:
		l.StopScan()
		return l.Connect(addr)
	case <-time.After(l.opts.ScanTimeout):
		l.StopScan()
		return fmt.Errorf("saved device %s not found", addr)
	}
}

// Disconnect tears down the current connection. A no-op when not
// connected.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	dev := l.device
	l.device = nil
	l.control = nil
	l.connected = nil
	l.recording = false
	l.rawSink = nil
	l.state = models.ConnectionDisconnected
	l.intentional = true
	l.mu.Unlock()

	if dev == nil {
		return nil
	}
	if err := dev.Disconnect(); err != nil {
		slog.Error("Link disconnect failed", "error", err)
		return err
	}
	slog.Info("Link disconnected")
	l.emit(models.LinkEvent{Type: models.LinkEventDisconnected})
	return nil
}

// Forget disconnects and erases the persisted peripheral address, so the
// next start does not auto-reconnect.
func (l *Link) Forget() error {
	if err := l.Disconnect(); err != nil {
		return err
	}
	if err := l.settings.ForgetDeviceAddress(); err != nil {
		return fmt.Errorf("failed to forget device: %w", err)
	}
	slog.Info("Link device forgotten")
	return nil
}

// StartRecording resets the waveform filter, routes raw readings to sink,
// and writes the start command to the control point. A failed control
// write is logged but does not abort the recording; the sensor streams
// regardless.
func (l *Link) StartRecording(sink RawSink) error {
	l.mu.Lock()
	if l.device == nil {
		l.mu.Unlock()
		slog.Warn("Link start recording ignored, not connected")
		return models.ErrNotConnected
	}
	control := l.control
	if control == nil {
		l.mu.Unlock()
		slog.Warn("Link start recording ignored, control characteristic missing")
		return models.ErrNoControlCharacteristic
	}
	l.smoother.Reset()
	l.rawSink = sink
	l.recording = true
	l.mu.Unlock()

	if err := control.Write([]byte{protocol.ControlStart}); err != nil {
		slog.Error("Link start command write failed", "error", err)
	}
	slog.Info("Link recording started")
	return nil
}

// StopRecording writes the stop command and stops routing raw readings.
// Safe to call when the device is already gone; local recording state is
// cleared regardless.
func (l *Link) StopRecording() {
	l.mu.Lock()
	control := l.control
	l.recording = false
	l.rawSink = nil
	l.mu.Unlock()

	if control != nil {
		if err := control.Write([]byte{protocol.ControlStop}); err != nil {
			slog.Error("Link stop command write failed", "error", err)
		}
	}
	slog.Info("Link recording stopped")
}

func (l *Link) handleMetrics(payload []byte) {
	sample, ok := protocol.DecodeMetrics(payload)
	if !ok {
		return
	}
	l.mu.Lock()
	l.lastSample = &sample
	l.mu.Unlock()
	l.emit(models.LinkEvent{Type: models.LinkEventMetricsUpdated, Sample: &sample})
}

func (l *Link) handleRawPPG(payload []byte) {
	readings := protocol.ExtractRawReadings(payload)
	if len(readings) == 0 {
		return
	}

	l.mu.Lock()
	if !l.recording {
		l.mu.Unlock()
		return
	}
	l.smoother.Append(readings)
	sink := l.rawSink
	l.mu.Unlock()

	if sink != nil {
		hexes := make([]string, len(readings))
		for i, r := range readings {
			hexes[i] = r.Hex
		}
		sink.Append(hexes)
	}
	l.emit(models.LinkEvent{Type: models.LinkEventRawReadings, Readings: readings})
}

func (l *Link) handleBattery(payload []byte) {
	level := protocol.DecodeBattery(payload)
	l.mu.Lock()
	l.battery = level
	l.mu.Unlock()
	slog.Debug("Link battery updated", "level", level)
	l.emit(models.LinkEvent{Type: models.LinkEventBatteryUpdated, Battery: level})
}

// handleConnectChange reacts to connection state changes reported by the
// platform stack. An unexpected disconnect triggers an auto-reconnect
// attempt after the grace period.
func (l *Link) handleConnectChange(address string, connected bool) {
	if connected {
		return
	}

	l.mu.Lock()
	current := l.connected
	intentional := l.intentional
	if current == nil || current.ID != address {
		l.mu.Unlock()
		return
	}
	l.device = nil
	l.control = nil
	l.connected = nil
	l.recording = false
	l.rawSink = nil
	l.state = models.ConnectionDisconnected
	alreadyReconnecting := l.reconnecting
	if !intentional {
		l.reconnecting = true
	}
	l.mu.Unlock()

	slog.Warn("Link lost connection", "address", address, "intentional", intentional)
	l.emit(models.LinkEvent{Type: models.LinkEventDisconnected})

	if intentional || alreadyReconnecting {
		return
	}
	time.AfterFunc(l.opts.ReconnectGrace, func() {
		defer func() {
			l.mu.Lock()
			l.reconnecting = false
			l.mu.Unlock()
		}()
		if err := l.ReconnectSaved(); err != nil {
			slog.Error("Link auto-reconnect failed", "error", err, "address", address)
			l.emit(models.LinkEvent{Type: models.LinkEventError, Error: err.Error()})
		}
	})
}
