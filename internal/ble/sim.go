package ble

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Simulator drives a MockRadio like a real sensor: it advertises one
// peripheral and, while running, streams plausible metrics, raw PPG, and
// battery payloads. Used for development without hardware.
type Simulator struct {
	Radio *MockRadio
	dev   *MockDevice
}

// NewSimulator creates a simulator with one advertised sensor.
func NewSimulator() *Simulator {
	radio := NewMockRadio()
	dev := radio.AddDevice("C0:FF:EE:00:00:01", "BeatBalance Sim")
	return &Simulator{Radio: radio, dev: dev}
}

// Run streams sensor payloads until the context is cancelled. Payloads
// sent before the link subscribes are dropped by the mock, matching a real
// sensor broadcasting into the void.
func (s *Simulator) Run(ctx context.Context) {
	metrics := time.NewTicker(time.Second)
	raw := time.NewTicker(100 * time.Millisecond)
	battery := time.NewTicker(10 * time.Second)
	defer metrics.Stop()
	defer raw.Stop()
	defer battery.Stop()

	sdnn := 45.0
	hr := 70.0
	s.dev.Chars["battery"].Notify([]byte{'G'})

	for {
		select {
		case <-ctx.Done():
			return
		case <-metrics.C:
			sdnn += rand.Float64()*4 - 2
			hr += rand.Float64()*2 - 1
			quality := "G"
			if rand.IntN(10) == 0 {
				quality = "P"
			}
			frame := fmt.Sprintf("%.1f %.1f %.1f %s", sdnn, sdnn*0.85, hr, quality)
			s.dev.Chars["metrics"].Notify([]byte(frame))
		case <-raw.C:
			var payload []byte
			for i := 0; i < 3; i++ {
				v := uint16(2000 + rand.IntN(500))
				payload = append(payload, byte(v>>8), byte(v), 0xfe)
			}
			s.dev.Chars["raw_ppg"].Notify(payload)
		case <-battery.C:
			s.dev.Chars["battery"].Notify([]byte{'G'})
		}
	}
}
