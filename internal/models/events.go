package models

// LinkEventType discriminates the variants of LinkEvent.
type LinkEventType string

const (
	// LinkEventPeripheralFound reports a peripheral discovered during a scan.
	LinkEventPeripheralFound LinkEventType = "peripheral_found"
	// LinkEventScanStopped reports that scanning ended, by timeout or request.
	LinkEventScanStopped LinkEventType = "scan_stopped"
	// LinkEventConnected reports an established connection.
	LinkEventConnected LinkEventType = "connected"
	// LinkEventDisconnected reports connection teardown or link loss.
	LinkEventDisconnected LinkEventType = "disconnected"
	// LinkEventBatteryUpdated carries a decoded battery level.
	LinkEventBatteryUpdated LinkEventType = "battery_updated"
	// LinkEventMetricsUpdated carries a decoded computed-metrics sample.
	LinkEventMetricsUpdated LinkEventType = "metrics_updated"
	// LinkEventRawReadings carries the raw PPG readings of one payload.
	LinkEventRawReadings LinkEventType = "raw_readings"
	// LinkEventError carries a transport error description.
	LinkEventError LinkEventType = "error"
)

// LinkEvent is one typed event emitted by the device link. Exactly the
// fields relevant to Type are populated; the rest are zero.
type LinkEvent struct {
	Type       LinkEventType `json:"type"`
	Peripheral *Peripheral   `json:"peripheral,omitempty"`
	Battery    BatteryLevel  `json:"battery,omitempty"`
	Sample     *HRVSample    `json:"sample,omitempty"`
	Readings   []RawReading  `json:"readings,omitempty"`
	Error      string        `json:"error,omitempty"`
}
