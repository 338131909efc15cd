// Package protocol decodes the wearable sensor's wire protocol.
//
// The sensor exposes one BLE service with four characteristics: a computed
// HRV metrics stream, a raw PPG waveform stream, a battery status stream,
// and a writable recording control point. All decoding here is pure and
// stateless; malformed payloads yield empty results, never errors.
package protocol

import (
	"encoding/hex"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/beatbalance/hrvlink/internal/models"
)

// Service and characteristic identifiers for the sensor.
const (
	ServiceID               = "2ef946af-49fc-43f4-95c1-882a483f0a76"
	MetricsCharacteristicID = "8881ab16-7694-4891-aebe-b0b11c6549d4"
	RawPPGCharacteristicID  = "4aa76196-2777-4205-8260-8e3274beb327"
	BatteryCharacteristicID = "a20a1ce0-5f2e-4230-88fe-05eb329dc545"
	ControlCharacteristicID = "684c8f42-a60c-431c-b8ed-251e966d6a9a"
)

// Recording control point command bytes.
const (
	ControlStart byte = 0x01
	ControlStop  byte = 0x00
)

// Role identifies which of the four characteristic streams a payload
// arrived on.
type Role string

const (
	RoleMetrics Role = "metrics"
	RoleRawPPG  Role = "raw_ppg"
	RoleBattery Role = "battery"
	RoleControl Role = "control"
)

// Raw PPG readings arrive as repeated 2-byte big-endian values, each
// followed by a 0xFE delimiter, matched against the hex encoding of the
// payload.
var rawReadingPattern = regexp.MustCompile(`(\w{4})(fe)`)

// FilterMetricsPayload strips every byte outside the metrics frame
// alphabet: digits, space, period, and the quality code characters
// G, P, E, and I.
func FilterMetricsPayload(payload []byte) []byte {
	filtered := make([]byte, 0, len(payload))
	for _, b := range payload {
		switch {
		case b >= '0' && b <= '9', b == ' ', b == '.', b == 'G', b == 'P', b == 'E', b == 'I':
			filtered = append(filtered, b)
		}
	}
	return filtered
}

// ParseMetricsFrame parses a space-delimited computed-metrics frame of the
// form "<sdnn> <rmssd> <avgHR> <qualityChar>". It returns ok=false for any
// frame that does not split into exactly four tokens or whose numeric
// fields do not parse; no partial sample is ever returned.
func ParseMetricsFrame(frame string) (models.HRVSample, bool) {
	tokens := strings.Fields(frame)
	if len(tokens) != 4 {
		slog.Debug("protocol: dropping metrics frame with wrong token count", "tokens", len(tokens), "frame", frame)
		return models.HRVSample{}, false
	}

	sdnn, err := strconv.ParseFloat(tokens[0], 64)
	if err != nil {
		slog.Debug("protocol: dropping metrics frame, bad sdnn", "token", tokens[0])
		return models.HRVSample{}, false
	}
	rmssd, err := strconv.ParseFloat(tokens[1], 64)
	if err != nil {
		slog.Debug("protocol: dropping metrics frame, bad rmssd", "token", tokens[1])
		return models.HRVSample{}, false
	}
	avgHR, err := strconv.ParseFloat(tokens[2], 64)
	if err != nil {
		slog.Debug("protocol: dropping metrics frame, bad average HR", "token", tokens[2])
		return models.HRVSample{}, false
	}

	return models.HRVSample{
		SDNN:      sdnn,
		RMSSD:     rmssd,
		AverageHR: avgHR,
		Quality:   qualityFromCode(tokens[3]),
	}, true
}

// DecodeMetrics applies the allow-list filter and frame parser to a raw
// metrics characteristic payload.
func DecodeMetrics(payload []byte) (models.HRVSample, bool) {
	return ParseMetricsFrame(string(FilterMetricsPayload(payload)))
}

func qualityFromCode(token string) models.SignalQuality {
	switch token[0] {
	case 'I':
		return models.SignalQualityInvalid
	case 'P':
		return models.SignalQualityLow
	case 'G':
		return models.SignalQualityGood
	case 'E':
		return models.SignalQualityExcellent
	default:
		return models.SignalQualityUnknown
	}
}

// ExtractRawReadings decodes a raw PPG characteristic payload into the
// ordered readings it contains. A payload with no delimiter matches yields
// an empty slice.
func ExtractRawReadings(payload []byte) []models.RawReading {
	hexString := hex.EncodeToString(payload)
	matches := rawReadingPattern.FindAllStringSubmatch(hexString, -1)
	if len(matches) == 0 {
		return nil
	}

	readings := make([]models.RawReading, 0, len(matches))
	for _, m := range matches {
		value, err := strconv.ParseUint(m[1], 16, 16)
		if err != nil {
			// \w also matches non-hex word characters; skip such groups.
			slog.Debug("protocol: skipping unparsable raw reading group", "group", m[1])
			continue
		}
		readings = append(readings, models.RawReading{Value: uint16(value), Hex: m[1]})
	}
	return readings
}

// DecodeBattery maps a battery characteristic payload to a battery level.
// The sensor reports a single ASCII byte: 'R', 'Y', or 'G'.
func DecodeBattery(payload []byte) models.BatteryLevel {
	if len(payload) == 0 {
		return models.BatteryUnknown
	}
	switch payload[0] {
	case 'R':
		return models.BatteryRed
	case 'Y':
		return models.BatteryYellow
	case 'G':
		return models.BatteryGreen
	default:
		return models.BatteryUnknown
	}
}
