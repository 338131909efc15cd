package protocol

import (
	"testing"

	"github.com/beatbalance/hrvlink/internal/models"
)

func TestParseMetricsFrame(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		want   models.HRVSample
		wantOK bool
	}{
		{
			name:   "good quality frame",
			frame:  "45.2 38.7 72.0 G",
			want:   models.HRVSample{SDNN: 45.2, RMSSD: 38.7, AverageHR: 72.0, Quality: models.SignalQualityGood},
			wantOK: true,
		},
		{
			name:   "excellent quality frame",
			frame:  "60.1 55.9 64.5 E",
			want:   models.HRVSample{SDNN: 60.1, RMSSD: 55.9, AverageHR: 64.5, Quality: models.SignalQualityExcellent},
			wantOK: true,
		},
		{
			name:   "invalid quality frame",
			frame:  "0.0 0.0 0.0 I",
			want:   models.HRVSample{Quality: models.SignalQualityInvalid},
			wantOK: true,
		},
		{
			name:   "low quality frame",
			frame:  "12.5 10.0 80.2 P",
			want:   models.HRVSample{SDNN: 12.5, RMSSD: 10.0, AverageHR: 80.2, Quality: models.SignalQualityLow},
			wantOK: true,
		},
		{
			name:   "unknown quality code",
			frame:  "45.2 38.7 72.0 9",
			want:   models.HRVSample{SDNN: 45.2, RMSSD: 38.7, AverageHR: 72.0, Quality: models.SignalQualityUnknown},
			wantOK: true,
		},
		{name: "too few tokens", frame: "45.2 38.7 G", wantOK: false},
		{name: "too many tokens", frame: "45.2 38.7 72.0 1.0 G", wantOK: false},
		{name: "non-numeric sdnn", frame: "abc 38.7 72.0 G", wantOK: false},
		{name: "non-numeric rmssd", frame: "45.2 x 72.0 G", wantOK: false},
		{name: "non-numeric average HR", frame: "45.2 38.7 .. G", wantOK: false},
		{name: "empty frame", frame: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseMetricsFrame(tt.frame)
			if ok != tt.wantOK {
				t.Fatalf("ParseMetricsFrame(%q) ok = %v, want %v", tt.frame, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseMetricsFrame(%q) = %+v, want %+v", tt.frame, got, tt.want)
			}
		})
	}
}

func TestDecodeMetricsFiltersNoise(t *testing.T) {
	// Frame bytes surrounded by non-allow-listed noise must still decode.
	payload := append([]byte{0x00, 0xff, '\n'}, []byte("45.2 38.7 72.0 G")...)
	payload = append(payload, 0x01, 0x80)

	got, ok := DecodeMetrics(payload)
	if !ok {
		t.Fatal("DecodeMetrics returned no sample for valid noisy payload")
	}
	want := models.HRVSample{SDNN: 45.2, RMSSD: 38.7, AverageHR: 72.0, Quality: models.SignalQualityGood}
	if got != want {
		t.Errorf("DecodeMetrics = %+v, want %+v", got, want)
	}
}

func TestFilterMetricsPayload(t *testing.T) {
	in := []byte{0x00, '4', '5', '.', '2', ' ', 'G', 'Z', 0xfe, 'I', 'P', 'E', '\t'}
	want := "45.2 GIPE"
	if got := string(FilterMetricsPayload(in)); got != want {
		t.Errorf("FilterMetricsPayload = %q, want %q", got, want)
	}
}

func TestExtractRawReadings(t *testing.T) {
	payload := []byte{0x12, 0x34, 0xfe, 0xab, 0xcd, 0xfe, 0x00, 0x10, 0xfe}
	readings := ExtractRawReadings(payload)
	if len(readings) != 3 {
		t.Fatalf("got %d readings, want 3", len(readings))
	}

	want := []models.RawReading{
		{Value: 0x1234, Hex: "1234"},
		{Value: 0xabcd, Hex: "abcd"},
		{Value: 0x0010, Hex: "0010"},
	}
	for i, r := range readings {
		if r != want[i] {
			t.Errorf("reading %d = %+v, want %+v", i, r, want[i])
		}
	}
}

func TestExtractRawReadingsNoDelimiter(t *testing.T) {
	if got := ExtractRawReadings([]byte{0x01, 0x02, 0x03, 0x04}); len(got) != 0 {
		t.Errorf("got %d readings from delimiter-free payload, want 0", len(got))
	}
	if got := ExtractRawReadings(nil); len(got) != 0 {
		t.Errorf("got %d readings from empty payload, want 0", len(got))
	}
}

func TestExtractRawReadingsPreservesOrder(t *testing.T) {
	var payload []byte
	for i := 0; i < 10; i++ {
		payload = append(payload, 0x00, byte(i), 0xfe)
	}
	readings := ExtractRawReadings(payload)
	if len(readings) != 10 {
		t.Fatalf("got %d readings, want 10", len(readings))
	}
	for i, r := range readings {
		if r.Value != uint16(i) {
			t.Errorf("reading %d = %d, out of order", i, r.Value)
		}
	}
}

func TestDecodeBattery(t *testing.T) {
	tests := []struct {
		payload []byte
		want    models.BatteryLevel
	}{
		{[]byte{0x52}, models.BatteryRed},
		{[]byte{0x59}, models.BatteryYellow},
		{[]byte{0x47}, models.BatteryGreen},
		{[]byte{0x00}, models.BatteryUnknown},
		{[]byte{'x'}, models.BatteryUnknown},
		{nil, models.BatteryUnknown},
	}
	for _, tt := range tests {
		if got := DecodeBattery(tt.payload); got != tt.want {
			t.Errorf("DecodeBattery(%#v) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}
