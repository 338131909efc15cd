package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantPrefix string
		wantLength int
	}{
		{name: "user ID format", prefix: "u_", hexLength: 32, wantPrefix: "u_", wantLength: 34},
		{name: "custom prefix", prefix: "test_", hexLength: 16, wantPrefix: "test_", wantLength: 21},
		{name: "zero length", prefix: "x_", hexLength: 0, wantPrefix: "x_", wantLength: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)
			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("GenerateRandomID(%q, %d) = %q, missing prefix", tt.prefix, tt.hexLength, got)
			}
			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID(%q, %d) has length %d, want %d", tt.prefix, tt.hexLength, len(got), tt.wantLength)
			}
		})
	}
}

func TestGenerateRandomHexCharset(t *testing.T) {
	got := GenerateRandomHex(64)
	if len(got) != 64 {
		t.Fatalf("length = %d, want 64", len(got))
	}
	for _, c := range got {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("non-hex character %q in %q", c, got)
		}
	}
}

func TestGenerateUserIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateUserID()
		if seen[id] {
			t.Fatalf("duplicate user ID %q", id)
		}
		seen[id] = true
	}
}
