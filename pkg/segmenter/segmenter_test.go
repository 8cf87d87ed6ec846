package segmenter

import (
	"strings"
	"testing"
)

func TestEncodePicksCoding(t *testing.T) {
	seg := NewDefaultSegmenter()

	tests := []struct {
		name       string
		message    string
		wantCoding byte
		wantUnits  int
		wantParts  int
	}{
		{"plain ascii", "hello", CodingDefault, 5, 1},
		{"cyrillic", "привет", CodingUCS2, 6, 1},
		{"ascii at single limit", strings.Repeat("a", 160), CodingDefault, 160, 1},
		{"ascii over single limit", strings.Repeat("a", 161), CodingDefault, 161, 2},
		{"ucs2 over single limit", strings.Repeat("ж", 71), CodingUCS2, 71, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := seg.Encode(tt.message)
			if err != nil {
				t.Fatalf("Encode returned error: %v", err)
			}
			if enc.DataCoding != tt.wantCoding {
				t.Errorf("Expected data coding %d, got %d", tt.wantCoding, enc.DataCoding)
			}
			if enc.Units != tt.wantUnits {
				t.Errorf("Expected %d units, got %d", tt.wantUnits, enc.Units)
			}
			if enc.Parts != tt.wantParts {
				t.Errorf("Expected %d parts, got %d", tt.wantParts, enc.Parts)
			}
		})
	}
}

func TestEncodeEmpty(t *testing.T) {
	if _, err := NewDefaultSegmenter().Encode(""); err != ErrEmptyMessage {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
}

func TestCountParts(t *testing.T) {
	tests := []struct {
		units int
		ucs2  bool
		want  int
	}{
		{0, false, 1},
		{160, false, 1},
		{161, false, 2},
		{306, false, 2},
		{307, false, 3},
		{70, true, 1},
		{71, true, 2},
		{134, true, 2},
		{135, true, 3},
	}
	for _, tt := range tests {
		if got := CountParts(tt.units, tt.ucs2); got != tt.want {
			t.Errorf("CountParts(%d, %v): expected %d, got %d", tt.units, tt.ucs2, tt.want, got)
		}
	}
}

func TestDecodeUCS2RoundTrip(t *testing.T) {
	enc, err := NewDefaultSegmenter().Encode("привет")
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if got := Decode(enc.Payload, enc.DataCoding); got != "привет" {
		t.Errorf("Expected привет, got %q", got)
	}
	if got := Decode([]byte("id:1 stat:DELIVRD"), CodingDefault); got != "id:1 stat:DELIVRD" {
		t.Errorf("Unexpected ascii decode: %q", got)
	}
}
