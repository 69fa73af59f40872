package hash

import (
	"strings"
	"testing"
	"time"
)

func TestCalculateString(t *testing.T) {
	str := "test string"

	hash1 := CalculateString(str)
	hash2 := CalculateString(str)

	if hash1 != hash2 {
		t.Error("Same string should produce same hash")
	}

	if len(hash1) != 64 {
		t.Errorf("Expected hash length 64, got %d", len(hash1))
	}

	expected := "d5579c46dfcc7f18207013e65b44e4cb4e2c2298f4ac457ba8f82743f31e930b"
	if hash1 != expected {
		t.Errorf("Expected %s, got %s", expected, hash1)
	}
}

func TestCalculateStringEmpty(t *testing.T) {
	expected := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := CalculateString(""); got != expected {
		t.Errorf("Expected %s, got %s", expected, got)
	}
}

func TestGenesis(t *testing.T) {
	if len(Genesis) != DigestLen {
		t.Fatalf("Expected genesis length %d, got %d", DigestLen, len(Genesis))
	}
	if strings.Trim(Genesis, "0") != "" {
		t.Errorf("Genesis should only contain zeros: %s", Genesis)
	}
	if !IsDigest(Genesis) {
		t.Error("Genesis should be a valid digest")
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{
			name: "whole seconds",
			ts:   time.Date(2023, 3, 14, 15, 9, 26, 0, time.UTC),
			want: "2023.03.14 15:09:26",
		},
		{
			name: "fraction is truncated not rounded",
			ts:   time.Date(2023, 3, 14, 23, 59, 59, 999999999, time.UTC),
			want: "2023.03.14 23:59:59",
		},
		{
			name: "converted to UTC",
			ts:   time.Date(2023, 3, 14, 17, 9, 26, 0, time.FixedZone("CEST", 2*60*60)),
			want: "2023.03.14 15:09:26",
		},
		{
			name: "zero padded",
			ts:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			want: "2024.01.02 03:04:05",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTimestamp(tt.ts); got != tt.want {
				t.Errorf("FormatTimestamp() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsDigest(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"sha256 of empty", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", true},
		{"uppercase", "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855", false},
		{"too short", "e3b0c442", false},
		{"non hex", strings.Repeat("g", 64), false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDigest(tt.in); got != tt.want {
				t.Errorf("IsDigest(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNoneFmt(t *testing.T) {
	var missing *int32
	present := int32(7)
	text := "https://example.org"

	if got := NoneFmt(missing); got != "" {
		t.Errorf("Expected empty string for nil, got %q", got)
	}
	if got := NoneFmt(&present); got != "7" {
		t.Errorf("Expected 7, got %q", got)
	}
	if got := NoneFmt(&text); got != text {
		t.Errorf("Expected %s, got %q", text, got)
	}
}
