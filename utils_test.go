package x402

import (
	"math/big"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in       string
		decimals int
		want     string
		wantErr  bool
	}{
		{"0.01", 6, "10000", false},
		{"$0.01", 6, "10000", false},
		{"1", 6, "1000000", false},
		{".5", 2, "50", false},
		{"10000", 0, "10000", false},
		{"0.0000001", 6, "", true},
		{"abc", 6, "", true},
		{"", 6, "", true},
		{"-1", 6, "", true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in, tt.decimals)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q, %d): expected error, got %s", tt.in, tt.decimals, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q, %d): unexpected error: %v", tt.in, tt.decimals, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseAmount(%q, %d) = %s, want %s", tt.in, tt.decimals, got, tt.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   int64
		decimals int
		want     string
	}{
		{10000, 6, "0.01"},
		{1000000, 6, "1"},
		{1234567, 6, "1.234567"},
		{5, 0, "5"},
		{1, 18, "0.000000000000000001"},
		{-150, 2, "-1.5"},
	}

	for _, tt := range tests {
		if got := FormatAmount(big.NewInt(tt.amount), tt.decimals); got != tt.want {
			t.Errorf("FormatAmount(%d, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
		}
	}

	if got := FormatAmount(nil, 6); got != "0" {
		t.Errorf("FormatAmount(nil) = %s, want 0", got)
	}
}
