package money

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{name: "whole dollars", in: "10", want: 1000},
		{name: "two decimals", in: "12.50", want: 1250},
		{name: "one decimal", in: "12.5", want: 1250},
		{name: "minimum amount", in: "0.01", want: 1},
		{name: "maximum amount", in: "100000.00", want: MaxTransferCents},
		{name: "surrounding whitespace", in: " 3.25 ", want: 325},
		{name: "zero", in: "0", wantErr: true},
		{name: "zero with decimals", in: "0.00", wantErr: true},
		{name: "negative", in: "-1.00", wantErr: true},
		{name: "explicit plus sign", in: "+1.00", wantErr: true},
		{name: "three decimals", in: "1.005", wantErr: true},
		{name: "above maximum", in: "100000.01", wantErr: true},
		{name: "far above maximum", in: "99999999999", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "not a number", in: "ten", wantErr: true},
		{name: "trailing dot", in: "10.", wantErr: true},
		{name: "leading dot", in: ".50", wantErr: true},
		{name: "scientific notation", in: "1e3", wantErr: true},
		{name: "sign inside fraction", in: "1.-5", wantErr: true},
		{name: "hex", in: "0x10", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) = %d, expected error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{1050, "10.50"},
		{100000000, "1000000.00"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		if got := FormatCents(tt.cents); got != tt.want {
			t.Errorf("FormatCents(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, cents := range []int64{1, 99, 100, 101, 123456, MaxTransferCents} {
		s := FormatCents(cents)
		got, err := ParseAmount(s)
		if err != nil {
			t.Fatalf("ParseAmount(FormatCents(%d)) error: %v", cents, err)
		}
		if got != cents {
			t.Errorf("round trip %d -> %q -> %d", cents, s, got)
		}
	}
}
