package quantity_test

import (
	"testing"

	"github.com/torqueshop/voicedesk/internal/quantity"
)

func TestParseHours(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
	}{
		{"two and a half hours", 2.5},
		{"3 hrs", 3},
		{"", 1},
		{"one hour", 1},
		{"an hour", 1},
		{"an hour and a half", 1.5},
		{"two hours and a half", 2.5},
		{"half an hour", 0.5},
		{"a half", 0.5},
		{"a quarter hour", 0.25},
		{"a couple of hours", 2},
		{"1.5 hours", 1.5},
		{"2h", 2},
		{"twenty five", 25},
		{"replaced 4 tires in two hours", 2},
		{"replaced four tires in 2 hours", 2},
		{"replaced 4 tires", 4},
		{"Three.", 3},
		{"no idea", 1},
		{"did a brake job", 1},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := quantity.ParseHours(tt.in); got != tt.want {
				t.Errorf("ParseHours(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
	}{
		{"$120", 120},
		{"one fifty", 150},
		{"eighty dollars", 80},
		{"ninety five", 95},
		{"one twenty five", 125},
		{"a hundred", 100},
		{"hundred dollars", 100},
		{"two hundred and fifty", 250},
		{"two thousand", 2000},
		{"fifteen hundred dollars", 1500},
		{"twelve hundred", 1200},
		{"twenty five hundred", 2500},
		{"fifteen hundred and fifty", 1550},
		{"two thousand five hundred", 2500},
		{"two thousand and fifty", 2050},
		{"a thousand two hundred and ten", 1210},
		{"ten thousand", 10000},
		{"five hundred", 500},
		{"five bucks", 5},
		{"fifteen", 15},
		{"$ 42.50", 42.5},
		{"$1,200", 1200},
		{"it was 60 dollars", 60},
		{"whatever you think", 95},
		{"", 95},
		{"one", 95},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := quantity.ParsePrice(tt.in); got != tt.want {
				t.Errorf("ParsePrice(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseServiceAndHours(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in          string
		wantService string
		wantHours   float64
	}{
		{"I did an oil change, took two hours", "oil change", 2},
		{"we did brake pads for 1.5 hours", "brake pads", 1.5},
		{"Performed a tire rotation", "tire rotation", 1},
		{"completed alignment in half an hour", "alignment", 0.5},
		{"Transmission flush 3 hrs", "Transmission flush", 3},
		{"one hour", "", 1},
		{"", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got := quantity.ParseServiceAndHours(tt.in)
			if got.Service != tt.wantService {
				t.Errorf("ParseServiceAndHours(%q).Service = %q, want %q", tt.in, got.Service, tt.wantService)
			}
			if got.Hours != tt.wantHours {
				t.Errorf("ParseServiceAndHours(%q).Hours = %v, want %v", tt.in, got.Hours, tt.wantHours)
			}
		})
	}
}

func TestParser_Defaults(t *testing.T) {
	t.Parallel()

	p := quantity.New(quantity.WithBasePrice(120), quantity.WithDefaultHours(0.5))
	if got := p.Price("no clue"); got != 120 {
		t.Errorf("Price default = %v, want 120", got)
	}
	if got := p.Hours("no clue"); got != 0.5 {
		t.Errorf("Hours default = %v, want 0.5", got)
	}

	// Negative defaults are rejected.
	p = quantity.New(quantity.WithBasePrice(-1), quantity.WithDefaultHours(-1))
	if got := p.Price(""); got != quantity.DefaultBasePrice {
		t.Errorf("Price default = %v, want %v", got, quantity.DefaultBasePrice)
	}
	if got := p.Hours(""); got != quantity.DefaultHours {
		t.Errorf("Hours default = %v, want %v", got, quantity.DefaultHours)
	}
}

func TestParse_NeverNegative(t *testing.T) {
	t.Parallel()

	inputs := []string{"-5 hours", "minus three", "$-20", "- - -", "-1.5", "and a half", "hundred and"}
	for _, in := range inputs {
		if h := quantity.ParseHours(in); h < 0 {
			t.Errorf("ParseHours(%q) = %v, want >= 0", in, h)
		}
		if p := quantity.ParsePrice(in); p < 0 {
			t.Errorf("ParsePrice(%q) = %v, want >= 0", in, p)
		}
	}
}
