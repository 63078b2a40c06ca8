package conversation

import (
	"testing"

	"github.com/torqueshop/voicedesk/pkg/shop"
)

func TestIsAffirmative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"yes", true},
		{"Yeah, one more.", true},
		{"sure thing", true},
		{"OK", true},
		{"let's add another one", true},
		{"no", false},
		{"nope that's it", false},
		{"I'm done", false},
		{"please save it", false},
		{"please finish", false},
		{"yes please", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAffirmative(tt.in); got != tt.want {
			t.Errorf("isAffirmative(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsDone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"done", true},
		{"Skip.", true},
		{"stop please", true},
		{"that's it", true},
		{"I'm done", true},
		{"We're done.", true},
		{"we are all done", true},
		{"I’m finished", true},
		{"brake job done", false},
		{"stop light repair two hours", false},
		{"oil change", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isDone(tt.in); got != tt.want {
			t.Errorf("isDone(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsCancel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"cancel", true},
		{"Cancel that.", true},
		{"never mind", true},
		{"please cancel", true},
		{"cancel the oil change and do brakes", false},
		{"stop", false},
	}
	for _, tt := range tests {
		if got := isCancel(tt.in); got != tt.want {
			t.Errorf("isCancel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSpokenForms(t *testing.T) {
	t.Parallel()

	if got := spokenHours(1); got != "1 hour" {
		t.Errorf("spokenHours(1) = %q", got)
	}
	if got := spokenHours(2.5); got != "2.5 hours" {
		t.Errorf("spokenHours(2.5) = %q", got)
	}
	if got := spokenMoney(80); got != "80 dollars" {
		t.Errorf("spokenMoney(80) = %q", got)
	}
	if got := spokenMoney(42.5); got != "$42.50" {
		t.Errorf("spokenMoney(42.5) = %q", got)
	}

	vs := []shop.Vehicle{
		{Year: 2018, Make: "Toyota", Model: "Camry"},
		{Year: 2021, Make: "Ford", Model: "F-150"},
	}
	want := "Maria has a 2018 Toyota Camry and a 2021 Ford F-150. Which vehicle?"
	if got := promptVehicle(shop.Customer{Name: "Maria"}, vs); got != want {
		t.Errorf("promptVehicle = %q, want %q", got, want)
	}
}
