package resolve_test

import (
	"testing"

	"github.com/torqueshop/voicedesk/internal/resolve"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

var customers = []shop.Customer{
	{ID: "c1", Name: "John Smith"},
	{ID: "c2", Name: "Maria Garcia"},
	{ID: "c3", Name: "Al Li"},
	{ID: "c4", Name: "Johnathan Smithers"},
}

func TestCustomer_Tiers(t *testing.T) {
	t.Parallel()

	r := resolve.New()
	tests := []struct {
		name     string
		spoken   string
		wantID   string
		wantTier resolve.Tier
		wantOK   bool
	}{
		{"exact", "john smith", "c1", resolve.TierExact, true},
		{"exact with punctuation", "John Smith.", "c1", resolve.TierExact, true},
		{"utterance contains name", "it's for maria garcia please", "c2", resolve.TierContains, true},
		{"name contains utterance", "garcia", "c2", resolve.TierContains, true},
		{"token overlap", "garcia's truck", "c2", resolve.TierToken, true},
		{"short utterance inside name", "al", "c3", resolve.TierContains, true},
		{"no match", "zebulon quartermaine", "", resolve.TierNone, false},
		{"empty", "", "", resolve.TierNone, false},
		{"whitespace", "   ", "", resolve.TierNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, tier, ok := r.Customer(tt.spoken, customers)
			if ok != tt.wantOK {
				t.Fatalf("Customer(%q) ok = %v, want %v", tt.spoken, ok, tt.wantOK)
			}
			if got.ID != tt.wantID {
				t.Errorf("Customer(%q) = %q, want %q", tt.spoken, got.ID, tt.wantID)
			}
			if tier != tt.wantTier {
				t.Errorf("Customer(%q) tier = %v, want %v", tt.spoken, tier, tt.wantTier)
			}
		})
	}
}

func TestCustomer_TierOrderBeatsListOrder(t *testing.T) {
	t.Parallel()

	// c4 comes first in the list but only c1 is an exact match.
	list := []shop.Customer{
		{ID: "c4", Name: "Johnathan Smithers"},
		{ID: "c1", Name: "John Smith"},
	}
	got, ok := resolve.FindCustomerByName("John Smith", list)
	if !ok || got.ID != "c1" {
		t.Errorf("FindCustomerByName = %+v, %v; want c1", got, ok)
	}
}

func TestCustomer_ShortTokensDoNotMatch(t *testing.T) {
	t.Parallel()

	list := []shop.Customer{{ID: "x", Name: "Bo Yu"}}
	if got, ok := resolve.FindCustomerByName("a boy is here", list); ok {
		t.Errorf("FindCustomerByName matched %+v, want no match", got)
	}
}

func TestCustomer_Deterministic(t *testing.T) {
	t.Parallel()

	r := resolve.New(resolve.WithPhonetic(resolve.NewPhoneticMatcher()))
	first, _, _ := r.Customer("smith", customers)
	for range 50 {
		got, _, _ := r.Customer("smith", customers)
		if got != first {
			t.Fatalf("Customer returned %+v then %+v for the same input", first, got)
		}
	}
}

func TestVehicle_Tiers(t *testing.T) {
	t.Parallel()

	vehicles := []shop.Vehicle{
		{ID: "v1", CustomerID: "c1", Year: 2020, Make: "Honda", Model: "Accord"},
		{ID: "v2", CustomerID: "c1", Year: 2015, Make: "Ford", Model: "F-150"},
	}
	tests := []struct {
		spoken string
		wantID string
		wantOK bool
	}{
		{"2020 Honda Accord", "v1", true},
		{"the honda accord", "v1", true},
		{"the ford", "v2", true},
		{"f 150", "v2", true},
		{"a tesla", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.spoken, func(t *testing.T) {
			t.Parallel()
			got, ok := resolve.FindVehicleByDescription(tt.spoken, vehicles)
			if ok != tt.wantOK || got.ID != tt.wantID {
				t.Errorf("FindVehicleByDescription(%q) = %q, %v; want %q, %v", tt.spoken, got.ID, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestVehicle_NeverLeavesCandidateSet(t *testing.T) {
	t.Parallel()

	owned := []shop.Vehicle{
		{ID: "v1", CustomerID: "c1", Year: 2020, Make: "Honda", Model: "Accord"},
	}
	other := shop.Vehicle{ID: "v9", CustomerID: "c2", Year: 2018, Make: "Toyota", Model: "Camry"}

	r := resolve.New(resolve.WithPhonetic(resolve.NewPhoneticMatcher()))
	for _, spoken := range []string{"2018 toyota camry", "toyota", "camry", other.Description()} {
		got, _, ok := r.Vehicle(spoken, owned)
		if ok && got.ID != "v1" {
			t.Errorf("Vehicle(%q) = %q, outside candidate set", spoken, got.ID)
		}
		if got.ID == other.ID {
			t.Errorf("Vehicle(%q) returned a vehicle that was not offered", spoken)
		}
	}
}

func TestPhoneticTier(t *testing.T) {
	t.Parallel()

	lexical := resolve.New()
	if _, _, ok := lexical.Customer("jon smyth", customers); ok {
		t.Fatal("lexical resolver matched a misspelling; test premise broken")
	}

	r := resolve.New(resolve.WithPhonetic(resolve.NewPhoneticMatcher()))
	got, tier, ok := r.Customer("jon smyth", customers)
	if !ok {
		t.Fatal("phonetic resolver found no match for \"jon smyth\"")
	}
	if got.ID != "c1" {
		t.Errorf("Customer(\"jon smyth\") = %q, want c1", got.ID)
	}
	if tier != resolve.TierPhonetic {
		t.Errorf("tier = %v, want phonetic", tier)
	}
}

func TestPhoneticMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	m := resolve.NewPhoneticMatcher(
		resolve.WithPhoneticThreshold(0.99),
		resolve.WithFuzzyThreshold(0.99),
	)
	if i, ok := m.Best("jon smyth", []string{"john smith"}); ok {
		t.Errorf("Best with 0.99 thresholds matched index %d, want none", i)
	}
	if _, ok := m.Best("", []string{"john smith"}); ok {
		t.Error("Best on empty input matched")
	}
}

func TestTier_String(t *testing.T) {
	t.Parallel()

	for tier, want := range map[resolve.Tier]string{
		resolve.TierNone:     "none",
		resolve.TierExact:    "exact",
		resolve.TierContains: "contains",
		resolve.TierToken:    "token",
		resolve.TierPhonetic: "phonetic",
	} {
		if got := tier.String(); got != want {
			t.Errorf("Tier(%d).String() = %q, want %q", tier, got, want)
		}
	}
}
