package lineitem_test

import (
	"errors"
	"math"
	"testing"

	"github.com/torqueshop/voicedesk/internal/lineitem"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

func TestLedger_AddAndTotal(t *testing.T) {
	t.Parallel()

	var l lineitem.Ledger
	if l.Len() != 0 || l.Total() != 0 {
		t.Fatalf("zero ledger: len=%d total=%v, want 0, 0", l.Len(), l.Total())
	}

	items := []shop.LineItem{
		{Name: "oil change", Hours: 1, Price: 80},
		{Name: "tire rotation", Hours: 0.5, Price: 40.1},
		{Name: "inspection", Hours: 0, Price: 0.2},
	}
	for _, it := range items {
		if err := l.Add(it); err != nil {
			t.Fatalf("Add(%+v): %v", it, err)
		}
	}

	if got := l.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
	if got := l.Total(); got != 120.3 {
		t.Errorf("Total = %v, want 120.3", got)
	}
	if got := l.Hours(); got != 1.5 {
		t.Errorf("Hours = %v, want 1.5", got)
	}

	got := l.Items()
	for i := range items {
		if got[i] != items[i] {
			t.Errorf("Items()[%d] = %+v, want %+v", i, got[i], items[i])
		}
	}
}

func TestLedger_ItemsIsACopy(t *testing.T) {
	t.Parallel()

	var l lineitem.Ledger
	_ = l.Add(shop.LineItem{Name: "brakes", Hours: 2, Price: 200})

	snapshot := l.Items()
	snapshot[0].Price = 1

	if got := l.Items()[0].Price; got != 200 {
		t.Errorf("mutating Items() changed the ledger: price = %v, want 200", got)
	}
}

func TestLedger_RejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		item shop.LineItem
	}{
		{"empty name", shop.LineItem{Name: "  ", Hours: 1, Price: 1}},
		{"negative hours", shop.LineItem{Name: "x", Hours: -1, Price: 1}},
		{"negative price", shop.LineItem{Name: "x", Hours: 1, Price: -0.01}},
		{"nan price", shop.LineItem{Name: "x", Hours: 1, Price: math.NaN()}},
		{"inf hours", shop.LineItem{Name: "x", Hours: math.Inf(1), Price: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var l lineitem.Ledger
			err := l.Add(tt.item)
			if !errors.Is(err, lineitem.ErrInvalidItem) {
				t.Errorf("Add err = %v, want ErrInvalidItem", err)
			}
			if l.Len() != 0 {
				t.Errorf("rejected item was appended")
			}
		})
	}
}

func TestRoundCents(t *testing.T) {
	t.Parallel()

	if got := lineitem.RoundCents(0.1 + 0.2); got != 0.3 {
		t.Errorf("RoundCents(0.1+0.2) = %v, want 0.3", got)
	}
	if got := lineitem.RoundCents(19.999); got != 20 {
		t.Errorf("RoundCents(19.999) = %v, want 20", got)
	}
}
