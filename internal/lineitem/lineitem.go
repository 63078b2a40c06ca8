// Package lineitem accumulates the services captured during one conversation.
//
// A [Ledger] is append-only: items cannot be edited or removed once added.
// Totals never include tax; tax is applied when an invoice is committed.
package lineitem

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/torqueshop/voicedesk/pkg/shop"
)

// ErrInvalidItem is returned by [Ledger.Add] for an item with a negative or
// non-finite quantity or an empty name.
var ErrInvalidItem = errors.New("lineitem: invalid item")

// Ledger holds the items for a single session. The zero value is an empty
// ledger. A Ledger is owned by one conversation goroutine and is not safe for
// concurrent use.
type Ledger struct {
	items []shop.LineItem
}

// Add appends item.
func (l *Ledger) Add(item shop.LineItem) error {
	switch {
	case strings.TrimSpace(item.Name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidItem)
	case !validAmount(item.Hours):
		return fmt.Errorf("%w: hours %v", ErrInvalidItem, item.Hours)
	case !validAmount(item.Price):
		return fmt.Errorf("%w: price %v", ErrInvalidItem, item.Price)
	}
	l.items = append(l.items, item)
	return nil
}

// Items returns a copy of the accumulated items in the order they were added.
func (l *Ledger) Items() []shop.LineItem {
	out := make([]shop.LineItem, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of items.
func (l *Ledger) Len() int { return len(l.items) }

// Total is the sum of all item prices, rounded to cents.
func (l *Ledger) Total() float64 {
	var sum float64
	for _, it := range l.items {
		sum += it.Price
	}
	return RoundCents(sum)
}

// Hours is the sum of all item hours.
func (l *Ledger) Hours() float64 {
	var sum float64
	for _, it := range l.items {
		sum += it.Hours
	}
	return math.Round(sum*100) / 100
}

// RoundCents rounds a currency amount to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
