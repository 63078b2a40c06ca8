// Package resolve matches a spoken name or vehicle description against the
// customers and vehicles already loaded for the shop.
//
// Matching runs in tiers and the first tier with a hit wins:
//
//  1. Exact: case-insensitive equality with the customer's full name or the
//     vehicle's "{year} {make} {model}" description.
//  2. Containment: the utterance contains the candidate, or the candidate
//     contains the utterance.
//  3. Token: any candidate token longer than two characters appears inside the
//     utterance.
//  4. Phonetic (optional): Double Metaphone overlap ranked by Jaro-Winkler,
//     for transcripts such as "jon smyth".
//
// Within a tier, candidates are tried in slice order, so the result depends
// only on the utterance and the candidate list. A miss is reported with
// ok == false rather than an error.
package resolve

import (
	"strings"
	"unicode"

	"github.com/torqueshop/voicedesk/pkg/shop"
)

// Tier identifies which matching strategy produced a hit.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierContains
	TierToken
	TierPhonetic
)

// String returns the tier name used in logs and metrics.
func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierContains:
		return "contains"
	case TierToken:
		return "token"
	case TierPhonetic:
		return "phonetic"
	default:
		return "none"
	}
}

// minTokenLen is the shortest candidate token the token tier will consider.
// Shorter tokens ("of", "jr", "a") match far too much noise.
const minTokenLen = 3

// Option is a functional option for [New].
type Option func(*Resolver)

// WithPhonetic enables the phonetic tier using m. A nil m disables it.
func WithPhonetic(m *PhoneticMatcher) Option {
	return func(r *Resolver) {
		r.phonetic = m
	}
}

// Resolver runs the matching tiers. The zero value is usable and runs only the
// three lexical tiers. A Resolver is read-only after construction and safe for
// concurrent use.
type Resolver struct {
	phonetic *PhoneticMatcher
}

// New returns a Resolver configured with opts.
func New(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Customer finds the customer whose name best matches spoken.
func (r *Resolver) Customer(spoken string, customers []shop.Customer) (shop.Customer, Tier, bool) {
	return find(r, spoken, customers, func(c shop.Customer) string { return c.Name })
}

// Vehicle finds the vehicle whose description best matches spoken. Callers
// pass only the vehicles owned by the already-resolved customer; this function
// never looks beyond the slice it is given.
func (r *Resolver) Vehicle(spoken string, vehicles []shop.Vehicle) (shop.Vehicle, Tier, bool) {
	return find(r, spoken, vehicles, shop.Vehicle.Description)
}

// FindCustomerByName runs the lexical tiers only.
func FindCustomerByName(spoken string, customers []shop.Customer) (shop.Customer, bool) {
	c, _, ok := (&Resolver{}).Customer(spoken, customers)
	return c, ok
}

// FindVehicleByDescription runs the lexical tiers only.
func FindVehicleByDescription(spoken string, vehicles []shop.Vehicle) (shop.Vehicle, bool) {
	v, _, ok := (&Resolver{}).Vehicle(spoken, vehicles)
	return v, ok
}

func find[T any](r *Resolver, spoken string, items []T, key func(T) string) (T, Tier, bool) {
	var zero T
	said := normalize(spoken)
	if said == "" || len(items) == 0 {
		return zero, TierNone, false
	}

	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = normalize(key(it))
	}

	for i, k := range keys {
		if k != "" && k == said {
			return items[i], TierExact, true
		}
	}
	for i, k := range keys {
		if k != "" && (strings.Contains(said, k) || strings.Contains(k, said)) {
			return items[i], TierContains, true
		}
	}
	for i, k := range keys {
		for _, tok := range strings.Fields(k) {
			if len(tok) >= minTokenLen && strings.Contains(said, tok) {
				return items[i], TierToken, true
			}
		}
	}
	if r != nil && r.phonetic != nil {
		if i, ok := r.phonetic.Best(said, keys); ok {
			return items[i], TierPhonetic, true
		}
	}
	return zero, TierNone, false
}

// normalize lower-cases s, turns punctuation into spaces and collapses runs of
// whitespace, so "Smith, John." and "smith john" compare equal.
func normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'':
			return -1
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
