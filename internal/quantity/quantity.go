// Package quantity extracts hours and prices from transcribed speech.
//
// Every parse is layered: a numeric pattern is tried first, then the spoken
// number tables, then a configured default. None of the functions in this
// package return errors; ambiguous input resolves to the default and the
// conversation reads the value back to the user.
package quantity

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultHours is returned by [Parser.Hours] when nothing in the text
	// looks like a duration.
	DefaultHours = 1.0

	// DefaultBasePrice is returned by [Parser.Price] when nothing in the text
	// looks like an amount.
	DefaultBasePrice = 95.0
)

var (
	hoursNumberRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)(hours?|hrs?|h)?$`)
	priceNumberRe = regexp.MustCompile(`^\$?(\d+(?:,\d{3})*(?:\.\d+)?)$`)
)

// Option is a functional option for [New].
type Option func(*Parser)

// WithDefaultHours sets the value [Parser.Hours] falls back to.
// Negative values are ignored.
func WithDefaultHours(h float64) Option {
	return func(p *Parser) {
		if h >= 0 {
			p.defaultHours = h
		}
	}
}

// WithBasePrice sets the value [Parser.Price] falls back to.
// Negative values are ignored.
func WithBasePrice(price float64) Option {
	return func(p *Parser) {
		if price >= 0 {
			p.basePrice = price
		}
	}
}

// Parser holds the fallback defaults. It is immutable after construction and
// safe for concurrent use.
type Parser struct {
	defaultHours float64
	basePrice    float64
}

// New returns a Parser with [DefaultHours] and [DefaultBasePrice] unless
// overridden by opts.
func New(opts ...Option) *Parser {
	p := &Parser{
		defaultHours: DefaultHours,
		basePrice:    DefaultBasePrice,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ServiceHours is the result of [Parser.ServiceAndHours].
type ServiceHours struct {
	// Service is the free-text service description left after the duration
	// phrase and filler words are removed. It may be empty.
	Service string

	Hours float64
}

// Hours extracts a duration in hours from text. The result is never negative.
func (p *Parser) Hours(text string) float64 {
	if m, ok := findHours(tokenize(text)); ok {
		return m.value
	}
	return p.defaultHours
}

// Price extracts a monetary amount from text. The result is never negative.
func (p *Parser) Price(text string) float64 {
	toks := tokenize(text)
	if v, ok := numericPrice(toks); ok {
		return v
	}
	if v, ok := spokenPrice(toks); ok {
		return v
	}
	return p.basePrice
}

// ServiceAndHours splits an utterance such as "I did an oil change, took two
// hours" into its service description and its duration.
func (p *Parser) ServiceAndHours(text string) ServiceHours {
	toks := tokenize(text)
	out := ServiceHours{Hours: p.defaultHours}

	m, ok := findHours(toks)
	if ok {
		out.Hours = m.value
		toks = append(toks[:m.start:m.start], toks[m.end:]...)
	}

	toks = stripFiller(toks)
	raw := make([]string, len(toks))
	for i, t := range toks {
		raw[i] = t.raw
	}
	out.Service = strings.Join(raw, " ")
	return out
}

var std = New()

// ParseHours is [Parser.Hours] with the package defaults.
func ParseHours(text string) float64 { return std.Hours(text) }

// ParsePrice is [Parser.Price] with the package defaults.
func ParsePrice(text string) float64 { return std.Price(text) }

// ParseServiceAndHours is [Parser.ServiceAndHours] with the package defaults.
func ParseServiceAndHours(text string) ServiceHours { return std.ServiceAndHours(text) }

type token struct {
	raw  string // original casing, punctuation trimmed
	norm string // lower-cased
}

// match is a parsed value spanning toks[start:end].
type match struct {
	value      float64
	start, end int
	unit       bool // followed by an explicit unit word
}

func tokenize(text string) []token {
	var toks []token
	for _, f := range strings.Fields(text) {
		f = strings.Trim(f, `,.!?;:"'()`)
		for _, part := range strings.Split(f, "-") {
			if part == "" {
				continue
			}
			toks = append(toks, token{raw: part, norm: strings.ToLower(part)})
		}
	}
	return toks
}

func normAt(toks []token, i int) string {
	if i < 0 || i >= len(toks) {
		return ""
	}
	return toks[i].norm
}

// findHours prefers a quantity followed by an hour unit ("replaced 4 tires in
// 2 hours"), then falls back to the first bare quantity. Within each pass
// digits beat words.
func findHours(toks []token) (match, bool) {
	numeric := numericHours(toks)
	spoken := spokenHours(toks)
	for _, m := range numeric {
		if m.unit {
			return m, true
		}
	}
	for _, m := range spoken {
		if m.unit {
			return m, true
		}
	}
	if len(numeric) > 0 {
		return numeric[0], true
	}
	if len(spoken) > 0 {
		return spoken[0], true
	}
	return match{}, false
}

func numericHours(toks []token) []match {
	var out []match
	for i, t := range toks {
		sub := hoursNumberRe.FindStringSubmatch(t.norm)
		if sub == nil {
			continue
		}
		v, err := strconv.ParseFloat(sub[1], 64)
		if err != nil || v < 0 {
			continue
		}
		m := match{value: v, start: i, end: i + 1, unit: sub[2] != ""}
		if !m.unit && contains(hourUnits[:], normAt(toks, i+1)) {
			m.unit = true
			m.end++
		}
		out = append(out, m)
	}
	return out
}

func spokenHours(toks []token) []match {
	var out []match
	for i := 0; i < len(toks); {
		m, ok := spokenHoursAt(toks, i)
		if !ok {
			i++
			continue
		}
		if contains(hourUnits[:], normAt(toks, m.end)) {
			m.unit = true
			m.end++
		}
		out = append(out, m)
		i = m.end
	}
	return out
}

// spokenHoursAt matches a duration phrase starting at toks[i].
func spokenHoursAt(toks []token, i int) (match, bool) {
	w := normAt(toks, i)
	next := normAt(toks, i+1)

	switch {
	case w == "half" && contains(articles[:], next) && contains(hourUnits[:], normAt(toks, i+2)):
		// "half an hour"
		return match{value: 0.5, start: i, end: i + 3, unit: true}, true
	case w == "half" && contains(hourUnits[:], next):
		return match{value: 0.5, start: i, end: i + 2, unit: true}, true
	case contains(articles[:], w):
		if f, ok := lookup(fractions[:], next); ok {
			// "a half", "a quarter"
			return match{value: f, start: i, end: i + 2}, true
		}
		if v, ok := lookup(vagueHours[:], next); ok {
			end := i + 2
			if normAt(toks, end) == "of" {
				end++
			}
			return match{value: v, start: i, end: end}, true
		}
		if contains(hourUnits[:], next) {
			// "an hour", optionally "an hour and a half"
			m := match{value: 1, start: i, end: i + 2, unit: true}
			return withFraction(toks, m), true
		}
		return match{}, false
	}

	v, n, ok := cardinal(toks, i)
	if !ok {
		return match{}, false
	}
	return withFraction(toks, match{value: v, start: i, end: i + n}), true
}

// withFraction extends m over a trailing "and a half" / "and a quarter",
// with or without an hour unit between them.
func withFraction(toks []token, m match) match {
	j := m.end
	if contains(hourUnits[:], normAt(toks, j)) && normAt(toks, j+1) == "and" {
		j++
	}
	if normAt(toks, j) != "and" {
		return m
	}
	k := j + 1
	if contains(articles[:], normAt(toks, k)) {
		k++
	}
	f, ok := lookup(fractions[:], normAt(toks, k))
	if !ok {
		return m
	}
	m.value += f
	if j != m.end {
		m.unit = true
	}
	m.end = k + 1
	return m
}

// cardinal matches a number below one hundred at toks[i] and reports how many
// tokens it consumed.
func cardinal(toks []token, i int) (float64, int, bool) {
	w := normAt(toks, i)
	if v, ok := lookup(units[:], w); ok {
		return v, 1, true
	}
	if v, ok := lookup(teens[:], w); ok {
		return v, 1, true
	}
	if v, ok := lookup(tens[:], w); ok {
		if u, ok := lookup(units[:], normAt(toks, i+1)); ok {
			return v + u, 2, true
		}
		return v, 1, true
	}
	return 0, 0, false
}

func numericPrice(toks []token) (float64, bool) {
	for i, t := range toks {
		s := t.norm
		if s == "$" {
			s = normAt(toks, i+1)
		}
		sub := priceNumberRe.FindStringSubmatch(s)
		if sub == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(sub[1], ",", ""), 64)
		if err != nil || v < 0 {
			continue
		}
		return v, true
	}
	return 0, false
}

func spokenPrice(toks []token) (float64, bool) {
	for i := range toks {
		if v, ok := spokenPriceAt(toks, i); ok {
			return v, true
		}
	}
	return 0, false
}

// spokenPriceAt understands "eighty", "eighty five", "a hundred",
// "two hundred and fifty", "fifteen hundred", "one fifty", "one twenty five",
// "two thousand five hundred", and a bare unit only when a currency word
// follows ("five bucks").
func spokenPriceAt(toks []token, i int) (float64, bool) {
	w := normAt(toks, i)
	next := normAt(toks, i+1)

	var lead float64
	end := i // first token after the leading count
	switch {
	case w == "hundred" || w == "thousand":
		// "hundred dollars" with no leading count
		lead = 1
	case contains(articles[:], w) && (next == "hundred" || next == "thousand"):
		lead, end = 1, i+1
	default:
		v, n, ok := cardinal(toks, i)
		if !ok {
			return 0, false
		}
		lead, end = v, i+n
	}

	switch normAt(toks, end) {
	case "hundred":
		rest, _, _ := cardinal(toks, skipAnd(toks, end+1))
		return lead*100 + rest, true
	case "thousand":
		return lead*1000 + belowThousand(toks, skipAnd(toks, end+1)), true
	}

	if _, isUnit := lookup(units[:], w); !isUnit {
		return lead, true
	}
	// "one fifty", "two forty five": hundreds shorthand.
	if _, ok := lookup(tens[:], next); ok {
		rest, _, _ := cardinal(toks, i+1)
		return lead*100 + rest, true
	}
	if rest, ok := lookup(teens[:], next); ok {
		return lead*100 + rest, true
	}
	if contains(currencyUnits[:], next) {
		return lead, true
	}
	return 0, false
}

// belowThousand reads the remainder after "thousand": "five hundred",
// "a hundred and ten", "fifty". Anything else counts as zero.
func belowThousand(toks []token, i int) float64 {
	if contains(articles[:], normAt(toks, i)) && normAt(toks, i+1) == "hundred" {
		rest, _, _ := cardinal(toks, skipAnd(toks, i+2))
		return 100 + rest
	}
	v, n, ok := cardinal(toks, i)
	if !ok {
		return 0
	}
	if normAt(toks, i+n) == "hundred" {
		rest, _, _ := cardinal(toks, skipAnd(toks, i+n+1))
		return v*100 + rest
	}
	return v
}

func skipAnd(toks []token, i int) int {
	if normAt(toks, i) == "and" {
		return i + 1
	}
	return i
}

func stripFiller(toks []token) []token {
	for _, prefix := range fillerPrefixes {
		if hasPrefix(toks, prefix) {
			toks = toks[len(prefix):]
			break
		}
	}
	for len(toks) > 0 && contains(connectors[:], toks[0].norm) {
		toks = toks[1:]
	}
	for len(toks) > 0 && contains(connectors[:], toks[len(toks)-1].norm) {
		toks = toks[:len(toks)-1]
	}
	return toks
}

func hasPrefix(toks []token, prefix []string) bool {
	if len(toks) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if toks[i].norm != p {
			return false
		}
	}
	return true
}
