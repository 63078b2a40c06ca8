package resolve

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// PhoneticOption configures a [PhoneticMatcher].
type PhoneticOption func(*PhoneticMatcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a candidate
// whose Double Metaphone codes overlap the utterance. Default: 0.80.
func WithPhoneticThreshold(threshold float64) PhoneticOption {
	return func(m *PhoneticMatcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate with
// no phonetic overlap. Default: 0.90.
func WithFuzzyThreshold(threshold float64) PhoneticOption {
	return func(m *PhoneticMatcher) {
		m.fuzzyThreshold = threshold
	}
}

// PhoneticMatcher ranks candidates by sound rather than spelling. Candidates
// that share a Double Metaphone code with the utterance are preferred; among
// them the highest Jaro-Winkler score wins.
type PhoneticMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewPhoneticMatcher returns a matcher with the default thresholds unless
// overridden by opts.
func NewPhoneticMatcher(opts ...PhoneticOption) *PhoneticMatcher {
	m := &PhoneticMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Best returns the index of the best candidate for said. Both said and the
// candidates are expected to be normalised already. Ties keep the earlier
// candidate.
func (m *PhoneticMatcher) Best(said string, candidates []string) (int, bool) {
	saidTokens := strings.Fields(said)
	if len(saidTokens) == 0 {
		return -1, false
	}
	saidCodes := metaphoneCodes(saidTokens)

	best := -1
	var bestScore float64
	bestPhonetic := false

	for i, c := range candidates {
		candTokens := strings.Fields(c)
		if len(candTokens) == 0 {
			continue
		}
		phonetic := overlaps(saidCodes, metaphoneCodes(candTokens))
		score := similarity(saidTokens, candTokens, said, c)

		switch {
		case phonetic && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = i, score, true
			}
		case !phonetic && !bestPhonetic && score >= m.fuzzyThreshold:
			if score > bestScore {
				best, bestScore = i, score
			}
		}
	}
	return best, best >= 0
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score across the full strings, the
// space-stripped strings, and every token pair.
func similarity(saidTokens, candTokens []string, said, cand string) float64 {
	score := matchr.JaroWinkler(said, cand, false)

	if len(saidTokens) > 1 || len(candTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(saidTokens, ""), strings.Join(candTokens, ""), false); s > score {
			score = s
		}
	}

	for _, st := range saidTokens {
		for _, ct := range candTokens {
			if s := matchr.JaroWinkler(st, ct, false); s > score {
				score = s
			}
		}
	}
	return score
}
