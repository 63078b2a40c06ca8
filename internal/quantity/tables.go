package quantity

// numberWord is one entry of a spoken-number table.
type numberWord struct {
	text  string
	value float64
}

// The tables below are closed sets: a word that is not listed is not a number.
var (
	units = [...]numberWord{
		{"one", 1}, {"two", 2}, {"three", 3}, {"four", 4}, {"five", 5},
		{"six", 6}, {"seven", 7}, {"eight", 8}, {"nine", 9},
	}

	teens = [...]numberWord{
		{"ten", 10}, {"eleven", 11}, {"twelve", 12}, {"thirteen", 13},
		{"fourteen", 14}, {"fifteen", 15}, {"sixteen", 16}, {"seventeen", 17},
		{"eighteen", 18}, {"nineteen", 19},
	}

	tens = [...]numberWord{
		{"twenty", 20}, {"thirty", 30}, {"forty", 40}, {"fifty", 50},
		{"sixty", 60}, {"seventy", 70}, {"eighty", 80}, {"ninety", 90},
	}

	// fractions follow "and a" / "and" in compound hour phrases.
	fractions = [...]numberWord{
		{"half", 0.5}, {"quarter", 0.25},
	}

	// vagueHours are quantity words that only make sense for durations
	// ("a couple of hours").
	vagueHours = [...]numberWord{
		{"couple", 2},
	}
)

var (
	hourUnits     = [...]string{"hour", "hours", "hr", "hrs", "h"}
	currencyUnits = [...]string{"dollar", "dollars", "buck", "bucks", "usd"}
	articles      = [...]string{"a", "an"}
)

// fillerPrefixes are stripped from the front of a spoken service description.
// Longer prefixes come first so "i did" wins over "did".
var fillerPrefixes = [...][]string{
	{"i", "have", "performed"},
	{"we", "have", "performed"},
	{"i", "performed"},
	{"we", "performed"},
	{"i", "completed"},
	{"we", "completed"},
	{"i", "did"},
	{"we", "did"},
	{"performed"},
	{"completed"},
	{"did"},
}

// connectors are dropped when they dangle at either end of a service
// description once the hours phrase has been cut out.
var connectors = [...]string{
	"for", "about", "around", "roughly", "approximately", "maybe",
	"took", "it", "in", "and", "that", "which", "of", "the", "a", "an",
}

func lookup(table []numberWord, s string) (float64, bool) {
	for _, w := range table {
		if w.text == s {
			return w.value, true
		}
	}
	return 0, false
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
