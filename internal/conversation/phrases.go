package conversation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/torqueshop/voicedesk/internal/lineitem"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

var (
	yesWords  = []string{"yes", "yeah", "yep", "yup", "sure", "okay", "ok", "absolutely", "definitely", "affirmative"}
	yesPhrase = []string{"one more", "another one", "add another", "add one more", "of course"}

	doneWords  = []string{"done", "skip", "stop", "finished", "nothing"}
	donePhrase = []string{"that's it", "that is it", "that's all", "that is all", "no more"}

	// doneLead may precede a trailing "done" or "finished": "I'm done", "we are finished".
	doneLead = []string{"i'm", "im", "i", "m", "we're", "we", "re", "am", "are", "all", "i've", "we've", "been"}

	cancelPhrase = []string{"cancel", "cancel that", "never mind", "nevermind", "forget it", "abort"}
)

// words lowercases text and splits it into words, keeping apostrophes.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func phrase(text string) string { return strings.Join(words(text), " ") }

func oneOf(s string, set []string) bool {
	for _, w := range set {
		if s == w {
			return true
		}
	}
	return false
}

func hasPhrase(text string, set []string) bool {
	padded := " " + text + " "
	for _, p := range set {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// isAffirmative reports whether an answer to "anything else?" means yes.
// Anything else is treated as no.
func isAffirmative(text string) bool {
	ws := words(text)
	if len(ws) == 0 {
		return false
	}
	return oneOf(ws[0], yesWords) || hasPhrase(phrase(text), yesPhrase)
}

// isDone reports whether an answer to the service prompt ends item capture.
func isDone(text string) bool {
	ws := words(text)
	if len(ws) == 0 {
		return false
	}
	p := phrase(text)
	return (len(ws) <= 2 && oneOf(ws[0], doneWords)) || oneOf(p, donePhrase) || doneLast(ws)
}

func doneLast(ws []string) bool {
	if len(ws) < 2 || len(ws) > 4 {
		return false
	}
	last := ws[len(ws)-1]
	if last != "done" && last != "finished" {
		return false
	}
	for _, w := range ws[:len(ws)-1] {
		if !oneOf(w, doneLead) {
			return false
		}
	}
	return true
}

// isCancel reports whether the whole utterance asks to abandon the session.
func isCancel(text string) bool {
	p := phrase(text)
	if oneOf(p, cancelPhrase) {
		return true
	}
	for _, prefix := range []string{"please ", "just ", "okay ", "ok "} {
		if oneOf(strings.TrimPrefix(p, prefix), cancelPhrase) {
			return true
		}
	}
	return false
}

// spokenHours renders hours for a prompt: "1 hour", "2.5 hours".
func spokenHours(h float64) string {
	s := strconv.FormatFloat(h, 'f', -1, 64)
	if h == 1 {
		return s + " hour"
	}
	return s + " hours"
}

// spokenMoney renders an amount for a prompt: "80 dollars", "$95.50".
func spokenMoney(v float64) string {
	v = lineitem.RoundCents(v)
	if v == float64(int64(v)) {
		if v == 1 {
			return "1 dollar"
		}
		return fmt.Sprintf("%d dollars", int64(v))
	}
	return fmt.Sprintf("$%.2f", v)
}

// joinList renders "a", "a and b", "a, b and c".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func kindNoun(k shop.RecordKind) string {
	if k == shop.KindInvoice {
		return "invoice"
	}
	return "service log"
}

const (
	promptCustomer = "Which customer is this for?"
	promptRetry    = "I didn't catch that, please try again."
	promptCancel   = "Okay, cancelled. Nothing was saved."
)

func promptVehicle(c shop.Customer, vs []shop.Vehicle) string {
	descs := make([]string, len(vs))
	for i, v := range vs {
		descs[i] = "a " + v.Description()
	}
	return fmt.Sprintf("%s has %s. Which vehicle?", c.Name, joinList(descs))
}

func promptFirstService(t Target) string {
	return fmt.Sprintf("Working on %s's %s. What service did you perform, and how long did it take?",
		t.Customer.Name, t.Vehicle.Description())
}

const promptNextService = "What other service did you perform, and how long did it take?"

func promptPrice(service string, hours float64) string {
	return fmt.Sprintf("%s, %s. How much should I charge?", service, spokenHours(hours))
}

func promptMore(added *shop.LineItem) string {
	const ask = "Would you like to add another item?"
	if added == nil {
		return ask
	}
	return fmt.Sprintf("Added %s, %s, %s. %s",
		added.Name, spokenHours(added.Hours), spokenMoney(added.Price), ask)
}

func promptSummary(kind shop.RecordKind, n int, total float64) string {
	noun := "items"
	if n == 1 {
		noun = "item"
	}
	return fmt.Sprintf("Creating the %s with %d %s totaling %s.", kindNoun(kind), n, noun, spokenMoney(total))
}

func promptComplete(kind shop.RecordKind) string {
	return fmt.Sprintf("Done. The %s has been saved.", kindNoun(kind))
}

// failureMessage is spoken before a session returns to idle.
func failureMessage(err error, heard string) string {
	if errors.Is(err, ErrNoVehicles) {
		return fmt.Sprintf("%s has no vehicles on file.", heard)
	}
	switch Kind(err) {
	case KindPermissionDenied:
		return "I don't have permission to use the microphone."
	case KindDeviceUnavailable:
		return "I couldn't start the microphone."
	case KindTooShort, KindTranscriptionFailed:
		return "Sorry, I still couldn't understand. Please start again when you're ready."
	case KindNoEntityMatch:
		if heard == "" {
			return "Sorry, I couldn't find a match."
		}
		return fmt.Sprintf("Sorry, I couldn't find a match for %s.", heard)
	case KindNoItems:
		return "No items were added, so nothing was saved."
	case KindCommitFailed:
		return "Sorry, I couldn't save the record. Your items are still on screen. Please try again."
	default:
		return "Sorry, something went wrong."
	}
}
