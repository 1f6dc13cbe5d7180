package engine

import (
	"strings"
	"unicode"
)

// minPhoneDigits is the digit count at which free text is taken as a phone
// number. This is a heuristic, not validation: any text containing ten or
// more digits qualifies.
const minPhoneDigits = 10

// ParsePhone strips every non-digit from text and reports the digits when
// there are at least ten of them.
func ParsePhone(text string) (string, bool) {
	digits := digitsOf(text)
	if len(digits) < minPhoneDigits {
		return "", false
	}
	return digits, true
}

func digitsOf(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// objectiveFrom returns text as an objective unless it is nothing but a
// phone number.
func objectiveFrom(text string) string {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return text
		}
	}
	return DefaultObjective
}
