// internal/match/polarity.go
package match

import "strings"

// Polarity classifies an answer into the Yes/No/Decline families used by
// demographic and EEO-style questions, where option wording varies wildly
// ("I identify as a protected veteran") but the answer space does not.
type Polarity int

const (
	PolarityUnknown Polarity = iota
	PolarityYes
	PolarityNo
	PolarityDecline
)

func (p Polarity) String() string {
	switch p {
	case PolarityYes:
		return "yes"
	case PolarityNo:
		return "no"
	case PolarityDecline:
		return "decline"
	default:
		return "unknown"
	}
}

// Phrase tables. Negative phrases are checked before affirmative ones
// because affirmative markers are substrings of their negations ("i am" in
// "i am not", "identify" in "do not identify").
var (
	declinePhrases = []string{
		"decline",
		"prefer not",
		"don t wish",
		"do not wish",
		"rather not",
		"choose not",
		"not to answer",
		"not to disclose",
		"not to self identify",
		"no answer",
	}
	noPhrases = []string{
		"i am not",
		"i do not",
		"i don t",
		"do not identify",
		"don t identify",
		"not a protected veteran",
		"not have a disability",
		"not hispanic",
		"no not",
	}
	yesPhrases = []string{
		"i am a",
		"i am an",
		"i do ",
		"i have a",
		"i identify",
		"identify as",
		"protected veteran",
		"have a disability",
	}
)

// Classify maps free-form answer text to its polarity family. Exact
// one-word answers are handled first; longer texts are matched against
// phrase tables on normalized text.
func Classify(s string) Polarity {
	norm := Normalize(s)
	switch norm {
	case "":
		return PolarityUnknown
	case "yes", "y", "true":
		return PolarityYes
	case "no", "n", "false", "none":
		return PolarityNo
	case "decline", "unspecified":
		return PolarityDecline
	}

	padded := " " + norm + " "
	for _, p := range declinePhrases {
		if strings.Contains(padded, p) {
			return PolarityDecline
		}
	}
	for _, p := range noPhrases {
		if strings.Contains(padded, p) {
			return PolarityNo
		}
	}
	for _, p := range yesPhrases {
		if strings.Contains(padded, p) {
			return PolarityYes
		}
	}
	if strings.HasPrefix(norm, "yes ") {
		return PolarityYes
	}
	if strings.HasPrefix(norm, "no ") {
		return PolarityNo
	}
	return PolarityUnknown
}

// IsDecline reports whether the option text belongs to the decline family.
// Used for the fallback selection on unmatched sensitive fields.
func IsDecline(s string) bool {
	return Classify(s) == PolarityDecline
}
