package compliance

import (
	"strings"
	"unicode"
)

type Keyword int

const (
	KeywordNone Keyword = iota
	KeywordOptOut
	KeywordOptIn
)

func (k Keyword) String() string {
	switch k {
	case KeywordOptOut:
		return "opt_out"
	case KeywordOptIn:
		return "opt_in"
	default:
		return "none"
	}
}

var optOutKeywords = map[string]bool{
	"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true, "CANCEL": true,
	"END": true, "QUIT": true, "OPTOUT": true, "OPT OUT": true,
}

var optInKeywords = map[string]bool{
	"START": true, "UNSTOP": true, "SUBSCRIBE": true,
}

// DetectKeyword matches the whole message against the consent keywords,
// ignoring case, punctuation and extra whitespace.
func DetectKeyword(body string) Keyword {
	normalized := normalizeBody(body)
	switch {
	case optOutKeywords[normalized]:
		return KeywordOptOut
	case optInKeywords[normalized]:
		return KeywordOptIn
	default:
		return KeywordNone
	}
}

func normalizeBody(body string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			return unicode.ToUpper(r)
		}
		if r == '-' || r == '_' {
			return ' '
		}
		return -1
	}, body)
	return strings.Join(strings.Fields(cleaned), " ")
}
