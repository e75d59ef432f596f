// Package router maps a query's surface features to the category partition to search.
package router

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hyperjump/mistri/internal/models"
)

// Rule names the check that decided a route.
type Rule string

const (
	RuleImage     Rule = "image"
	RuleCodeToken Rule = "code_token"
	RuleKeyword   Rule = "keyword"
	RuleNone      Rule = "none"
)

// keywords are matched as substrings of the lowercased query.
var keywords = []string{"error", "code", "display", "showing", "flashing"}

// Decision is the outcome of routing. An empty Category means no restriction.
type Decision struct {
	Category models.Category `json:"category,omitempty"`
	Rule     Rule            `json:"rule"`
	// Match is the token or keyword that fired, if any.
	Match string `json:"match,omitempty"`
}

// Restricted reports whether the decision limits search to one category.
func (d Decision) Restricted() bool { return d.Category != "" }

// Detect applies the routing rules in order; the first that fires wins:
//  1. an attached image routes to SCHEMATICS;
//  2. a whole word of 1-3 letters A-Z plus an optional digit in the uppercased text routes to ERROR_CODES;
//     uppercasing applies full Unicode case mapping, so "ß" becomes "SS";
//  3. an error keyword anywhere in the lowercased text routes to ERROR_CODES;
//  4. otherwise there is no restriction.
func Detect(text string, hasImage bool) Decision {
	if hasImage {
		return Decision{Category: models.CategorySchematics, Rule: RuleImage}
	}
	// Casers carry state and are not shared between calls.
	if tok, ok := findCodeToken(cases.Upper(language.Und).String(text)); ok {
		return Decision{Category: models.CategoryErrorCodes, Rule: RuleCodeToken, Match: tok}
	}
	lower := cases.Lower(language.Und).String(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return Decision{Category: models.CategoryErrorCodes, Rule: RuleKeyword, Match: kw}
		}
	}
	return Decision{Rule: RuleNone}
}

// Route returns the category to search, or "" for no restriction.
func Route(text string, hasImage bool) models.Category {
	return Detect(text, hasImage).Category
}

// findCodeToken returns the first word of s shaped like an error code.
// Words are maximal runs of letters, numbers, and underscores.
func findCodeToken(s string) (string, bool) {
	start := -1
	for i, r := range s {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if w := s[start:i]; isCodeWord(w) {
				return w, true
			}
			start = -1
		}
	}
	if start >= 0 {
		if w := s[start:]; isCodeWord(w) {
			return w, true
		}
	}
	return "", false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// isCodeWord reports whether w is 1-3 ASCII uppercase letters optionally followed by one digit.
func isCodeWord(w string) bool {
	runes := []rune(w)
	n := 0
	for n < len(runes) && runes[n] >= 'A' && runes[n] <= 'Z' {
		n++
	}
	if n < 1 || n > 3 {
		return false
	}
	rest := runes[n:]
	return len(rest) == 0 || (len(rest) == 1 && unicode.IsDigit(rest[0]))
}
