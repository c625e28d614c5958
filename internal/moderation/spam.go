package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Compiled once at init; regexp matchers are safe for concurrent use.
var (
	// Bare domains require a trailing "/" so version strings ("v2.0") and
	// decimals ("3.14") don't trip the matcher.
	reURL = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// Phone formats like +1-555-123-4567, (555) 123-4567, 555.123.4567.
	// Anchored to whitespace so digit runs inside longer tokens and short
	// numbers like "100" pass.
	rePhone = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

type spamCheck struct {
	name  string
	match func(string) bool
}

// Ordered; first match wins.
var spamChecks = []spamCheck{
	{name: "url", match: reURL.MatchString},
	{name: "phone", match: rePhone.MatchString},
	{name: "char_flood", match: hasCharFlood},
	{name: "word_flood", match: hasWordFlood},
}

// hasCharFlood reports 5+ consecutive identical runes. RE2 has no
// backreferences, so this is a linear scan.
func hasCharFlood(text string) bool {
	const threshold = 5

	run := 1
	prev := rune(-1)
	for _, r := range text {
		if r != prev {
			run = 1
			prev = r
			continue
		}
		run++
		if run >= threshold {
			return true
		}
	}
	return false
}

// hasWordFlood reports the same word 3+ times in a row, case-insensitive.
func hasWordFlood(text string) bool {
	const threshold = 3

	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) < threshold {
		return false
	}

	run := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower != prev {
			run = 1
			prev = lower
			continue
		}
		run++
		if run >= threshold {
			return true
		}
	}
	return false
}

// checkSpamPatterns applies every spam check to text and blocks on the
// first hit. A zero FilterResult means clean.
func (f *Filter) checkSpamPatterns(text string) FilterResult {
	for _, sc := range spamChecks {
		if sc.match(text) {
			return FilterResult{
				Blocked: true,
				Reason:  "spam_pattern",
				Term:    sc.name,
			}
		}
	}
	return FilterResult{}
}
