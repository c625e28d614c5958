// Package moderation provides content filtering and moderation capabilities.
// It screens chat messages for prohibited content and enforces community
// guidelines before messages are delivered to recipients.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of a content check.
type FilterResult struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"` // "blocked_keyword" or "spam_pattern"
	Term    string `json:"term"`   // the matched term or spam check name
}

// Filter screens message text against a keyword blocklist and a set of spam
// pattern checks. Matching is exact per token: a blocked word embedded inside
// a longer word does not trigger.
type Filter struct {
	words   map[string]struct{} // single-word terms
	phrases map[string]struct{} // multi-word terms, space-normalized
}

// defaultBlocklist covers slurs, self-harm incitement, sexual exploitation,
// harassment, extremism, threats and scam bait. Multi-word entries match as
// whole phrases.
var defaultBlocklist = []string{
	// slurs
	"nigger", "nigga", "faggot", "tranny", "kike", "spic", "chink",
	"wetback", "raghead",
	// self-harm incitement
	"kill yourself", "kys", "go die", "hang yourself", "slit your wrists",
	// sexual exploitation
	"child porn", "cp trade", "jailbait", "loli porn", "underage nudes",
	"send nudes", "sell nudes",
	// harassment and threats
	"rape you", "i will find you and kill", "bomb threat", "shoot up",
	"gonna rape",
	// extremism
	"heil hitler", "sieg heil", "gas the", "white power", "race war",
	// scams
	"free bitcoin", "free robux", "crypto giveaway", "double your money",
	"onlyfans promo",
}

// NewFilter creates a filter loaded with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms creates a filter from an explicit term list. Empty and
// whitespace-only terms are dropped; terms containing spaces are matched as
// whole phrases, everything else as single tokens.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{
		words:   make(map[string]struct{}),
		phrases: make(map[string]struct{}),
	}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			f.phrases[term] = struct{}{}
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens a message. Keyword matches take priority over spam patterns;
// the first hit wins.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	// Plain token pass: punctuation-delimited exact word matches.
	plain := tokenizePlain(lower)
	for _, tok := range plain {
		if _, ok := f.words[tok]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: tok}
		}
	}

	// Leet pass: whitespace tokens run through character substitution so
	// "b@dw0rd" still resolves to its blocklist entry.
	for _, tok := range tokenizeLeet(lower) {
		norm := normalizeLeet(tok)
		if norm == tok {
			continue // already covered by the plain pass
		}
		if _, ok := f.words[norm]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: norm}
		}
	}

	// Phrase pass over the token streams, space-joined so word boundaries
	// hold ("kill yourselves" must not match "kill yourself").
	if term, ok := f.matchPhrase(plain); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}
	leetPlain := make([]string, 0, len(plain))
	for _, tok := range tokenizeLeet(lower) {
		leetPlain = append(leetPlain, tokenizePlain(normalizeLeet(tok))...)
	}
	if term, ok := f.matchPhrase(leetPlain); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	return f.checkSpamPatterns(text)
}

// CheckInterests returns the subset of interest tags that pass the filter,
// preserving order.
func (f *Filter) CheckInterests(interests []string) []string {
	clean := make([]string, 0, len(interests))
	for _, tag := range interests {
		if !f.Check(tag).Blocked {
			clean = append(clean, tag)
		}
	}
	return clean
}

func (f *Filter) matchPhrase(tokens []string) (string, bool) {
	if len(f.phrases) == 0 || len(tokens) == 0 {
		return "", false
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for phrase := range f.phrases {
		if strings.Contains(joined, " "+phrase+" ") {
			return phrase, true
		}
	}
	return "", false
}

// leetMap holds the character substitutions undone by normalizeLeet.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalizeLeet lowercases a token and reverses common leetspeak
// substitutions.
func normalizeLeet(tok string) string {
	var b strings.Builder
	b.Grow(len(tok))
	for _, r := range strings.ToLower(tok) {
		if sub, ok := leetMap[r]; ok {
			r = sub
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tokenizePlain splits text into alphanumeric tokens, dropping punctuation.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// tokenizeLeet splits on whitespace only, keeping leet characters intact.
func tokenizeLeet(text string) []string {
	return strings.Fields(text)
}
