// Package moderation screens text message bodies before they are fanned out
// to a room. It combines a keyword/phrase blocklist, which sees through
// common character substitutions, with pattern checks for spam.
package moderation

import (
	"strings"
	"unicode"
)

// Reasons reported in Result.Reason.
const (
	ReasonKeyword = "blocked_keyword"
	ReasonSpam    = "spam_pattern"
)

// DefaultTerms is the blocklist used by NewFilter.
var DefaultTerms = []string{
	"kill yourself",
	"go die",
	"send nudes",
	"free bitcoin",
	"bomb threat",
	"heil hitler",
}

// Result is the outcome of Check. Term names the blocklist entry or spam
// check that matched.
type Result struct {
	Blocked bool
	Reason  string
	Term    string
}

// Filter is immutable after construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string
	spam    bool
}

// NewFilter returns a filter with DefaultTerms and spam checks enabled.
func NewFilter() *Filter {
	return NewFilterWithTerms(DefaultTerms)
}

// NewFilterWithTerms returns a filter with a custom blocklist. Single-word
// terms match whole tokens; multi-word terms match consecutive tokens.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{}), spam: true}
	for _, term := range terms {
		tokens := tokenizePlain(term)
		switch len(tokens) {
		case 0:
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// WithoutSpamChecks returns a copy of f that only applies the blocklist.
func (f *Filter) WithoutSpamChecks() *Filter {
	cp := *f
	cp.spam = false
	return &cp
}

// Check screens text. Blocklist matches take precedence over spam checks.
func (f *Filter) Check(text string) Result {
	if text == "" {
		return Result{}
	}

	for _, tokens := range [][]string{tokenizePlain(text), tokenizePlain(normalizeLeet(text))} {
		if term, ok := f.matchTerms(tokens); ok {
			return Result{Blocked: true, Reason: ReasonKeyword, Term: term}
		}
	}

	if f.spam {
		return checkSpam(text)
	}
	return Result{}
}

func (f *Filter) matchTerms(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}
	for _, phrase := range f.phrases {
		if containsRun(tokens, phrase) {
			return strings.Join(phrase, " "), true
		}
	}
	return "", false
}

func containsRun(tokens, run []string) bool {
	for i := 0; i+len(run) <= len(tokens); i++ {
		match := true
		for j := range run {
			if tokens[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// tokenizePlain lowercases text and splits it on anything that is not a
// letter or digit.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"!", "i",
)

// normalizeLeet undoes common character substitutions.
func normalizeLeet(text string) string {
	return leetReplacer.Replace(strings.ToLower(text))
}
