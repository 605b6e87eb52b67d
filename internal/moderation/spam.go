package moderation

import (
	"regexp"
	"strings"
)

var (
	// urlPattern matches scheme and www. URLs, and bare domains on a handful
	// of TLDs when followed by a path. Requiring the slash keeps "v2.0" and
	// "3.14" clean.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches grouped phone numbers such as +1-555-123-4567,
	// (555) 123-4567 or 555.123.4567, bounded by whitespace.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

const (
	charFloodRun = 5 // identical runes in a row
	wordFloodRun = 3 // identical words in a row
)

// spamRules run in order; the first match wins.
var spamRules = []struct {
	term  string
	match func(string) bool
}{
	{"url", urlPattern.MatchString},
	{"phone", phonePattern.MatchString},
	{"char_flood", func(s string) bool { return longestRun([]rune(s), runeEq) >= charFloodRun }},
	{"word_flood", func(s string) bool { return longestRun(strings.Fields(strings.ToLower(s)), strEq) >= wordFloodRun }},
}

func checkSpam(text string) Result {
	for _, rule := range spamRules {
		if rule.match(text) {
			return Result{Blocked: true, Reason: ReasonSpam, Term: rule.term}
		}
	}
	return Result{}
}

func runeEq(a, b rune) bool  { return a == b }
func strEq(a, b string) bool { return a == b }

// longestRun returns the length of the longest stretch of equal adjacent
// elements. RE2 has no backreferences, hence the scan.
func longestRun[T any](items []T, eq func(a, b T) bool) int {
	if len(items) == 0 {
		return 0
	}
	best, cur := 1, 1
	for i := 1; i < len(items); i++ {
		if eq(items[i], items[i-1]) {
			cur++
			if cur > best {
				best = cur
			}
		} else {
			cur = 1
		}
	}
	return best
}
