package router

import (
	"context"
	"strings"
	"unicode/utf8"

	"switchboard/internal/config"
	"switchboard/internal/logging"
)

// IntentKind distinguishes the two explicit-intent families.
type IntentKind int

const (
	IntentNone IntentKind = iota
	// IntentNewSession replaces the current session.
	IntentNewSession
	// IntentFork spawns a linked child session; the parent stays resumable.
	IntentFork
)

// IntentMatch reports a detected explicit intent and which tier caught it.
type IntentMatch struct {
	Kind    IntentKind
	Keyword string
	Locale  string
	Tier    int // 1 exact, 2 fuzzy, 3 classifier
}

// IntentDetector runs the three-tier explicit-intent match: exact substring,
// fuzzy (edit distance), then an optional injected classifier for
// paraphrases. Tiers 1-2 never depend on an external collaborator.
type IntentDetector struct {
	classifier IntentClassifier
	logger     logging.Logger
}

// NewIntentDetector builds a detector. classifier may be nil; tier 3 is then
// skipped silently.
func NewIntentDetector(classifier IntentClassifier) *IntentDetector {
	return &IntentDetector{
		classifier: classifier,
		logger:     logging.NewComponentLogger("IntentDetector"),
	}
}

// Detect matches message against the configured keyword sets, short-circuiting
// on the first tier that produces a match.
func (d *IntentDetector) Detect(ctx context.Context, message string, cfg config.RouterConfig) IntentMatch {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		return IntentMatch{}
	}

	// Tier 1: exact substring, case-insensitive, across every locale.
	if match, ok := exactMatch(normalized, cfg.ForkKeywords); ok {
		match.Kind = IntentFork
		return match
	}
	if match, ok := exactMatch(normalized, cfg.IntentKeywords); ok {
		match.Kind = IntentNewSession
		return match
	}

	// Tier 2: fuzzy match to catch typos.
	if cfg.FuzzyEditDistanceMax > 0 {
		if match, ok := fuzzyMatch(normalized, cfg.ForkKeywords, cfg.FuzzyEditDistanceMax); ok {
			match.Kind = IntentFork
			return match
		}
		if match, ok := fuzzyMatch(normalized, cfg.IntentKeywords, cfg.FuzzyEditDistanceMax); ok {
			match.Kind = IntentNewSession
			return match
		}
	}

	// Tier 3: optional paraphrase classifier. Unavailability is not an error.
	if d.classifier != nil {
		kind, err := d.classifier.ClassifyIntent(ctx, message)
		if err != nil {
			logging.OrNop(d.logger).Debug("Intent classifier unavailable: %v", err)
		} else if kind != IntentNone {
			return IntentMatch{Kind: kind, Keyword: "", Tier: 3}
		}
	}

	return IntentMatch{}
}

func exactMatch(normalized string, keywords map[string][]string) (IntentMatch, bool) {
	for locale, words := range keywords {
		for _, word := range words {
			keyword := strings.ToLower(strings.TrimSpace(word))
			if keyword == "" {
				continue
			}
			if strings.Contains(normalized, keyword) {
				return IntentMatch{Keyword: word, Locale: locale, Tier: 1}, true
			}
		}
	}
	return IntentMatch{}, false
}

// fuzzyMatch slides a keyword-sized rune window across the message and
// accepts any window within maxDistance edits of a configured keyword. Very
// short keywords are exempt: a two-edit budget would make them match almost
// anything.
func fuzzyMatch(normalized string, keywords map[string][]string, maxDistance int) (IntentMatch, bool) {
	messageRunes := []rune(normalized)
	for locale, words := range keywords {
		for _, word := range words {
			keyword := strings.ToLower(strings.TrimSpace(word))
			keywordLen := utf8.RuneCountInString(keyword)
			if keywordLen <= maxDistance+1 {
				continue
			}
			if windowDistance(messageRunes, []rune(keyword)) <= maxDistance {
				return IntentMatch{Keyword: word, Locale: locale, Tier: 2}, true
			}
		}
	}
	return IntentMatch{}, false
}

func windowDistance(message, keyword []rune) int {
	if len(message) == 0 || len(keyword) == 0 {
		return len(message) + len(keyword)
	}
	window := len(keyword)
	if len(message) <= window {
		return levenshtein(message, keyword)
	}
	best := levenshtein(message[:window], keyword)
	for start := 1; start+window <= len(message); start++ {
		if d := levenshtein(message[start:start+window], keyword); d < best {
			best = d
			if best == 0 {
				return 0
			}
		}
	}
	return best
}

// levenshtein computes edit distance with the two-row dynamic program.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
