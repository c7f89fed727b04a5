package memory

import (
	"strings"
	"unicode"
)

const maxTopics = 16

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "you": {}, "that": {}, "this": {},
	"with": {}, "was": {}, "are": {}, "what": {}, "have": {}, "from": {},
	"about": {}, "your": {}, "can": {}, "did": {}, "does": {}, "how": {},
	"just": {}, "please": {}, "write": {}, "wrote": {}, "make": {}, "made": {},
}

// tokenize lowercases, strips punctuation, splits on whitespace, and drops
// short tokens and stopwords.
func tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteByte(' ')
	}

	seen := make(map[string]struct{})
	tokens := make([]string, 0, 16)
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) <= 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	return tokens
}

// extractTopics builds a record's topic set from both sides of the turn,
// capped so an enormous response does not bloat the topic index.
func extractTopics(userMessage, assistantResponse string) []string {
	topics := tokenize(userMessage)
	seen := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		seen[t] = struct{}{}
	}
	for _, t := range tokenize(assistantResponse) {
		if len(topics) >= maxTopics {
			break
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	}
	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}
	return topics
}

// overlapRatio is |query ∩ topics| / |query|.
func overlapRatio(queryTokens []string, topics []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	hits := 0
	for _, q := range queryTokens {
		if _, ok := set[q]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// estimateTokens is the usual rough chars/4 heuristic; good enough for
// optimization reports, not billing.
func estimateTokens(text string) int {
	return len(text) / 4
}
