package memory

import (
	"regexp"
	"strings"

	"github.com/stellarlinkco/recall/internal/classify"
)

type intentKind int

const (
	intentDefault intentKind = iota
	// intentRecency: "the one you just wrote", "that poem you wrote".
	// The user is pointing at a recently created artifact, not a topic.
	intentRecency
	// intentLine: "what was the second line of ...". Same recency
	// restriction plus forced inclusion of authoritative records.
	intentLine
)

// queryIntent is the outcome of running the detector tables over a message.
type queryIntent struct {
	kind           intentKind
	contentType    string // explicit mention or implied by the recency phrase
	explicitType   bool
	singleArtifact bool // "the poem you wrote" style, narrows selection width
}

// Detector tables. Kept as data (pattern lists) rather than inline
// conditionals so they stay independently testable and tunable.
var (
	recencyPatterns = compileAll(
		`(?i)\byou\s+just\s+(wrote|made|created|gave|generated)\b`,
		`(?i)\bthe\s+one\s+you\s+(just\s+)?(wrote|made|created|generated)\b`,
		`(?i)\bthat\s+\w+\s+you\s+(just\s+)?(wrote|made|created|generated)\b`,
		`(?i)\b(earlier|before)\s+you\s+(wrote|made|created)\b`,
	)

	linePatterns = compileAll(
		`(?i)\b(first|second|third|fourth|fifth|sixth|last)\s+(line|verse|stanza)\b`,
		`(?i)\b(line|verse|stanza)\s+(number\s+)?\d+\b`,
		`(?i)\b\d+(st|nd|rd|th)\s+(line|verse|stanza)\b`,
	)

	singleArtifactPattern = regexp.MustCompile(
		`(?i)\bthe\s+(poem|haiku|code|function|script|story|example)\s+(that\s+)?you\b`)

	// typeMentions maps surface words to classifier categories.
	typeMentions = []struct {
		word string
		typ  string
	}{
		{"poem", classify.TypePoem},
		{"haiku", classify.TypePoem},
		{"verse", classify.TypePoem},
		{"stanza", classify.TypePoem},
		{"poetry", classify.TypePoem},
		{"code", classify.TypeCode},
		{"function", classify.TypeCode},
		{"script", classify.TypeCode},
		{"snippet", classify.TypeCode},
		{"program", classify.TypeCode},
		{"story", classify.TypeStory},
		{"tale", classify.TypeStory},
		{"example", classify.TypeExample},
		{"explanation", classify.TypeExplanation},
	}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// detectIntent classifies the query itself: which selection strategy applies
// and whether the user named a content type.
func detectIntent(message string) queryIntent {
	intent := queryIntent{kind: intentDefault}

	lower := strings.ToLower(message)
	for _, m := range typeMentions {
		if strings.Contains(lower, m.word) {
			intent.contentType = m.typ
			intent.explicitType = true
			break
		}
	}

	switch {
	case matchAny(linePatterns, message):
		intent.kind = intentLine
	case matchAny(recencyPatterns, message):
		intent.kind = intentRecency
	}

	if singleArtifactPattern.MatchString(message) {
		intent.singleArtifact = true
	}

	return intent
}

// recencySensitive reports whether near-equal scores should fall back to a
// timestamp-descending order.
func (q queryIntent) recencySensitive() bool {
	return q.kind == intentRecency || q.kind == intentLine
}

// artifactType reports whether t is a created-artifact category, the kind
// "the one you wrote" refers to when no type is named.
func artifactType(t string) bool {
	switch t {
	case classify.TypePoem, classify.TypeCode, classify.TypeStory, classify.TypeExample:
		return true
	}
	return false
}
