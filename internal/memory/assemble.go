package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// authoritativeMinLength is the response length below which a record
	// cannot plausibly contain a full re-displayed artifact.
	authoritativeMinLength = 200

	noRelevantMemorySummary = "no relevant memory"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```.*?```")
	redisplayPattern   = regexp.MustCompile(
		`(?i)\b(contents of the (poem|code|story|file)|display it|here('s| is) the (full|complete|entire))\b`)
)

// isAuthoritative judges whether a record's response is structurally likely
// to contain a complete, faithfully reproduced artifact rather than a
// passing reference to it.
func isAuthoritative(rec ConversationRecord) bool {
	if len(rec.AssistantResponse) <= authoritativeMinLength {
		return false
	}
	return fencedBlockPattern.MatchString(rec.AssistantResponse) ||
		redisplayPattern.MatchString(rec.AssistantResponse)
}

// BuildContext retrieves and formats the bounded context block for a new
// user message. With no candidates it returns an empty context and a
// "no relevant memory" summary; it never fabricates content.
func (e *Engine) BuildContext(message string) *ContextResult {
	return e.assemble(message, e.FindRelevant(message))
}

func (e *Engine) assemble(message string, selection []ScoredRecord) *ContextResult {
	if len(selection) == 0 {
		return &ContextResult{Summary: noRelevantMemorySummary}
	}

	artifacts := make([]ArtifactRef, 0, len(selection))
	for _, s := range selection {
		artifacts = append(artifacts, ArtifactRef{
			ID:        s.Record.ID,
			Type:      s.Record.ContentType,
			Relevance: s.Score,
			Timestamp: s.Record.Timestamp,
		})
	}

	intent := detectIntent(message)
	var text string
	if intent.kind == intentLine {
		text = formatTwoTier(selection)
	} else {
		text = formatFlat(selection)
	}

	return &ContextResult{
		ContextText:           text,
		Summary:               fmt.Sprintf("%d relevant conversation(s) from memory", len(selection)),
		Artifacts:             artifacts,
		RelevantConversations: len(selection),
	}
}

// formatTwoTier partitions records into authoritative content and
// reference-only previous Q&A, each chronological, and appends the
// instruction telling the generator which side wins on disagreement. The
// split exists to stop a generator from amplifying its own earlier
// transcription mistake about the same artifact.
func formatTwoTier(selection []ScoredRecord) string {
	var authoritative, reference []ConversationRecord
	for _, s := range selection {
		if isAuthoritative(s.Record) {
			authoritative = append(authoritative, s.Record)
		} else {
			reference = append(reference, s.Record)
		}
	}
	chronological(authoritative)
	chronological(reference)

	var sb strings.Builder
	if len(authoritative) > 0 {
		sb.WriteString("## Authoritative content (full artifacts)\n\n")
		for _, rec := range authoritative {
			writePair(&sb, rec)
		}
	}
	if len(reference) > 0 {
		sb.WriteString("## Previous Q&A (reference only, may contain transcription errors)\n\n")
		for _, rec := range reference {
			writePair(&sb, rec)
		}
	}
	sb.WriteString("When the sections disagree about the same artifact, prefer the most recently created item in the authoritative section.\n")
	return sb.String()
}

// formatFlat emits the retrieved pairs labeled by content type.
func formatFlat(selection []ScoredRecord) string {
	var sb strings.Builder
	sb.WriteString("## Relevant past conversations\n\n")
	for _, s := range selection {
		writePair(&sb, s.Record)
	}
	return sb.String()
}

func writePair(sb *strings.Builder, rec ConversationRecord) {
	fmt.Fprintf(sb, "[%s | %s]\n", rec.ContentType, rec.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(sb, "User: %s\n", rec.UserMessage)
	fmt.Fprintf(sb, "Assistant: %s\n\n", rec.AssistantResponse)
}

func chronological(records []ConversationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}
