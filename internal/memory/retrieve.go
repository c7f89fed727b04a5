package memory

import (
	"sort"
	"strings"
	"time"
)

// Scoring weights. Boosts push intent-matched records past plain topical
// overlap; the resulting scores order candidates and may exceed 1.0.
const (
	overlapWeight        = 0.6
	typeMatchBonus       = 0.3
	freshBonus           = 0.1
	recencyTypeBoost     = 0.65
	impliedArtifactBoost = 0.65
	lineQueryBoost       = 1.5
	nearScoreEpsilon     = 0.1
)

// FindRelevant ranks stored conversations against a new user message and
// returns the selected candidates, best first. Invalid input yields an empty
// result rather than an error so the caller's conversation path is never
// blocked by a malformed memory query.
func (e *Engine) FindRelevant(message string) []ScoredRecord {
	if strings.TrimSpace(message) == "" {
		e.logger.Warn("empty retrieval message, returning no candidates")
		return nil
	}
	tokens := tokenize(message)

	intent := detectIntent(message)
	now := e.now().UTC()

	candidates := e.gatherCandidates(tokens, intent, now)
	if len(candidates) == 0 {
		return nil
	}

	scored := make([]ScoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		scored = append(scored, ScoredRecord{
			Record: rec,
			Score:  e.scoreRecord(rec, tokens, intent, now),
		})
	}

	orderCandidates(scored, intent)

	limit := e.maxResults
	selection := scored
	if intent.singleArtifact && intent.explicitType {
		// "the poem you wrote" asks for one artifact: narrow to the
		// requested type and tighten the selection. The filter must not
		// reuse the scored backing array; spliceAuthoritative scans the
		// full pool afterwards.
		filtered := make([]ScoredRecord, 0, len(selection))
		for _, s := range selection {
			if s.Record.ContentType == intent.contentType {
				filtered = append(filtered, s)
			}
		}
		selection = filtered
		limit = e.artifactResults
	}
	if len(selection) > limit {
		selection = selection[:limit]
	}

	if intent.kind == intentLine {
		selection = spliceAuthoritative(selection, scored)
	}
	return selection
}

// FindRelevantConversations is the id-only form of FindRelevant.
func (e *Engine) FindRelevantConversations(message string) []int64 {
	selection := e.FindRelevant(message)
	ids := make([]int64, 0, len(selection))
	for _, s := range selection {
		ids = append(ids, s.Record.ID)
	}
	return ids
}

// gatherCandidates picks the candidate pool per query intent. Recency
// intents restrict to records of the matching or implied type created within
// the recency window, bypassing topic overlap entirely when any exist; line
// queries widen the pool with topic/artifact hits so forced inclusion can
// scan past the recency set.
func (e *Engine) gatherCandidates(tokens []string, intent queryIntent, now time.Time) []ConversationRecord {
	byID := make(map[int64]ConversationRecord)

	if intent.kind == intentRecency || intent.kind == intentLine {
		for _, rec := range e.idx.all() {
			if now.Sub(rec.Timestamp) > e.recencyWindow {
				continue
			}
			if intent.explicitType && rec.ContentType != intent.contentType {
				continue
			}
			if !intent.explicitType && !artifactType(rec.ContentType) {
				continue
			}
			byID[rec.ID] = rec
		}
		if len(byID) > 0 && intent.kind == intentRecency {
			return mapValues(byID)
		}
	}

	for _, token := range tokens {
		for _, id := range e.idx.byTopic(token) {
			if rec, ok := e.idx.record(id); ok {
				byID[id] = rec
			}
		}
	}
	if intent.explicitType {
		for _, id := range e.idx.byArtifact(intent.contentType) {
			if rec, ok := e.idx.record(id); ok {
				byID[id] = rec
			}
		}
	}
	return mapValues(byID)
}

func (e *Engine) scoreRecord(rec ConversationRecord, tokens []string, intent queryIntent, now time.Time) float64 {
	score := overlapRatio(tokens, rec.Topics) * overlapWeight

	if intent.explicitType && rec.ContentType == intent.contentType {
		score += typeMatchBonus
	}
	age := now.Sub(rec.Timestamp)
	if age < e.freshWindow {
		score += freshBonus
	}

	switch intent.kind {
	case intentRecency:
		if intent.explicitType && rec.ContentType == intent.contentType {
			score += recencyTypeBoost
		} else if !intent.explicitType && artifactType(rec.ContentType) {
			score += impliedArtifactBoost
		}
	case intentLine:
		if age < e.recencyWindow && artifactType(rec.ContentType) {
			score += lineQueryBoost
		}
	}
	return score
}

// orderCandidates sorts by score descending. For recency-sensitive intents,
// near-equal scores fall back to timestamp descending; exact ties always do.
func orderCandidates(scored []ScoredRecord, intent queryIntent) {
	recency := intent.recencySensitive()
	sort.SliceStable(scored, func(i, j int) bool {
		di := scored[i].Score - scored[j].Score
		if recency && di < nearScoreEpsilon && di > -nearScoreEpsilon {
			return scored[i].Record.Timestamp.After(scored[j].Record.Timestamp)
		}
		if di == 0 {
			return scored[i].Record.Timestamp.After(scored[j].Record.Timestamp)
		}
		return di > 0
	})
}

// spliceAuthoritative scans the full candidate pool for authoritative
// records and splices up to two missing ones into the selection, so a stale
// non-authoritative memory is never the only source consulted for a
// line-numbered question.
func spliceAuthoritative(selection, pool []ScoredRecord) []ScoredRecord {
	present := make(map[int64]struct{}, len(selection))
	for _, s := range selection {
		present[s.Record.ID] = struct{}{}
	}
	added := 0
	for _, s := range pool {
		if added >= 2 {
			break
		}
		if _, ok := present[s.Record.ID]; ok {
			continue
		}
		if !isAuthoritative(s.Record) {
			continue
		}
		present[s.Record.ID] = struct{}{}
		selection = append(selection, s)
		added++
	}
	return selection
}

func sortByScoreThenTime(scored []ScoredRecord) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].Record.Timestamp.After(scored[j].Record.Timestamp)
		}
		return scored[i].Score > scored[j].Score
	})
}

func mapValues(byID map[int64]ConversationRecord) []ConversationRecord {
	out := make([]ConversationRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
