package store

import (
	"encoding/json"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return s
}

func TestStoreAndRetrieveByID(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.Store(TierWorking, map[string]string{"note": "hello"}, Metadata{Title: "greeting"})
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("entry has no id")
	}
	if entry.Tier != TierWorking {
		t.Errorf("Tier = %q, want %q", entry.Tier, TierWorking)
	}

	hits, err := s.Retrieve(Criteria{ID: entry.ID})
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}

	var content map[string]string
	if err := json.Unmarshal(hits[0].Content, &content); err != nil {
		t.Fatalf("unmarshal content: %v", err)
	}
	if content["note"] != "hello" {
		t.Errorf("content = %v", content)
	}
}

func TestStoreInvalidTier(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Store("archive", "data", Metadata{})
	if err == nil {
		t.Fatal("expected error for invalid tier")
	}
	var tierErr *InvalidTierError
	if !errors.As(err, &tierErr) {
		t.Fatalf("error type = %T, want *InvalidTierError", err)
	}
	if tierErr.Tier != "archive" {
		t.Errorf("Tier = %q, want archive", tierErr.Tier)
	}

	if _, err := s.Retrieve(Criteria{Tier: "archive"}); !errors.As(err, &tierErr) {
		t.Fatalf("Retrieve error type = %T, want *InvalidTierError", err)
	}
}

func TestRetrieveByCriteria(t *testing.T) {
	s := newTestStore(t)

	mustStore := func(tier string, meta Metadata) {
		t.Helper()
		if _, err := s.Store(tier, "x", meta); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}
	mustStore(TierCore, Metadata{Title: "Project charter", Project: "atlas", User: "kim", Tags: []string{"planning"}})
	mustStore(TierWorking, Metadata{Title: "Sprint notes", Project: "atlas", User: "kim", Tags: []string{"planning", "weekly"}})
	mustStore(TierReference, Metadata{Title: "API reference", Project: "borealis", User: "sam"})

	tests := []struct {
		name     string
		criteria Criteria
		want     int
	}{
		{"by project", Criteria{Project: "atlas"}, 2},
		{"by user", Criteria{User: "sam"}, 1},
		{"by tag", Criteria{Tags: []string{"weekly"}}, 1},
		{"by all tags", Criteria{Tags: []string{"planning", "weekly"}}, 1},
		{"title substring case-insensitive", Criteria{Title: "reference"}, 1},
		{"project and tier", Criteria{Project: "atlas", Tier: TierCore}, 1},
		{"no match", Criteria{Project: "atlas", User: "sam"}, 0},
		{"everything", Criteria{}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := s.Retrieve(tt.criteria)
			if err != nil {
				t.Fatalf("Retrieve error: %v", err)
			}
			if len(hits) != tt.want {
				t.Errorf("got %d hits, want %d", len(hits), tt.want)
			}
		})
	}
}

func TestRetrieveBumpsAccessed(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.Store(TierReference, "doc", Metadata{})
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}

	hits, err := s.Retrieve(Criteria{ID: entry.ID})
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if hits[0].Accessed.Before(entry.Accessed) {
		t.Errorf("Accessed went backwards: %v < %v", hits[0].Accessed, entry.Accessed)
	}

	// The bump must be persisted, not just returned.
	again, err := s.Retrieve(Criteria{ID: entry.ID})
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if again[0].Accessed.Before(hits[0].Accessed) {
		t.Errorf("persisted Accessed %v predates first retrieval %v", again[0].Accessed, hits[0].Accessed)
	}
}

func TestRetrieveUnknownID(t *testing.T) {
	s := newTestStore(t)
	hits, err := s.Retrieve(Criteria{ID: "no-such-id"})
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits, want 0", len(hits))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.Store(TierWorking, "entry", Metadata{}); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}
	if _, err := s.Store(TierHistorical, "old", Metadata{}); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.Total.Files != 4 {
		t.Errorf("Total.Files = %d, want 4", stats.Total.Files)
	}
	if stats.Tiers[TierWorking].Files != 3 {
		t.Errorf("working files = %d, want 3", stats.Tiers[TierWorking].Files)
	}
	if stats.Tiers[TierHistorical].Files != 1 {
		t.Errorf("historical files = %d, want 1", stats.Tiers[TierHistorical].Files)
	}
	if stats.Tiers[TierCore].Files != 0 {
		t.Errorf("core files = %d, want 0", stats.Tiers[TierCore].Files)
	}
	if stats.Total.Size == 0 {
		t.Error("Total.Size = 0, want > 0")
	}
}
