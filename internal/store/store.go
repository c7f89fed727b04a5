// Package store is the tiered persistent store: durable JSON-file entries
// partitioned into four fixed tiers (core, working, reference, historical).
// All writes are atomic (temp file + rename) so a crash mid-write never
// leaves a half-written entry visible.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TierCore       = "core"
	TierWorking    = "working"
	TierReference  = "reference"
	TierHistorical = "historical"
)

// Tiers lists the four fixed tiers in priority order.
var Tiers = []string{TierCore, TierWorking, TierReference, TierHistorical}

// InvalidTierError reports a tier name outside the fixed set. It surfaces to
// the caller because it indicates a programming error, not an environmental
// one.
type InvalidTierError struct {
	Tier string
}

func (e *InvalidTierError) Error() string {
	return fmt.Sprintf("invalid tier %q (want one of %s)", e.Tier, strings.Join(Tiers, ", "))
}

// Metadata describes an entry for retrieval and display.
type Metadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	Project     string   `json:"project,omitempty"`
	User        string   `json:"user,omitempty"`
}

// Entry is one stored item. Tier is immutable once set; Accessed updates on
// every successful retrieval.
type Entry struct {
	ID       string          `json:"id"`
	Tier     string          `json:"tier"`
	Content  json.RawMessage `json:"content"`
	Metadata Metadata        `json:"metadata"`
	Created  time.Time       `json:"created"`
	Modified time.Time       `json:"modified"`
	Accessed time.Time       `json:"accessed"`
	Size     int64           `json:"size"`
}

// Criteria filters Retrieve. ID is exact; the remaining fields are
// conjunctive (all given fields must match). Title matches as a
// case-insensitive substring.
type Criteria struct {
	ID      string
	Tier    string
	Project string
	User    string
	Tags    []string
	Title   string
}

// TierStats is the per-tier slice of Stats.
type TierStats struct {
	Files int   `json:"files"`
	Size  int64 `json:"size"`
}

type Stats struct {
	Total TierStats            `json:"total"`
	Tiers map[string]TierStats `json:"tiers"`
}

type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex // serializes writes; reads only take it for access bumps
}

func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, tier := range Tiers {
		if err := os.MkdirAll(filepath.Join(dir, tier), 0755); err != nil {
			return nil, fmt.Errorf("create tier dir: %w", err)
		}
	}
	return &Store{dir: dir, logger: logger.With("component", "store")}, nil
}

// Store persists content under the given tier and returns the new entry.
func (s *Store) Store(tier string, content any, meta Metadata) (*Entry, error) {
	if !validTier(tier) {
		return nil, &InvalidTierError{Tier: tier}
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:       uuid.New().String(),
		Tier:     tier,
		Content:  raw,
		Metadata: meta,
		Created:  now,
		Modified: now,
		Accessed: now,
		Size:     int64(len(raw)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeEntry(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Retrieve returns entries matching the criteria, bumping each hit's
// accessed timestamp. A failed access bump degrades to a log line; the read
// still succeeds.
func (s *Store) Retrieve(criteria Criteria) ([]Entry, error) {
	var hits []Entry

	if criteria.ID != "" {
		entry, err := s.findByID(criteria.ID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			hits = append(hits, *entry)
		}
	} else {
		tiers := Tiers
		if criteria.Tier != "" {
			if !validTier(criteria.Tier) {
				return nil, &InvalidTierError{Tier: criteria.Tier}
			}
			tiers = []string{criteria.Tier}
		}
		for _, tier := range tiers {
			entries, err := s.loadTier(tier)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if matches(e, criteria) {
					hits = append(hits, e)
				}
			}
		}
	}

	now := time.Now().UTC()
	for i := range hits {
		hits[i].Accessed = now
		s.mu.Lock()
		if err := s.writeEntry(&hits[i]); err != nil {
			s.logger.Warn("access bump failed", "id", hits[i].ID, "err", err)
		}
		s.mu.Unlock()
	}

	return hits, nil
}

// Stats scans each tier directory for file counts and byte sizes.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{Tiers: make(map[string]TierStats, len(Tiers))}
	for _, tier := range Tiers {
		entries, err := os.ReadDir(filepath.Join(s.dir, tier))
		if err != nil {
			return Stats{}, fmt.Errorf("scan tier %s: %w", tier, err)
		}
		var ts TierStats
		for _, de := range entries {
			if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			ts.Files++
			ts.Size += info.Size()
		}
		stats.Tiers[tier] = ts
		stats.Total.Files += ts.Files
		stats.Total.Size += ts.Size
	}
	return stats, nil
}

func (s *Store) entryPath(tier, id string) string {
	return filepath.Join(s.dir, tier, id+".json")
}

func (s *Store) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := writeFileAtomic(s.entryPath(entry.Tier, entry.ID), data); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

func (s *Store) findByID(id string) (*Entry, error) {
	for _, tier := range Tiers {
		path := s.entryPath(tier, id)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read entry: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("parse entry %s: %w", id, err)
		}
		return &entry, nil
	}
	return nil, nil
}

func (s *Store) loadTier(tier string) ([]Entry, error) {
	dir := filepath.Join(s.dir, tier)
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan tier %s: %w", tier, err)
	}

	entries := make([]Entry, 0, len(files))
	for _, de := range files {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			s.logger.Warn("unreadable entry skipped", "file", de.Name(), "err", err)
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			s.logger.Warn("corrupt entry skipped", "file", de.Name(), "err", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func matches(e Entry, c Criteria) bool {
	if c.Project != "" && e.Metadata.Project != c.Project {
		return false
	}
	if c.User != "" && e.Metadata.User != c.User {
		return false
	}
	if c.Title != "" && !strings.Contains(strings.ToLower(e.Metadata.Title), strings.ToLower(c.Title)) {
		return false
	}
	for _, want := range c.Tags {
		found := false
		for _, tag := range e.Metadata.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func validTier(tier string) bool {
	for _, t := range Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place, so readers never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
