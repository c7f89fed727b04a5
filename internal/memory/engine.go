// Package memory is the conversation memory engine: an append-only
// conversation log in SQLite, derived in-memory indexes with a reloadable
// snapshot file, lexical relevance retrieval, and bounded context assembly.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/recall/internal/bus"
	"github.com/stellarlinkco/recall/internal/classify"
	"github.com/stellarlinkco/recall/internal/config"
)

// Options carries everything the engine needs at construction. All paths and
// tuning knobs are injected; the engine holds no ambient state.
type Options struct {
	DBPath       string
	SnapshotPath string
	Classifier   *classify.Classifier
	Retrieval    config.RetrievalConfig
	Retention    time.Duration
	Logger       *slog.Logger
}

type Engine struct {
	db           *sql.DB
	idx          *index
	classifier   *classify.Classifier
	logger       *slog.Logger
	snapshotPath string
	retention    time.Duration

	maxResults      int
	artifactResults int
	recencyWindow   time.Duration
	freshWindow     time.Duration

	mu  sync.Mutex // single logical writer: serializes log appends and archival
	now func() time.Time
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Classifier == nil {
		opts.Classifier = classify.MustDefault()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Duration(config.DefaultRetentionDays) * 24 * time.Hour
	}
	if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{
		db:              db,
		idx:             newIndex(),
		classifier:      opts.Classifier,
		logger:          opts.Logger.With("component", "memory"),
		snapshotPath:    opts.SnapshotPath,
		retention:       opts.Retention,
		maxResults:      opts.Retrieval.MaxResults,
		artifactResults: opts.Retrieval.ArtifactResults,
		recencyWindow:   config.Duration(opts.Retrieval.RecencyWindow, time.Hour),
		freshWindow:     config.Duration(opts.Retrieval.FreshWindow, 24*time.Hour),
		now:             time.Now,
	}
	if e.maxResults <= 0 {
		e.maxResults = config.DefaultMaxResults
	}
	if e.artifactResults <= 0 {
		e.artifactResults = config.DefaultArtifactResults
	}

	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			user_message TEXT NOT NULL,
			assistant_response TEXT NOT NULL,
			content_type TEXT NOT NULL,
			topics TEXT NOT NULL,
			is_archived INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at, is_archived)`,
	}
	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// loadIndex restores the index snapshot when one is readable, falling back
// to a full rebuild from the conversation log. The snapshot is a cache: any
// id it references without a backing row is dropped with a warning.
func (e *Engine) loadIndex() error {
	records, err := e.loadLiveRecords()
	if err != nil {
		return err
	}
	byID := make(map[int64]ConversationRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	data, err := os.ReadFile(e.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.Warn("index snapshot unreadable, rebuilding", "err", err)
		}
		e.idx.rebuild(records)
		return nil
	}

	var sf snapshotFile
	if err := json.Unmarshal(data, &sf); err != nil {
		e.logger.Warn("index snapshot corrupt, rebuilding", "err", err)
		e.idx.rebuild(records)
		return nil
	}

	if drift := e.idx.restoreFromSnapshot(sf, byID); len(drift) > 0 {
		e.logger.Warn("index references missing conversations, skipped",
			"count", len(drift), "ids", drift)
	}

	// Rows appended after the snapshot was taken are replayed on top.
	for _, rec := range records {
		if rec.Timestamp.After(sf.UpdatedAt) {
			e.idx.add(rec)
		}
	}
	return nil
}

// StoreResponse persists one completed assistant turn and updates the
// indexes. Called exactly once per turn.
func (e *Engine) StoreResponse(userMessage, assistantResponse, sessionID string) (int64, error) {
	return e.storeAt(userMessage, assistantResponse, sessionID, e.now().UTC())
}

func (e *Engine) storeAt(userMessage, assistantResponse, sessionID string, ts time.Time) (int64, error) {
	if sessionID == "" {
		sessionID = "default"
	}

	result := e.classifier.Classify(assistantResponse)
	topics := extractTopics(userMessage, assistantResponse)

	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return 0, fmt.Errorf("marshal topics: %w", err)
	}

	e.mu.Lock()
	res, err := e.db.Exec(`
		INSERT INTO conversations (session_id, created_at, user_message, assistant_response, content_type, topics)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, ts.Format(time.RFC3339Nano), userMessage, assistantResponse, result.Type, string(topicsJSON))
	e.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("conversation id: %w", err)
	}

	rec := ConversationRecord{
		ID:                id,
		SessionID:         sessionID,
		Timestamp:         ts,
		UserMessage:       userMessage,
		AssistantResponse: assistantResponse,
		ContentType:       result.Type,
		Topics:            topics,
	}
	e.idx.add(rec)

	// Snapshot persistence is best-effort: a full disk degrades durability
	// of the cache, not correctness of the log.
	if err := e.SaveSnapshot(); err != nil {
		e.logger.Warn("index snapshot write failed", "err", err)
	}
	return id, nil
}

// SearchMemory returns records whose topics overlap the query tokens,
// best-overlap first, newest first among equals.
func (e *Engine) SearchMemory(query string, limit int) []ConversationRecord {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = e.maxResults
	}

	seen := make(map[int64]struct{})
	scored := make([]ScoredRecord, 0)
	for _, token := range tokens {
		for _, id := range e.idx.byTopic(token) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			rec, ok := e.idx.record(id)
			if !ok {
				continue
			}
			scored = append(scored, ScoredRecord{Record: rec, Score: overlapRatio(tokens, rec.Topics)})
		}
	}

	sortByScoreThenTime(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]ConversationRecord, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.Record)
	}
	return out
}

// SaveSnapshot writes the index maps to the snapshot file atomically, so an
// external reader never observes a partially written snapshot.
func (e *Engine) SaveSnapshot() error {
	data, err := e.idx.marshalSnapshot()
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := writeFileAtomic(e.snapshotPath, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Optimize archives conversation records past the retention horizon out of
// the live index and reports before/after estimated token footprints. It is
// the compaction pass scheduled by the budget monitor and the janitor.
func (e *Engine) Optimize(trigger string) (bus.OptimizationReport, error) {
	started := e.now()
	cutoff := started.UTC().Add(-e.retention)

	live := e.idx.all()
	report := bus.OptimizationReport{Trigger: trigger, StartedAt: started}
	var stale []int64
	for _, rec := range live {
		report.TokensBefore += estimateTokens(rec.UserMessage) + estimateTokens(rec.AssistantResponse)
		if rec.Timestamp.Before(cutoff) {
			stale = append(stale, rec.ID)
		} else {
			report.TokensAfter += estimateTokens(rec.UserMessage) + estimateTokens(rec.AssistantResponse)
		}
	}

	if len(stale) > 0 {
		e.mu.Lock()
		for _, id := range stale {
			if _, err := e.db.Exec(`UPDATE conversations SET is_archived = 1 WHERE id = ?`, id); err != nil {
				e.mu.Unlock()
				return report, fmt.Errorf("archive conversation %d: %w", id, err)
			}
		}
		e.mu.Unlock()
		e.idx.remove(stale)
		if err := e.SaveSnapshot(); err != nil {
			e.logger.Warn("snapshot after optimize failed", "err", err)
		}
	}

	report.ArchivedRecords = len(stale)
	report.Duration = e.now().Sub(started)
	e.logger.Info("optimization pass",
		"trigger", trigger,
		"archived", report.ArchivedRecords,
		"tokens_before", report.TokensBefore,
		"tokens_after", report.TokensAfter)
	return report, nil
}

// Record fetches a live record by id.
func (e *Engine) Record(id int64) (ConversationRecord, bool) {
	return e.idx.record(id)
}

// SessionInfo returns the session index entry for sessionID.
func (e *Engine) SessionInfo(sessionID string) (SessionInfo, bool) {
	return e.idx.sessionInfo(sessionID)
}

// EngineStats is a compact snapshot used by status reporting.
type EngineStats struct {
	Conversations int
	Sessions      int
}

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Conversations: e.idx.size(),
		Sessions:      e.idx.sessionCount(),
	}
}

func (e *Engine) loadLiveRecords() ([]ConversationRecord, error) {
	rows, err := e.db.Query(`
		SELECT id, session_id, created_at, user_message, assistant_response, content_type, topics
		FROM conversations
		WHERE is_archived = 0
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	defer rows.Close()

	records := make([]ConversationRecord, 0)
	for rows.Next() {
		var rec ConversationRecord
		var createdAt, topicsJSON string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &createdAt, &rec.UserMessage,
			&rec.AssistantResponse, &rec.ContentType, &topicsJSON); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			e.logger.Warn("bad timestamp on conversation, skipped", "id", rec.ID, "err", err)
			continue
		}
		rec.Timestamp = ts
		if err := json.Unmarshal([]byte(topicsJSON), &rec.Topics); err != nil {
			e.logger.Warn("bad topics on conversation, skipped", "id", rec.ID, "err", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return records, nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
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
