package memory

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// index holds the derived, rebuildable views over the conversation log:
// topic, artifact (content type), time, and session maps, plus the record
// cache they point into. It is a cache over the persisted log, never a
// source of truth. Mutation is serialized by the RWMutex so concurrent
// readers always observe a consistent index.
type index struct {
	mu        sync.RWMutex
	records   map[int64]ConversationRecord
	topics    map[string]map[int64]struct{}
	artifacts map[string]map[int64]struct{}
	days      map[string]map[int64]struct{}
	sessions  map[string]*SessionInfo
	updatedAt time.Time
}

// snapshotFile is the persisted shape of the four index maps.
type snapshotFile struct {
	Topics    map[string][]int64     `json:"topicIndex"`
	Artifacts map[string][]int64     `json:"artifactIndex"`
	Days      map[string][]int64     `json:"timeIndex"`
	Sessions  map[string]SessionInfo `json:"sessionIndex"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

func newIndex() *index {
	return &index{
		records:   make(map[int64]ConversationRecord),
		topics:    make(map[string]map[int64]struct{}),
		artifacts: make(map[string]map[int64]struct{}),
		days:      make(map[string]map[int64]struct{}),
		sessions:  make(map[string]*SessionInfo),
	}
}

func (ix *index) add(rec ConversationRecord) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.addLocked(rec)
	ix.updatedAt = time.Now().UTC()
}

func (ix *index) addLocked(rec ConversationRecord) {
	ix.records[rec.ID] = rec
	for _, topic := range rec.Topics {
		addToSet(ix.topics, topic, rec.ID)
	}
	addToSet(ix.artifacts, rec.ContentType, rec.ID)
	addToSet(ix.days, rec.Timestamp.UTC().Format(dayLayout), rec.ID)

	info := ix.sessions[rec.SessionID]
	if info == nil {
		info = &SessionInfo{}
		ix.sessions[rec.SessionID] = info
	}
	info.ConversationCount++
	if rec.Timestamp.After(info.LastActivity) {
		info.LastActivity = rec.Timestamp
	}
}

// remove drops the given ids from every map. Session counters are
// decremented but LastActivity is left as-is; it records history, not
// membership.
func (ix *index) remove(ids []int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ids {
		rec, ok := ix.records[id]
		if !ok {
			continue
		}
		delete(ix.records, id)
		for _, topic := range rec.Topics {
			dropFromSet(ix.topics, topic, id)
		}
		dropFromSet(ix.artifacts, rec.ContentType, id)
		dropFromSet(ix.days, rec.Timestamp.UTC().Format(dayLayout), id)
		if info := ix.sessions[rec.SessionID]; info != nil {
			info.ConversationCount--
			if info.ConversationCount <= 0 {
				delete(ix.sessions, rec.SessionID)
			}
		}
	}
	ix.updatedAt = time.Now().UTC()
}

// rebuild replays the full record set into fresh maps.
func (ix *index) rebuild(records []ConversationRecord) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.records = make(map[int64]ConversationRecord, len(records))
	ix.topics = make(map[string]map[int64]struct{})
	ix.artifacts = make(map[string]map[int64]struct{})
	ix.days = make(map[string]map[int64]struct{})
	ix.sessions = make(map[string]*SessionInfo)
	for _, rec := range records {
		ix.addLocked(rec)
	}
	ix.updatedAt = time.Now().UTC()
}

func (ix *index) record(id int64) (ConversationRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rec, ok := ix.records[id]
	return rec, ok
}

func (ix *index) byTopic(token string) []int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return setToSlice(ix.topics[token])
}

func (ix *index) byArtifact(contentType string) []int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return setToSlice(ix.artifacts[contentType])
}

// all returns every live record, ordered by id ascending.
func (ix *index) all() []ConversationRecord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]ConversationRecord, 0, len(ix.records))
	for _, rec := range ix.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (ix *index) size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

func (ix *index) sessionInfo(sessionID string) (SessionInfo, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	info := ix.sessions[sessionID]
	if info == nil {
		return SessionInfo{}, false
	}
	return *info, true
}

func (ix *index) sessionCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.sessions)
}

// marshalSnapshot serializes the four maps with sorted id slices so the
// snapshot file is byte-stable for identical index states.
func (ix *index) marshalSnapshot() ([]byte, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	sf := snapshotFile{
		Topics:    setsToSorted(ix.topics),
		Artifacts: setsToSorted(ix.artifacts),
		Days:      setsToSorted(ix.days),
		Sessions:  make(map[string]SessionInfo, len(ix.sessions)),
		UpdatedAt: ix.updatedAt,
	}
	for id, info := range ix.sessions {
		sf.Sessions[id] = *info
	}
	return json.MarshalIndent(sf, "", "  ")
}

// restoreFromSnapshot installs a parsed snapshot, keeping only ids that
// resolve to a record in records. It returns the ids that did not resolve so
// the caller can log the drift.
func (ix *index) restoreFromSnapshot(sf snapshotFile, records map[int64]ConversationRecord) []int64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var drift []int64
	driftSeen := make(map[int64]struct{})
	note := func(id int64) {
		if _, ok := driftSeen[id]; ok {
			return
		}
		driftSeen[id] = struct{}{}
		drift = append(drift, id)
	}

	keep := func(ids []int64) map[int64]struct{} {
		set := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			if _, ok := records[id]; ok {
				set[id] = struct{}{}
			} else {
				note(id)
			}
		}
		return set
	}

	ix.records = records
	ix.topics = make(map[string]map[int64]struct{}, len(sf.Topics))
	for token, ids := range sf.Topics {
		if set := keep(ids); len(set) > 0 {
			ix.topics[token] = set
		}
	}
	ix.artifacts = make(map[string]map[int64]struct{}, len(sf.Artifacts))
	for typ, ids := range sf.Artifacts {
		if set := keep(ids); len(set) > 0 {
			ix.artifacts[typ] = set
		}
	}
	ix.days = make(map[string]map[int64]struct{}, len(sf.Days))
	for day, ids := range sf.Days {
		if set := keep(ids); len(set) > 0 {
			ix.days[day] = set
		}
	}
	ix.sessions = make(map[string]*SessionInfo, len(sf.Sessions))
	for id, info := range sf.Sessions {
		copied := info
		ix.sessions[id] = &copied
	}
	ix.updatedAt = sf.UpdatedAt

	sort.Slice(drift, func(i, j int) bool { return drift[i] < drift[j] })
	return drift
}

func addToSet(m map[string]map[int64]struct{}, key string, id int64) {
	set := m[key]
	if set == nil {
		set = make(map[int64]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func dropFromSet(m map[string]map[int64]struct{}, key string, id int64) {
	if set := m[key]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

func setToSlice(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func setsToSorted(m map[string]map[int64]struct{}) map[string][]int64 {
	out := make(map[string][]int64, len(m))
	for key, set := range m {
		out[key] = setToSlice(set)
	}
	return out
}
