// Package observability — operation journal.
//
// The journal is a local, queryable record of SDK operations: every publish,
// delivery, redemption, consumption, and timeline walk can be appended here
// and later queried by checkpoint, collection, type, or time range. It is a
// diagnostic aid, not a trust anchor; the ledger remains authoritative.
package observability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Mindstate-AI/sdk/pkg/commitment"
)

// JournalEntryType categorizes journal entries.
type JournalEntryType string

const (
	EntryTypePublish  JournalEntryType = "PUBLISH"
	EntryTypeDeliver  JournalEntryType = "DELIVER"
	EntryTypeRedeem   JournalEntryType = "REDEEM"
	EntryTypeConsume  JournalEntryType = "CONSUME"
	EntryTypeTimeline JournalEntryType = "TIMELINE"
	EntryTypeVerify   JournalEntryType = "VERIFY"
)

// JournalEntry is a single recorded operation.
type JournalEntry struct {
	EntryID      string           `json:"entry_id"`
	EntryType    JournalEntryType `json:"entry_type"`
	CheckpointID string           `json:"checkpoint_id"`
	Collection   string           `json:"collection"`
	Timestamp    time.Time        `json:"timestamp"`
	Actor        string           `json:"actor,omitempty"`
	Summary      string           `json:"summary"`
	ContentHash  string           `json:"content_hash"`
	Details      map[string]any   `json:"details,omitempty"`
}

// JournalQuery filters journal entries.
type JournalQuery struct {
	CheckpointID string            `json:"checkpoint_id,omitempty"`
	Collection   string            `json:"collection,omitempty"`
	EntryType    *JournalEntryType `json:"entry_type,omitempty"`
	After        *time.Time        `json:"after,omitempty"`
	Before       *time.Time        `json:"before,omitempty"`
	Limit        int               `json:"limit,omitempty"`
}

// Journal collects and queries operation records.
type Journal struct {
	mu      sync.RWMutex
	entries []JournalEntry
	index   map[string][]int // checkpoint ID → entry indices
	seq     int64
	clock   func() time.Time
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{
		entries: make([]JournalEntry, 0),
		index:   make(map[string][]int),
		clock:   time.Now,
	}
}

// WithClock overrides clock for testing.
func (j *Journal) WithClock(clock func() time.Time) *Journal {
	j.clock = clock
	return j
}

// journalKey normalizes checkpoint IDs for indexing. IDs compare
// case-insensitively throughout the SDK.
func journalKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Record adds an entry to the journal. A nil *Journal drops the entry, so
// callers can hold an optional journal without guarding each call.
func (j *Journal) Record(entry JournalEntry) error {
	if j == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	if entry.EntryID == "" {
		entry.EntryID = fmt.Sprintf("jnl-%d", j.seq)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = j.clock()
	}

	// Pin the details under a content hash so tampering is detectable.
	data, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	entry.ContentHash = commitment.Hash(data).Hex()

	idx := len(j.entries)
	j.entries = append(j.entries, entry)

	if entry.CheckpointID != "" {
		key := journalKey(entry.CheckpointID)
		j.index[key] = append(j.index[key], idx)
	}

	return nil
}

// Query retrieves entries matching the query, oldest first.
func (j *Journal) Query(q JournalQuery) []JournalEntry {
	if j == nil {
		return nil
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	var candidates []JournalEntry

	if q.CheckpointID != "" {
		indices, ok := j.index[journalKey(q.CheckpointID)]
		if !ok {
			return nil
		}
		for _, i := range indices {
			candidates = append(candidates, j.entries[i])
		}
	} else {
		candidates = make([]JournalEntry, len(j.entries))
		copy(candidates, j.entries)
	}

	// Apply filters
	var results []JournalEntry
	for _, e := range candidates {
		if q.Collection != "" && !strings.EqualFold(e.Collection, q.Collection) {
			continue
		}
		if q.EntryType != nil && e.EntryType != *q.EntryType {
			continue
		}
		if q.After != nil && e.Timestamp.Before(*q.After) {
			continue
		}
		if q.Before != nil && e.Timestamp.After(*q.Before) {
			continue
		}
		results = append(results, e)
	}

	// Sort by timestamp
	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	return results
}

// Count returns total entries.
func (j *Journal) Count() int {
	if j == nil {
		return 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
