// Package memory retains a bounded, importance-weighted log of story facts
// and periodically compacts it through a cheap model call. Compaction is
// best effort: any failure leaves the existing memories untouched.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/indraastra/iffy-sub000/pkg/llm"
	"github.com/indraastra/iffy-sub000/pkg/metrics"
)

const (
	// DefaultCompactionInterval triggers compaction every N additions.
	DefaultCompactionInterval = 5
	// CompactionThreshold triggers compaction regardless of interval.
	CompactionThreshold = 50
	// CompactionMinimum is the floor on the compaction target count.
	CompactionMinimum = 10
	// CompactionRatio is the target fraction of memories kept.
	CompactionRatio = 0.7

	compactionTimeout = 60 * time.Second
)

// Ranking weights. Importance dominates; recency is the secondary signal.
// These are tunable constants, not a guaranteed contract.
const (
	importanceWeight = 2.0
	recencyWeight    = 1.0
)

// Entry is one stored memory.
type Entry struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Importance int       `json:"importance"`
}

// Saved is the serializable memory state embedded in save files.
type Saved struct {
	Entries         []Entry `json:"entries"`
	SinceCompaction int     `json:"since_compaction"`
}

// Store holds one session's memories. Add and Memories are safe to call
// while a background compaction is in flight.
type Store struct {
	mu              sync.Mutex
	entries         []Entry
	sinceCompaction int
	compacting      bool

	model    llm.LanguageModel
	logger   *slog.Logger
	recorder metrics.Recorder
	interval int
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCompactionInterval overrides the additions-per-compaction default.
func WithCompactionInterval(n int) Option {
	return func(s *Store) { s.interval = n }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a memory store. A nil model disables compaction but not
// storage or retrieval.
func NewStore(model llm.LanguageModel, logger *slog.Logger, recorder metrics.Recorder, opts ...Option) *Store {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	s := &Store{
		model:    model,
		logger:   logger,
		recorder: recorder,
		interval: DefaultCompactionInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends a memory. Blank content is rejected; importance is clamped
// to [1,10]. Add never blocks on compaction; when the trigger fires, the
// compaction runs detached and its outcome is visible only through the
// store contents and the metrics recorder.
func (s *Store) Add(content string, importance int) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	if importance < 1 {
		importance = 1
	}
	if importance > 10 {
		importance = 10
	}

	s.mu.Lock()
	s.entries = append(s.entries, Entry{
		ID:         uuid.NewString(),
		Content:    content,
		Timestamp:  s.now(),
		Importance: importance,
	})
	s.sinceCompaction++
	trigger := s.shouldCompactLocked()
	if trigger {
		s.compacting = true
	}
	s.mu.Unlock()

	if trigger {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), compactionTimeout)
			defer cancel()
			s.runCompaction(ctx)
		}()
	}
}

// Memories returns up to limit entries: ranked by importance and recency,
// then re-sorted chronologically so the caller reads them oldest first.
// Ranking picks the memories; presentation order is deliberately different.
func (s *Store) Memories(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || len(s.entries) == 0 {
		return nil
	}

	ranked := make([]Entry, len(s.entries))
	copy(ranked, s.entries)
	now := s.now()
	sort.SliceStable(ranked, func(i, j int) bool {
		return s.score(ranked[i], now) > s.score(ranked[j], now)
	})

	if limit < len(ranked) {
		ranked = ranked[:limit]
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Timestamp.Before(ranked[j].Timestamp)
	})
	return ranked
}

// score ranks a memory: importance dominates, recency breaks ties. Older
// memories lose score as their age in days grows.
func (s *Store) score(e Entry, now time.Time) float64 {
	ageDays := now.Sub(e.Timestamp).Hours() / 24
	return importanceWeight*float64(e.Importance) - recencyWeight*ageDays
}

// Len returns the current memory count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reset clears all memories and compaction bookkeeping.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.sinceCompaction = 0
}

// Export snapshots the store for a save file.
func (s *Store) Export() *Saved {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	return &Saved{Entries: entries, SinceCompaction: s.sinceCompaction}
}

// Restore replaces the store contents from a save file.
func (s *Store) Restore(saved *Saved) {
	if saved == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]Entry, len(saved.Entries))
	copy(s.entries, saved.Entries)
	s.sinceCompaction = saved.SinceCompaction
}

func (s *Store) shouldCompactLocked() bool {
	if s.model == nil || s.compacting {
		return false
	}
	return s.sinceCompaction >= s.interval || len(s.entries) >= CompactionThreshold
}
