// Package history keeps the most recent published translations. The
// pipeline feeds recent source lines back into prompts as context and the
// HTTP surface lists them.
package history

import (
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// DefaultSize is the number of entries kept when NewStore gets a
// non-positive size.
const DefaultSize = 50

// Entry is one published translation.
type Entry struct {
	Timestamp   time.Time    `json:"timestamp"`
	Source      string       `json:"source"`
	Text        string       `json:"text"`
	Speaker     string       `json:"speaker,omitempty"`
	Kind        types.Kind   `json:"kind"`
	Cached      bool         `json:"cached"`
	CandidateOf types.Source `json:"origin"`
}

// Store is a bounded in-memory log of translations.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
	now     func() time.Time
}

// NewStore creates a store keeping at most maxEntries.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultSize
	}
	return &Store{
		entries: make([]Entry, 0, maxEntries),
		maxSize: maxEntries,
		now:     time.Now,
	}
}

// Add records a published translation.
func (s *Store) Add(t types.Translation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{
		Timestamp:   s.now(),
		Source:      t.Source,
		Text:        t.Text,
		Speaker:     t.Speaker,
		Kind:        t.Kind,
		Cached:      t.Cached,
		CandidateOf: t.CandidateOf,
	})
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
}

// Recent returns up to n newest entries, oldest first. n <= 0 returns all.
func (s *Store) Recent(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n > 0 && n < len(s.entries) {
		start = len(s.entries) - n
	}
	out := make([]Entry, len(s.entries)-start)
	copy(out, s.entries[start:])
	return out
}

// Last returns the newest entry.
func (s *Store) Last() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Context returns the source lines of the last n entries within window,
// formatted as "Speaker: line" for use as prompt context.
func (s *Store) Context(n int, window time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-window)
	var lines []string
	for i := len(s.entries) - 1; i >= 0 && len(lines) < n; i-- {
		e := s.entries[i]
		if window > 0 && e.Timestamp.Before(cutoff) {
			break
		}
		if e.Kind == types.KindChoice {
			continue
		}
		line := strings.TrimSpace(e.Source)
		if e.Speaker != "" {
			line = e.Speaker + ": " + line
		}
		lines = append(lines, line)
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = s.entries[:0]
	s.mu.Unlock()
}
