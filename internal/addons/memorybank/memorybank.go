// Package memorybank implements the cloud memory-store add-on: a
// per-user bank of free-text notes searched by naive keyword overlap
// rather than an ANN index (spec Non-goals explicitly rule out
// vector search at scale). Matching is done with a multi-pattern
// Aho-Corasick scan of each entry's text against the query's
// stopword-filtered terms, so relevance is literally "how many query
// keywords appear in this entry", not a learned embedding distance.
package memorybank

import (
	"context"
	"strings"
	"sync"

	"github.com/coregx/ahocorasick"
	"github.com/oklog/ulid/v2"
	"github.com/orsinium-labs/stopwords"
)

// Entry is one stored memory-bank note.
type Entry struct {
	ID        string `json:"id"`
	UserID    int64  `json:"-"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

// Result pairs an entry with how many distinct query keywords matched it.
type Result struct {
	Entry
	Score int `json:"score"`
}

// Bank holds every user's entries in memory, guarded by one mutex. It is
// sized for the per-user note volumes a chat client accumulates, not a
// corpus-scale document store.
type Bank struct {
	mu      sync.RWMutex
	lang    *stopwords.Stopwords
	entries map[int64][]Entry
}

func New(stopwordsLang string) *Bank {
	lang, err := stopwords.Get(stopwordsLang)
	if err != nil {
		lang = stopwords.MustGet("en")
	}

	return &Bank{
		lang:    lang,
		entries: make(map[int64][]Entry),
	}
}

// Put stores a new entry and returns its generated id.
func (b *Bank) Put(_ context.Context, userID int64, text string, ts int64) Entry {
	e := Entry{ID: ulid.Make().String(), UserID: userID, Text: text, CreatedAt: ts}

	b.mu.Lock()
	b.entries[userID] = append(b.entries[userID], e)
	b.mu.Unlock()

	return e
}

// Search ranks a user's entries by how many distinct keywords of query they
// contain, dropping entries with zero matches. limit caps the result count;
// a limit <= 0 means unlimited.
func (b *Bank) Search(_ context.Context, userID int64, query string, limit int) ([]Result, error) {
	keywords := b.keywordsOf(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	builder := ahocorasick.NewBuilder().AddStrings(keywords).SetMatchKind(ahocorasick.LeftmostLongest)
	automaton, err := builder.Build()
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	entries := append([]Entry(nil), b.entries[userID]...)
	b.mu.RUnlock()

	results := make([]Result, 0, len(entries))
	for _, e := range entries {
		matches := automaton.FindAllOverlapping([]byte(strings.ToLower(e.Text)))
		if len(matches) == 0 {
			continue
		}

		results = append(results, Result{Entry: e, Score: distinctPatterns(matches)})
	}

	sortByScoreDesc(results)

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// keywordsOf tokenizes query and drops stopwords, leaving the terms worth
// matching against stored entries.
func (b *Bank) keywordsOf(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))

	for _, f := range fields {
		if b.lang.Contains(f) {
			continue
		}
		out = append(out, f)
	}

	return out
}

func distinctPatterns(matches []ahocorasick.Match) int {
	seen := make(map[int]struct{}, len(matches))
	for _, m := range matches {
		seen[m.PatternID] = struct{}{}
	}
	return len(seen)
}

func sortByScoreDesc(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
