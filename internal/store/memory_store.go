// Package store keeps document chunks in memory and ranks them by lexical
// overlap with a question.
package store

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"deckqa/internal/model"
)

const DefaultTopK = 5

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// MemoryStore maps document ids to their ordered chunks. One lock guards the
// whole map, so a search never sees a half-replaced document.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]model.Chunk
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]model.Chunk)}
}

// Put replaces every chunk of documentID. An empty slice leaves the document
// without chunks.
func (s *MemoryStore) Put(documentID string, chunks []model.Chunk) {
	cp := make([]model.Chunk, len(chunks))
	copy(cp, chunks)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[documentID] = cp
}

// Get returns a copy of the chunks of documentID, or nil when unknown.
func (s *MemoryStore) Get(documentID string) []model.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := s.docs[documentID]
	if len(chunks) == 0 {
		return nil
	}
	cp := make([]model.Chunk, len(chunks))
	copy(cp, chunks)
	return cp
}

// Remove drops every chunk of documentID.
func (s *MemoryStore) Remove(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, documentID)
}

// Clear drops every document.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string][]model.Chunk)
}

// DocumentIDs lists the ids that currently have at least one chunk, sorted.
func (s *MemoryStore) DocumentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id, chunks := range s.docs {
		if len(chunks) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Search returns at most topK chunks of documentID that share at least one
// token with question, best first.
func (s *MemoryStore) Search(documentID, question string, topK int) []model.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := Rank(s.docs[documentID], question, topK)
	out := make([]model.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk
	}
	return out
}

// ScoredChunk is a chunk paired with its lexical overlap score.
type ScoredChunk struct {
	Score int
	Chunk model.Chunk
}

// Rank scores chunks against question, drops zero scores and sorts by score
// descending. Ties keep input order. A topK <= 0 means DefaultTopK.
func Rank(chunks []model.Chunk, question string, topK int) []ScoredChunk {
	if topK <= 0 {
		topK = DefaultTopK
	}
	q := TokenSet(question)
	if len(q) == 0 {
		return nil
	}

	var scored []ScoredChunk
	for _, c := range chunks {
		if score := overlap(q, TokenSet(c.Title+" "+c.Text)); score > 0 {
			scored = append(scored, ScoredChunk{Score: score, Chunk: c})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Score is the number of distinct question tokens present in the chunk.
func Score(question string, c model.Chunk) int {
	return overlap(TokenSet(question), TokenSet(c.Title+" "+c.Text))
}

// Tokenize lowercases text and returns its alphanumeric runs.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func overlap(question, chunk map[string]struct{}) int {
	n := 0
	for t := range question {
		if _, ok := chunk[t]; ok {
			n++
		}
	}
	return n
}
