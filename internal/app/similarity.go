package app

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"deckqa/internal/model"
	"deckqa/internal/pkg/textutil"
)

// AnswerHistory is the shared window of recent generated answers. Recent
// prunes expired entries before returning the rest.
type AnswerHistory interface {
	Recent(ctx context.Context, now time.Time) ([]model.RecentAnswer, error)
	Remember(ctx context.Context, entry model.RecentAnswer) error
}

// WordSet returns the distinct lowercased whitespace-separated words of s.
func WordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard is the word-set similarity of a and b, in [0,1].
func Jaccard(a, b string) float64 {
	sa, sb := WordSet(a), WordSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// IsNearDuplicate reports whether answer is more similar than threshold to
// a recent answer produced for a different question/context hash.
func IsNearDuplicate(answer, hash string, recent []model.RecentAnswer, threshold float64) bool {
	for _, r := range recent {
		if r.Hash == hash {
			continue
		}
		if Jaccard(answer, r.Answer) > threshold {
			return true
		}
	}
	return false
}

// responseHash identifies a question asked against a given context.
func responseHash(question, contextText string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(question)) + textutil.Prefix(contextText, 500)))
	return hex.EncodeToString(sum[:])
}

// MemoryAnswerHistory keeps the dedup window in process.
type MemoryAnswerHistory struct {
	mu      sync.Mutex
	window  time.Duration
	entries []model.RecentAnswer
}

func NewMemoryAnswerHistory(window time.Duration) *MemoryAnswerHistory {
	if window <= 0 {
		window = 300 * time.Second
	}
	return &MemoryAnswerHistory{window: window}
}

func (h *MemoryAnswerHistory) Recent(_ context.Context, now time.Time) ([]model.RecentAnswer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.entries[:0]
	for _, e := range h.entries {
		if now.Sub(e.At) <= h.window {
			kept = append(kept, e)
		}
	}
	h.entries = kept

	out := make([]model.RecentAnswer, len(kept))
	copy(out, kept)
	return out, nil
}

func (h *MemoryAnswerHistory) Remember(_ context.Context, entry model.RecentAnswer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return nil
}
