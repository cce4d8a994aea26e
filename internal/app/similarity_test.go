package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deckqa/internal/model"
)

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "revenue grew fast", "Revenue  grew FAST", 1},
		{"disjoint", "revenue grew", "team hired", 0},
		{"half", "a b c", "b c d", 0.5},
		{"both empty", "", "  ", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9)
		})
	}
}

func TestIsNearDuplicate(t *testing.T) {
	recent := []model.RecentAnswer{{Hash: "h1", Answer: "one two three four five six seven eight nine ten"}}

	// 9 of 10 words shared: 9/11 > 0.8
	nearly := "one two three four five six seven eight nine eleven"
	assert.True(t, IsNearDuplicate(nearly, "h2", recent, 0.8))
	assert.False(t, IsNearDuplicate(nearly, "h1", recent, 0.8), "same hash is skipped")
	assert.False(t, IsNearDuplicate("one two three", "h2", recent, 0.8))
	assert.False(t, IsNearDuplicate(nearly, "h2", nil, 0.8))
}

func TestResponseHash(t *testing.T) {
	assert.Equal(t, responseHash("  What?  ", "ctx"), responseHash("what?", "ctx"))
	assert.NotEqual(t, responseHash("what?", "ctx a"), responseHash("what?", "ctx b"))

	long := make([]rune, 600)
	for i := range long {
		long[i] = 'x'
	}
	assert.Equal(t, responseHash("q", string(long)), responseHash("q", string(long[:500])+"tail differs"),
		"only the first 500 runes of context count")
}

func TestMemoryAnswerHistory(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryAnswerHistory(300 * time.Second)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, h.Remember(ctx, model.RecentAnswer{Hash: "old", Answer: "a", At: base}))
	require.NoError(t, h.Remember(ctx, model.RecentAnswer{Hash: "new", Answer: "b", At: base.Add(200 * time.Second)}))

	got, err := h.Recent(ctx, base.Add(300*time.Second))
	require.NoError(t, err)
	assert.Len(t, got, 2, "an entry exactly at the window edge is kept")

	got, err = h.Recent(ctx, base.Add(301*time.Second))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Hash)
}

func TestNormalizePersona(t *testing.T) {
	assert.Equal(t, "esg", NormalizePersona(" ESG "))
	assert.Equal(t, DefaultPersona, NormalizePersona("pirate"))
	assert.Equal(t, DefaultPersona, NormalizePersona(""))
	assert.Len(t, personaDirectives, 8)
}
