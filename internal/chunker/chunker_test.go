package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deckqa/internal/model"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("c%d", n)
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	c := New()
	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("   \n\t  "))
}

func TestSplit_ShortInputIsLossless(t *testing.T) {
	c := New()
	input := "Revenue grew 20% YoY.\n\n  Margins   expanded to 3.5 points!  Was that expected? Yes"

	pieces := c.Split(input)

	require.Len(t, pieces, 1)
	assert.Equal(t, strings.Join(strings.Fields(input), " "), pieces[0].Text)
	assert.Equal(t, len([]rune(pieces[0].Text)), pieces[0].Size)
	assert.NotEmpty(t, pieces[0].ID)
}

func TestSplit_LongSentenceIsNeverCut(t *testing.T) {
	c := New(WithChunkSize(20), WithOverlap(5))
	sentence := "This single sentence is much longer than twenty characters."

	pieces := c.Split(sentence)

	require.Len(t, pieces, 1)
	assert.Equal(t, sentence, pieces[0].Text)
}

func TestSplit_OverlapSeedsNextPiece(t *testing.T) {
	c := New(WithChunkSize(30), WithOverlap(12), WithIDFunc(sequentialIDs()))
	// Each sentence is 10 characters.
	input := "Aaaaaaaaa. Bbbbbbbbb. Ccccccccc. Ddddddddd. Eeeeeeeee."

	pieces := c.Split(input)

	require.Len(t, pieces, 2)
	assert.Equal(t, "Aaaaaaaaa. Bbbbbbbbb. Ccccccccc.", pieces[0].Text)
	// Only the last sentence fits in the 12 character overlap.
	assert.Equal(t, "Ccccccccc. Ddddddddd. Eeeeeeeee.", pieces[1].Text)
	assert.Equal(t, []string{"c1", "c2"}, []string{pieces[0].ID, pieces[1].ID})
}

func TestSplit_PiecesCoverEverySentence(t *testing.T) {
	c := New(WithChunkSize(60), WithOverlap(20))
	var sentences []string
	for i := 0; i < 25; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence number %d talks about topic %d.", i, i%4))
	}
	input := strings.Join(sentences, " ")

	pieces := c.Split(input)

	require.NotEmpty(t, pieces)
	joined := ""
	for _, p := range pieces {
		joined += " " + p.Text
	}
	for _, s := range sentences {
		assert.Contains(t, joined, s)
	}
}

func TestNew_OverlapClampedBelowSize(t *testing.T) {
	c := New(WithChunkSize(100), WithOverlap(100))
	assert.Equal(t, 25, c.overlap)
}

func TestChunks_AssignsOrdinalsAndTags(t *testing.T) {
	c := New(WithChunkSize(15), WithOverlap(0), WithIDFunc(sequentialIDs()))

	chunks := c.Chunks("First one. Second one. Third one.", "Notes")

	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i+1, ch.Ordinal)
		assert.Equal(t, "Notes", ch.Title)
		assert.True(t, ch.HasTag(model.TagDocument))
	}
}
