package chunker_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodeai/knowledge-core/internal/chunker"
)

func TestChunk_HappyPath(t *testing.T) {
	words := make([]string, 70)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	text := strings.Join(words, " ")

	// size 10 is raised to the 64-word floor; overlap 2 is kept as given.
	chunks := chunker.Chunk(text, 10, 2)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Join(words[:64], " "), chunks[0])
	assert.Equal(t, strings.Join(words[62:], " "), chunks[1])
}

func TestChunk_EmptyInput(t *testing.T) {
	assert.Nil(t, chunker.Chunk("   \n\t  ", 10, 2))
	assert.Nil(t, chunker.Chunk("", 10, 2))
}

func TestChunk_SingleWord(t *testing.T) {
	chunks := chunker.Chunk("hello", 10, 2)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello", chunks[0])
}

func TestChunk_OverlapGreaterThanSizeIsNormalized(t *testing.T) {
	text := strings.Repeat("word ", 40)
	// size (10) is raised to 64 and overlap (100) normalized to 64/2 = 32; must still terminate.
	chunks := chunker.Chunk(text, 10, 100)
	assert.NotEmpty(t, chunks)
	assert.Less(t, len(chunks), 40)
}

func TestChunk_Deterministic(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron pi"
	first := chunker.Chunk(text, 6, 2)
	second := chunker.Chunk(text, 6, 2)
	assert.Equal(t, first, second)
}

func TestChunk_CoversEveryWord(t *testing.T) {
	text := "one two three four five six seven eight nine ten eleven twelve thirteen"
	chunks := chunker.Chunk(text, 5, 1)

	seen := map[string]bool{}
	for _, c := range chunks {
		for _, w := range strings.Fields(c) {
			seen[w] = true
		}
	}
	for _, w := range strings.Fields(text) {
		assert.True(t, seen[w], "word %q should appear in at least one chunk", w)
	}
}

func TestChunk_EffectiveSizeFloorIs64(t *testing.T) {
	text := strings.Repeat("word ", 200)
	chunks := chunker.Chunk(text, 1, 0)
	// size clamps to 64 words/window regardless of the tiny requested size.
	require.NotEmpty(t, chunks)
	assert.LessOrEqual(t, len(strings.Fields(chunks[0])), 64)
}
