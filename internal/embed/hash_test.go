package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Embed_ReturnsCorrectDimensions(t *testing.T) {
	embedder := NewHashEmbedder()
	defer func() { _ = embedder.Close() }()

	embedding, err := embedder.Embed(context.Background(), "func main() {}")

	require.NoError(t, err)
	assert.Len(t, embedding, HashDimensions)
}

func TestHashEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	embedder := NewHashEmbedder()
	defer func() { _ = embedder.Close() }()

	embedding, err := embedder.Embed(context.Background(), "func main() {}")
	require.NoError(t, err)

	magnitude := vectorMagnitude(embedding)
	assert.InDelta(t, 1.0, magnitude, 0.001)
}

func TestHashEmbedder_Embed_IsDeterministic(t *testing.T) {
	embedder := NewHashEmbedder()
	defer func() { _ = embedder.Close() }()

	text := "func add(a, b int) int { return a + b }"

	emb1, err1 := embedder.Embed(context.Background(), text)
	emb2, err2 := embedder.Embed(context.Background(), text)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, emb1, emb2, "same text should produce identical vectors")
}

func TestHashEmbedder_Embed_DeterministicAcrossInstances(t *testing.T) {
	embedder1 := NewHashEmbedder()
	embedder2 := NewHashEmbedder()
	defer func() { _ = embedder1.Close() }()
	defer func() { _ = embedder2.Close() }()

	text := "func getChunkByID(id int64) (*Chunk, error)"

	emb1, _ := embedder1.Embed(context.Background(), text)
	emb2, _ := embedder2.Embed(context.Background(), text)

	assert.Equal(t, emb1, emb2)
}

func TestHashEmbedder_Embed_DifferentTextsProduceDifferentVectors(t *testing.T) {
	embedder := NewHashEmbedder()
	defer func() { _ = embedder.Close() }()

	emb1, _ := embedder.Embed(context.Background(), "append chunk to layer")
	emb2, _ := embedder.Embed(context.Background(), "promote options across layers")

	assert.NotEqual(t, emb1, emb2)
}

func TestHashEmbedder_Embed_EmptyInput_ReturnsZeroVector(t *testing.T) {
	embedder := NewHashEmbedder()
	defer func() { _ = embedder.Close() }()

	embedding, err := embedder.Embed(context.Background(), "")

	require.NoError(t, err)
	assert.Len(t, embedding, HashDimensions)
	for _, v := range embedding {
		assert.Zero(t, v)
	}
}

func TestHashEmbedder_Embed_WhitespaceOnly_ReturnsZeroVector(t *testing.T) {
	embedder := NewHashEmbedder()
	defer func() { _ = embedder.Close() }()

	embedding, err := embedder.Embed(context.Background(), "   \t\n  ")

	require.NoError(t, err)
	for _, v := range embedding {
		assert.Zero(t, v)
	}
}

func TestHashEmbedder_CamelCase_Tokenization(t *testing.T) {
	tokens := tokenize("getChunkByID")
	assert.Contains(t, tokens, "get")
	assert.Contains(t, tokens, "chunk")
	assert.Contains(t, tokens, "by")
}

func TestHashEmbedder_SnakeCase_Tokenization(t *testing.T) {
	tokens := tokenize("layer_precedence_order")
	assert.Contains(t, tokens, "layer")
	assert.Contains(t, tokens, "precedence")
	assert.Contains(t, tokens, "order")
}

func TestHashEmbedder_Available_AlwaysTrueUntilClosed(t *testing.T) {
	embedder := NewHashEmbedder()
	assert.True(t, embedder.Available(context.Background()))
	_ = embedder.Close()
	assert.False(t, embedder.Available(context.Background()))
}

func TestHashEmbedder_Dimensions_Returns256(t *testing.T) {
	embedder := NewHashEmbedder()
	assert.Equal(t, 256, embedder.Dimensions())
}

func TestHashEmbedder_Profile_IdentifiesHashBackend(t *testing.T) {
	embedder := NewHashEmbedder()
	profile := embedder.Profile()
	assert.Equal(t, "hash", profile.Backend)
	assert.Equal(t, 256, profile.Dim)
}

func TestHashEmbedder_EmbedBatch_ReturnsCorrectCount(t *testing.T) {
	embedder := NewHashEmbedder()
	defer func() { _ = embedder.Close() }()

	results, err := embedder.EmbedBatch(context.Background(), []string{"a", "b", "c"})

	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestHashEmbedder_EmbedBatch_EmptyList_ReturnsEmpty(t *testing.T) {
	embedder := NewHashEmbedder()
	defer func() { _ = embedder.Close() }()

	results, err := embedder.EmbedBatch(context.Background(), []string{})

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHashEmbedder_Close_IsIdempotent(t *testing.T) {
	embedder := NewHashEmbedder()
	require.NoError(t, embedder.Close())
	require.NoError(t, embedder.Close())
}

func TestHashEmbedder_Embed_AfterClose_ReturnsError(t *testing.T) {
	embedder := NewHashEmbedder()
	_ = embedder.Close()

	_, err := embedder.Embed(context.Background(), "text")

	require.Error(t, err)
}

func TestHashEmbedder_StopWordFiltering(t *testing.T) {
	tokens := filterStopWords([]string{"func", "chunk", "return", "layer"})
	assert.NotContains(t, tokens, "func")
	assert.NotContains(t, tokens, "return")
	assert.Contains(t, tokens, "chunk")
	assert.Contains(t, tokens, "layer")
}

func TestHashEmbedder_Embed_UnicodeText_NoError(t *testing.T) {
	embedder := NewHashEmbedder()
	defer func() { _ = embedder.Close() }()

	_, err := embedder.Embed(context.Background(), "日本語のテキスト")
	require.NoError(t, err)
}
