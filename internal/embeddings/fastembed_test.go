//go:build cgo

package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func requireONNX(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping FastEmbed test in short mode")
	}
	if ONNXLibraryPath("") == "" {
		t.Skip("ONNX_PATH not set, skipping FastEmbed test")
	}
}

func TestFastEmbedProvider_Embed(t *testing.T) {
	requireONNX(t)

	provider, err := NewFastEmbedProvider(context.Background(), FastEmbedConfig{
		Model:    "BAAI/bge-small-en-v1.5",
		CacheDir: t.TempDir(),
	}, zap.NewNop())
	require.NoError(t, err)
	defer provider.Close()

	ctx := context.Background()
	assert.Equal(t, 384, provider.Dimension())
	assert.Equal(t, "BAAI/bge-small-en-v1.5", provider.Model())

	vectors, err := provider.EmbedDocuments(ctx, []string{"Thus have I heard.", "The Four Noble Truths."})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 384)

	query, err := provider.EmbedQuery(ctx, "What are the noble truths?")
	require.NoError(t, err)
	assert.Len(t, query, 384)

	_, err = provider.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = provider.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNewFastEmbedProvider_UnknownModel(t *testing.T) {
	_, err := NewFastEmbedProvider(context.Background(), FastEmbedConfig{Model: "unknown-model"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestModelMapping(t *testing.T) {
	tests := []struct {
		name      string
		modelName string
		wantDim   int
	}{
		{"BAAI format", "BAAI/bge-small-en-v1.5", 384},
		{"fastembed format", "fast-bge-small-en-v1.5", 384},
		{"base model", "BAAI/bge-base-en-v1.5", 768},
		{"MiniLM", "sentence-transformers/all-MiniLM-L6-v2", 384},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := modelMapping[tt.modelName]
			require.True(t, ok)
			dim, ok := knownModelDimension(tt.modelName)
			require.True(t, ok)
			assert.Equal(t, tt.wantDim, dim)
		})
	}
	assert.Len(t, modelMapping, len(knownModels))
}
