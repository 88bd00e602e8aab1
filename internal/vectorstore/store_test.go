package vectorstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repochat/internal/config"
	"github.com/fyrsmithlabs/repochat/internal/embeddings"
)

func TestValidateCollectionName(t *testing.T) {
	valid := []string{"a", "repo_streamlit_example_0a1b2c3d4e5f", strings.Repeat("x", 64)}
	for _, name := range valid {
		assert.NoError(t, ValidateCollectionName(name), name)
	}

	invalid := []string{"", "Upper", "with-dash", "../etc", "has space", strings.Repeat("x", 65)}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateCollectionName(name), ErrInvalidCollectionName, name)
	}
}

func TestCollectionName(t *testing.T) {
	name := CollectionName("https://github.com/streamlit/streamlit-example.git")
	assert.True(t, strings.HasPrefix(name, "repo_streamlit_example_"), name)
	assert.NoError(t, ValidateCollectionName(name))

	assert.Equal(t, name, CollectionName("https://github.com/streamlit/streamlit-example"))
	assert.Equal(t, name, CollectionName(" https://github.com/streamlit/streamlit-example/ "))
	assert.NotEqual(t, name, CollectionName("https://github.com/fork/streamlit-example"))
}

func TestCollectionName_AlwaysValid(t *testing.T) {
	urls := []string{
		"",
		"git@github.com:Owner/Mixed.Case.Repo.git",
		"https://example.com/" + strings.Repeat("long-name-", 20),
		"https://example.com/!!!",
		"/srv/git/ünïcödé",
	}
	for _, u := range urls {
		name := CollectionName(u)
		assert.NoError(t, ValidateCollectionName(name), "%q -> %q", u, name)
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.VectorStoreConfig{
		Provider:     "qdrant",
		Path:         "idx",
		Compress:     true,
		QdrantHost:   "qdrant.internal",
		QdrantPort:   6334,
		QdrantAPIKey: config.Secret("k"),
		QdrantTLS:    true,
	})
	assert.Equal(t, "qdrant", cfg.Provider)
	assert.Equal(t, ChromemConfig{Path: "idx", Compress: true}, cfg.Chromem)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, "k", cfg.Qdrant.APIKey.Value())
	assert.True(t, cfg.Qdrant.UseTLS)
}

func TestNewStore(t *testing.T) {
	emb := embeddings.NewTestEmbedder()

	s, err := NewStore(Config{Chromem: ChromemConfig{Path: t.TempDir()}}, emb, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, s)

	s, err = NewStore(Config{Provider: "memory"}, emb, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, s)

	_, err = NewStore(Config{Provider: "pinecone"}, emb, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
