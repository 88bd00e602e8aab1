package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/repochat/internal/embeddings"
	"github.com/fyrsmithlabs/repochat/internal/ingest"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/telemetry"
	"github.com/fyrsmithlabs/repochat/internal/vectorstore"
	"github.com/fyrsmithlabs/repochat/internal/workspace"
)

const (
	collection = "repo_fixture_0123456789ab"
	openAIKey  = "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"
)

// countingStore records batch sizes and can fail a given batch.
type countingStore struct {
	vectorstore.Store
	batches   []int
	failBatch int
}

func (s *countingStore) AddDocuments(ctx context.Context, c string, docs []vectorstore.Document) error {
	s.batches = append(s.batches, len(docs))
	if len(s.batches) == s.failBatch {
		return errors.New("disk full")
	}
	return s.Store.AddDocuments(ctx, c, docs)
}

func newMemoryStore(t *testing.T) vectorstore.Store {
	t.Helper()
	s, err := vectorstore.NewMemoryStore(embeddings.NewTestEmbedder(), nil)
	require.NoError(t, err)
	return s
}

func records(n int, path string) []ingest.Record {
	out := make([]ingest.Record, n)
	for i := range out {
		out[i] = ingest.Record{
			Text: "chunk " + strconv.Itoa(i) + " of " + path,
			Metadata: ingest.Metadata{
				FileName:    filepath.Base(path),
				FilePath:    path,
				Language:    "py",
				Source:      "/tmp/ws/" + path,
				ChunkNumber: i,
			},
		}
	}
	return out
}

func TestIndex_Batches(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: newMemoryStore(t)}
	ix, err := New(store, Config{BatchSize: 64}, nil)
	require.NoError(t, err)

	stats, err := ix.Index(ctx, collection, workspace.Handle{}, records(150, "app/main.py"))
	require.NoError(t, err)

	assert.Equal(t, []int{64, 64, 22}, store.batches)
	assert.Equal(t, 150, stats.Documents)
	assert.Equal(t, 3, stats.Batches)
	assert.Zero(t, stats.Redacted)

	n, err := store.Count(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, 150, n)
}

func TestIndex_KeepsMetadata(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	ix, err := New(store, Config{}, nil)
	require.NoError(t, err)

	recs := records(2, "pkg/util.py")
	_, err = ix.Index(ctx, collection, workspace.Handle{}, recs)
	require.NoError(t, err)

	results, err := store.Search(ctx, collection, recs[1].Text, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	var found bool
	for _, r := range results {
		if r.ID == "pkg/util.py#1" {
			found = true
			assert.Equal(t, recs[1].Metadata, MetadataFromDocument(r.Metadata))
			assert.Len(t, r.Metadata, 5)
		}
	}
	assert.True(t, found)
}

func TestIndex_ReplacesPreviousLoad(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	ix, err := New(store, Config{}, nil)
	require.NoError(t, err)

	_, err = ix.Index(ctx, collection, workspace.Handle{}, records(10, "old.py"))
	require.NoError(t, err)
	_, err = ix.Index(ctx, collection, workspace.Handle{}, records(3, "new.py"))
	require.NoError(t, err)

	n, err := store.Count(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIndex_RedactsSecrets(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	logger := logging.NewTestLogger()
	ix, err := New(store, Config{Redact: true}, logger.Logger)
	require.NoError(t, err)

	recs := []ingest.Record{{
		Text:     "\nconst apiKey = \"" + openAIKey + "\"\n",
		Metadata: ingest.Metadata{FileName: "config.js", FilePath: "config.js", Language: "js"},
	}}
	stats, err := ix.Index(ctx, collection, workspace.Handle{Root: t.TempDir()}, recs)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Redacted)
	assert.NotEmpty(t, stats.ByRule)

	results, err := store.Search(ctx, collection, "api key", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotContains(t, results[0].Content, openAIKey)
	assert.Contains(t, results[0].Content, "[REDACTED:")

	logger.AssertLogged(t, zapcore.WarnLevel, "secrets redacted from chunk")
	logger.AssertNotContains(t, openAIKey)
}

func TestIndex_RepositoryAllowlist(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	ix, err := New(store, Config{Redact: true}, nil)
	require.NoError(t, err)

	root := t.TempDir()
	toml := "[allowlist]\npaths = ['''fixtures/.*''']\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitleaks.toml"), []byte(toml), 0o644))

	recs := []ingest.Record{{
		Text:     "key = \"" + openAIKey + "\"",
		Metadata: ingest.Metadata{FileName: "keys.py", FilePath: "fixtures/keys.py"},
	}}
	stats, err := ix.Index(ctx, collection, workspace.Handle{Root: root}, recs)
	require.NoError(t, err)
	assert.Zero(t, stats.Redacted)
}

func TestIndex_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := New(nil, Config{}, nil)
	assert.Error(t, err)

	ix, err := New(newMemoryStore(t), Config{}, nil)
	require.NoError(t, err)
	_, err = ix.Index(ctx, collection, workspace.Handle{}, nil)
	assert.ErrorIs(t, err, ErrNoRecords)

	_, err = ix.Index(ctx, "Not Valid", workspace.Handle{}, records(1, "a.py"))
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)

	store := &countingStore{Store: newMemoryStore(t), failBatch: 2}
	ix, err = New(store, Config{BatchSize: 2}, nil)
	require.NoError(t, err)
	_, err = ix.Index(ctx, collection, workspace.Handle{}, records(5, "a.py"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adding batch 2")
}

func TestIndex_Span(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	ix, err := New(newMemoryStore(t), Config{}, nil, WithTracer(tel.Tracer("test")))
	require.NoError(t, err)

	_, err = ix.Index(context.Background(), collection, workspace.Handle{}, records(4, "a.py"))
	require.NoError(t, err)
	tel.AssertSpanAttribute(t, "index.Index", "documents", int64(4))
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "src/app.py#3", DocumentID(ingest.Metadata{FilePath: "src/app.py", ChunkNumber: 3}))
}
