package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/fyrsmithlabs/repochat/internal/config"
	"github.com/fyrsmithlabs/repochat/internal/embeddings"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/services"
	"github.com/fyrsmithlabs/repochat/internal/workspace"
)

const (
	repoURL    = "https://github.com/owner/tools.git"
	privateURL = "https://github.com/owner/private.git"
)

type dirFetcher struct{}

func (dirFetcher) Fetch(_ context.Context, url string, ws workspace.Handle) error {
	if url == privateURL {
		return errors.New("repository not found")
	}
	if err := os.MkdirAll(ws.Root, 0o755); err != nil {
		return err
	}
	files := map[string]string{
		"cache.go":  "package cache\n\n// Get returns a cached value.\nfunc Get(key string) string { return store[key] }\n",
		"README.md": "A tiny cache.",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(ws.Root, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type cannedModel struct{}

func (cannedModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Get reads from the store map."}}}, nil
}

func (m cannedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type fixture struct {
	client *mcp.ClientSession
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Workspace.Root = filepath.Join(dir, "cloned_repos")
	cfg.Workspace.RetryDelay = 0
	cfg.Workspace.SettleDelay = 0
	cfg.VectorStore.Provider = "memory"

	svc, err := services.Build(ctx, cfg, nil,
		services.WithEmbedder(embeddings.NewTestEmbedder()),
		services.WithModel(cannedModel{}),
		services.WithFetcher(dirFetcher{}),
		services.WithoutRunRegistry(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	srv, err := NewServer(svc.Session(), Config{}, logging.NewNop(),
		WithMetrics(newMetrics(mp.Meter(instrumentationName), nil)))
	require.NoError(t, err)

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := srv.mcp.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	return &fixture{client: cs, reader: reader}
}

func (f *fixture) call(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := f.client.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func structured[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestNewServer_RequiresSession(t *testing.T) {
	_, err := NewServer(nil, Config{}, nil)
	assert.Error(t, err)
}

func TestListTools(t *testing.T) {
	f := newFixture(t)
	res, err := f.client.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"repository_load", "repository_ask", "repository_search"}, names)
}

func TestRepositoryLoad(t *testing.T) {
	f := newFixture(t)

	res := f.call(t, "repository_load", map[string]any{"url": repoURL})
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "2 files, 2 chunks indexed")

	out := structured[repositoryLoadOutput](t, res)
	assert.Equal(t, repoURL, out.URL)
	assert.Equal(t, 2, out.Chunks)
	assert.NotEmpty(t, out.Collection)
}

func TestRepositoryLoad_Errors(t *testing.T) {
	f := newFixture(t)

	res := f.call(t, "repository_load", map[string]any{"url": " "})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "url is required")

	res = f.call(t, "repository_load", map[string]any{"url": privateURL})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "repository not found")
}

func TestRepositoryAsk(t *testing.T) {
	f := newFixture(t)

	res := f.call(t, "repository_ask", map[string]any{"question": "what does Get do?"})
	assert.True(t, res.IsError, "asking before a load fails")
	assert.Contains(t, text(t, res), "no repository loaded")

	f.call(t, "repository_load", map[string]any{"url": repoURL})
	res = f.call(t, "repository_ask", map[string]any{"question": "what does Get do?"})
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "Get reads from the store map.")
	assert.Contains(t, text(t, res), "Sources:")

	out := structured[repositoryAskOutput](t, res)
	assert.Equal(t, "Get reads from the store map.", out.Answer)
	assert.Len(t, out.Sources, 2)
}

func TestRepositorySearch(t *testing.T) {
	f := newFixture(t)
	f.call(t, "repository_load", map[string]any{"url": repoURL})

	res := f.call(t, "repository_search", map[string]any{"query": "cached value", "k": 1})
	require.False(t, res.IsError, text(t, res))
	out := structured[repositorySearchOutput](t, res)
	assert.Equal(t, 1, out.Count)
	require.Len(t, out.Sources, 1)
	assert.Contains(t, text(t, res), out.Sources[0].FilePath)

	res = f.call(t, "repository_search", map[string]any{"query": "cached value", "k": 500})
	assert.True(t, res.IsError)

	res = f.call(t, "repository_search", map[string]any{"query": ""})
	assert.True(t, res.IsError)
}
