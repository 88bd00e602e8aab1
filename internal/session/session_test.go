package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/repochat/internal/chat"
	"github.com/fyrsmithlabs/repochat/internal/embeddings"
	"github.com/fyrsmithlabs/repochat/internal/fetch"
	"github.com/fyrsmithlabs/repochat/internal/index"
	"github.com/fyrsmithlabs/repochat/internal/ingest"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/registry"
	"github.com/fyrsmithlabs/repochat/internal/vectorstore"
	"github.com/fyrsmithlabs/repochat/internal/workspace"
)

// treeFetcher writes the files registered for a URL into the workspace.
type treeFetcher struct {
	mu    sync.Mutex
	trees map[string]map[string]string
	err   error
}

func (f *treeFetcher) Fetch(_ context.Context, url string, ws workspace.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(ws.Root, 0o755); err != nil {
		return err
	}
	for rel, content := range f.trees[url] {
		path := filepath.Join(ws.Root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// echoModel answers with a fixed reply and keeps every prompt. When gate is
// set each generation reports on entered and waits for gate to close.
type echoModel struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string

	gate    chan struct{}
	entered chan struct{}
}

func (m *echoModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.gate != nil {
		m.entered <- struct{}{}
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *echoModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *echoModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

const (
	repoA = "https://github.com/owner/alpha.git"
	repoB = "https://github.com/owner/beta"
	empty = "https://github.com/owner/images"
)

type harness struct {
	svc        *Service
	fetcher    *treeFetcher
	model      *echoModel
	store      vectorstore.Store
	workspaces *workspace.Manager
	registry   *registry.Registry
	logs       *logging.TestLogger
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logs := logging.NewTestLogger()
	workspaces := workspace.NewManager(workspace.Config{Root: t.TempDir()}, logs.Logger, workspace.WithSleep(func(time.Duration) {}))
	fetcher := &treeFetcher{trees: map[string]map[string]string{
		repoA: {
			"retry.py":  "def retry():\n    sleep(1)\n    return call()\n",
			"README.md": "Alpha retries failed calls.",
		},
		repoB: {"main.go": "package main\n\nfunc main() {}\n"},
		empty: {"logo.png": "\x89PNG"},
	}}

	pipeline, err := ingest.NewPipeline(workspaces, fetcher, logs.Logger)
	require.NoError(t, err)

	store, err := vectorstore.NewMemoryStore(embeddings.NewTestEmbedder(), logs.Logger)
	require.NoError(t, err)
	indexer, err := index.New(store, index.Config{Redact: true}, logs.Logger)
	require.NoError(t, err)

	model := &echoModel{reply: "It sleeps and calls again."}
	agent, err := chat.NewAgent(store, model, chat.Config{K: 2}, logs.Logger)
	require.NoError(t, err)

	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	svc, err := New(pipeline, indexer, agent, reg, cfg, logs.Logger)
	require.NoError(t, err)
	return &harness{svc: svc, fetcher: fetcher, model: model, store: store, workspaces: workspaces, registry: reg, logs: logs}
}

func TestLoad_IndexesAndRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	res, err := h.svc.Load(ctx, "  "+repoA+"  ")
	require.NoError(t, err)

	assert.Equal(t, repoA, res.URL)
	assert.Equal(t, vectorstore.CollectionName(repoA), res.Collection)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 2, res.Chunks)
	assert.True(t, res.Workspace.Exists(), "workspace is kept while the repository is loaded")
	require.NotEmpty(t, res.RunID)

	n, err := h.store.Count(ctx, res.Collection)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	run, err := h.registry.Get(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, repoA, run.URL)
	assert.Equal(t, res.Workspace.Root, run.WorkspacePath)
	assert.False(t, run.Removed())

	current := h.svc.Current()
	require.NotNil(t, current)
	assert.Equal(t, res.Collection, current.Collection)
	h.logs.AssertLogged(t, zapcore.InfoLevel, "repository loaded")
}

func TestLoad_ReplacesPreviousRepository(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	first, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)
	_, err = h.svc.Ask(ctx, "how does retry work?")
	require.NoError(t, err)
	require.Len(t, h.svc.History(), 2)

	second, err := h.svc.Load(ctx, repoB)
	require.NoError(t, err)

	assert.False(t, first.Workspace.Exists(), "previous workspace is removed")
	assert.True(t, second.Workspace.Exists())
	assert.Empty(t, h.svc.History(), "a new repository starts a new conversation")
	assert.Equal(t, repoB, h.svc.Current().URL)

	run, err := h.registry.Get(ctx, first.RunID)
	require.NoError(t, err)
	assert.True(t, run.Removed())
}

func TestLoad_EmptyURL(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.Load(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyURL)
}

func TestLoad_NoMatchingFiles(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.svc.Load(context.Background(), empty)
	require.ErrorIs(t, err, ErrNoFiles)
	assert.Nil(t, h.svc.Current())

	left, err := h.workspaces.List()
	require.NoError(t, err)
	assert.Empty(t, left, "workspace of an empty repository is discarded")
}

func TestLoad_FetchFailureKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	_, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)

	h.fetcher.err = errors.New("authentication required")
	_, err = h.svc.Load(ctx, repoB)
	require.ErrorIs(t, err, fetch.ErrFetchFailed)
	assert.Contains(t, err.Error(), "authentication required")

	// questions still go to the last good index
	current := h.svc.Current()
	require.NotNil(t, current)
	assert.Equal(t, repoA, current.URL)
	assert.True(t, current.Workspace.Exists(), "the kept repository keeps its workspace")
	_, err = h.svc.Ask(ctx, "retry?")
	assert.NoError(t, err)

	run, err := h.registry.Get(ctx, current.RunID)
	require.NoError(t, err)
	assert.False(t, run.Removed())
}

func TestLoad_EmptyRepositoryKeepsCurrentWorkspace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	first, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)

	_, err = h.svc.Load(ctx, empty)
	require.ErrorIs(t, err, ErrNoFiles)

	assert.True(t, first.Workspace.Exists())
	left, err := h.workspaces.List()
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, first.Workspace.Root, left[0].Root)
}

func TestAsk_ReloadOfSameURLDropsInFlightExchange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	_, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)

	h.model.gate = make(chan struct{})
	h.model.entered = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Ask(ctx, "old question?")
		done <- err
	}()
	<-h.model.entered

	reloaded, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)
	close(h.model.gate)
	require.NoError(t, <-done)

	assert.Empty(t, h.svc.History(), "the reload starts a new conversation")
	assert.Equal(t, reloaded.RunID, h.svc.Current().RunID)

	h.model.gate, h.model.entered = nil, nil
	_, err = h.svc.Ask(ctx, "new question?")
	require.NoError(t, err)
	history := h.svc.History()
	require.Len(t, history, 2)
	assert.Equal(t, "new question?", history[0].Content)
}

func TestAsk_NoRepository(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.Ask(context.Background(), "anything?")
	assert.ErrorIs(t, err, ErrNoRepository)
	_, err = h.svc.Search(context.Background(), "anything", 1)
	assert.ErrorIs(t, err, ErrNoRepository)
}

func TestAsk_CarriesHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	_, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)

	ans, err := h.svc.Ask(ctx, "how does retry work?")
	require.NoError(t, err)
	assert.Equal(t, "It sleeps and calls again.", ans.Text)
	assert.Len(t, ans.Sources, 2)

	_, err = h.svc.Ask(ctx, "and how long does it sleep?")
	require.NoError(t, err)

	prompt := h.model.lastPrompt()
	assert.Contains(t, prompt, "User: how does retry work?\nAssistant: It sleeps and calls again.")

	history := h.svc.History()
	require.Len(t, history, 4)
	assert.Equal(t, chat.RoleUser, history[0].Role)
	assert.Equal(t, chat.RoleAssistant, history[1].Role)
	assert.Equal(t, "and how long does it sleep?", history[2].Content)
}

func TestAsk_HistoryBounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{MaxHistory: 4})
	_, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)

	for _, q := range []string{"one", "two", "three"} {
		_, err := h.svc.Ask(ctx, q)
		require.NoError(t, err)
	}
	history := h.svc.History()
	require.Len(t, history, 4)
	assert.Equal(t, "two", history[0].Content)
	assert.Equal(t, "three", history[2].Content)
}

func TestAsk_ModelErrorLeavesHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	_, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)

	h.model.err = errors.New("model offline")
	_, err = h.svc.Ask(ctx, "retry?")
	assert.ErrorIs(t, err, chat.ErrGenerationFailed)
	assert.Empty(t, h.svc.History())
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	_, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)

	sources, err := h.svc.Search(ctx, "retry sleep", 1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Empty(t, h.model.prompts)
}

func TestHistory_IsCopy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	_, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)
	_, err = h.svc.Ask(ctx, "retry?")
	require.NoError(t, err)

	history := h.svc.History()
	history[0].Content = "changed"
	assert.Equal(t, "retry?", h.svc.History()[0].Content)
}

func TestClose_RemovesWorkspace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	require.NoError(t, h.svc.Close(), "closing an empty service is a no-op")

	res, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)
	require.NoError(t, h.svc.Close())

	assert.False(t, res.Workspace.Exists())
	run, err := h.registry.Get(ctx, res.RunID)
	require.NoError(t, err)
	assert.True(t, run.Removed())

	// the index outlives the workspace
	n, err := h.store.Count(ctx, res.Collection)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, nil, Config{}, nil)
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	// a stale run whose workspace is already gone, one orphan directory
	// and the live repository
	stale, err := h.registry.Record(ctx, registry.Run{
		URL: "https://old", Collection: "repo_old_000000000000",
		WorkspacePath: filepath.Join(h.workspaces.Root(), "old_deadbeef"),
	})
	require.NoError(t, err)
	orphan, err := h.workspaces.Create("orphan")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(orphan.Root, 0o755))
	live, err := h.svc.Load(ctx, repoA)
	require.NoError(t, err)

	report, err := Prune(ctx, h.workspaces, h.registry, h.logs.Logger, live.Workspace.Root)
	require.NoError(t, err)

	assert.Contains(t, report.Removed, orphan.Root)
	assert.NotContains(t, report.Removed, live.Workspace.Root)
	assert.Empty(t, report.Failed)
	assert.False(t, orphan.Exists())
	assert.True(t, live.Workspace.Exists())

	got, err := h.registry.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.True(t, got.Removed())

	active, err := h.registry.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live.RunID, active[0].ID)
	assert.True(t, strings.HasPrefix(live.Workspace.Root, h.workspaces.Root()))
}

func TestPrune_WithoutRegistry(t *testing.T) {
	h := newHarness(t, Config{})
	ws, err := h.workspaces.Create("left")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(ws.Root, 0o755))

	report, err := Prune(context.Background(), h.workspaces, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ws.Root}, report.Removed)
}
