package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/repochat/internal/logging"
)

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	cfg := Config{
		Root:        filepath.Join(t.TempDir(), "cloned_repos"),
		Attempts:    3,
		RetryDelay:  time.Second,
		SettleDelay: 500 * time.Millisecond,
	}
	rec := &sleepRecorder{}
	opts = append([]Option{WithSleep(rec.sleep)}, opts...)
	return NewManager(cfg, logger.Logger, opts...), logger
}

func populate(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects", "pack"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("print(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "objects", "pack", "p.pack"), []byte("x"), 0o444))
}

func TestCreate_PathShape(t *testing.T) {
	m, _ := newTestManager(t)

	h, err := m.Create("streamlit-example")
	require.NoError(t, err)

	assert.Equal(t, m.Root(), filepath.Dir(h.Root))
	base := filepath.Base(h.Root)
	require.True(t, strings.HasPrefix(base, "streamlit-example_"), base)
	assert.Len(t, strings.TrimPrefix(base, "streamlit-example_"), 8)
	assert.False(t, h.Exists(), "leaf directory is left to the fetcher")
	assert.DirExists(t, m.Root())
	assert.WithinDuration(t, time.Now(), h.CreatedAt, time.Minute)
}

func TestCreate_Unique(t *testing.T) {
	m, _ := newTestManager(t)

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		h, err := m.Create("same")
		require.NoError(t, err)
		_, dup := seen[h.Root]
		require.False(t, dup, "duplicate workspace path %s", h.Root)
		seen[h.Root] = struct{}{}
	}
}

func TestCreate_SanitizesLabel(t *testing.T) {
	m, _ := newTestManager(t)

	h, err := m.Create("../../etc passwd")
	require.NoError(t, err)
	assert.Equal(t, m.Root(), filepath.Dir(h.Root))
	assert.NotContains(t, filepath.Base(h.Root), "/")

	h, err = m.Create("")
	require.NoError(t, err)
	assert.Equal(t, "repo", h.Label)
}

func TestRemove_ReadOnlyTree(t *testing.T) {
	m, _ := newTestManager(t)
	h, err := m.Create("repo")
	require.NoError(t, err)
	populate(t, h.Root)
	// a read-only directory blocks unlinking its children until relaxed
	require.NoError(t, os.Chmod(filepath.Join(h.Root, ".git", "objects", "pack"), 0o555))

	require.NoError(t, m.Remove(h))
	assert.NoDirExists(t, h.Root)
}

func TestRemove_MissingIsSuccess(t *testing.T) {
	m, _ := newTestManager(t)
	h, err := m.Create("never-fetched")
	require.NoError(t, err)

	assert.NoError(t, m.Remove(h))
}

func TestRemove_RetriesFailingEntryOnce(t *testing.T) {
	failed := make(map[string]bool)
	var mu sync.Mutex
	flaky := func(path string) error {
		mu.Lock()
		defer mu.Unlock()
		if filepath.Base(path) == "main.py" && !failed[path] {
			failed[path] = true
			return os.ErrPermission
		}
		return os.Remove(path)
	}
	m, _ := newTestManager(t, WithRemoveFunc(flaky))
	h, err := m.Create("repo")
	require.NoError(t, err)
	populate(t, h.Root)

	require.NoError(t, m.Remove(h))
	assert.NoDirExists(t, h.Root)
	assert.Len(t, failed, 1)
}

func TestRemove_GivesUpAfterAttempts(t *testing.T) {
	stuck := errors.New("device or resource busy")
	rec := &sleepRecorder{}
	m, logger := newTestManager(t,
		WithSleep(rec.sleep),
		WithRemoveFunc(func(string) error { return stuck }),
	)
	h, err := m.Create("locked")
	require.NoError(t, err)
	populate(t, h.Root)

	err = m.Remove(h)
	require.Error(t, err)

	var rerr *RemovalError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 3, rerr.Attempts)
	assert.Equal(t, h.Root, rerr.Path)
	assert.ErrorIs(t, err, stuck)
	assert.DirExists(t, h.Root)

	// three settle pauses and two pauses between attempts
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second,
		500 * time.Millisecond, time.Second,
		500 * time.Millisecond,
	}, rec.calls)
	assert.Len(t, logger.FilterMessage("workspace removal attempt failed").All(), 3)
	logger.AssertLogged(t, zapcore.WarnLevel, "workspace removal attempt failed")
}

func TestRemove_EmptyHandle(t *testing.T) {
	m, _ := newTestManager(t)
	var rerr *RemovalError
	assert.ErrorAs(t, m.Remove(Handle{}), &rerr)
}

func TestList(t *testing.T) {
	m, _ := newTestManager(t)
	a, err := m.Create("alpha")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(a.Root, 0o755))
	b, err := m.Create("beta_repo")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(b.Root, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(m.Root(), "not-a-workspace"), 0o755))

	handles, err := m.List()
	require.NoError(t, err)
	require.Len(t, handles, 2)

	labels := []string{handles[0].Label, handles[1].Label}
	assert.ElementsMatch(t, []string{"alpha", "beta_repo"}, labels)
}

func TestLabelFromURL(t *testing.T) {
	tests := map[string]string{
		"https://github.com/streamlit/streamlit-example.git": "streamlit-example",
		"https://github.com/owner/repo/":                     "repo",
		"git@github.com:owner/tool.git":                      "tool",
		"/srv/git/local-fixture":                             "local-fixture",
		"":                                                   "repo",
		"https://example.com/weird name!":                    "weird-name",
	}
	for in, want := range tests {
		assert.Equal(t, want, LabelFromURL(in), in)
	}
}
