package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/repochat/internal/ignore"
	"github.com/fyrsmithlabs/repochat/internal/logging"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func relPaths(files []SourceFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

func TestCollect_AllowListFilters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py", "print('hi')")
	writeFile(t, root, "image.png", "\x89PNG")

	files, err := NewCollector(nil).Collect(context.Background(), root, DefaultExtensions())
	require.NoError(t, err)
	require.Len(t, files, 1)

	f := files[0]
	assert.Equal(t, "app.py", f.RelPath)
	assert.Equal(t, "app.py", f.Name)
	assert.Equal(t, filepath.Join(root, "app.py"), f.Path)
	assert.Equal(t, "py", f.Language)
	assert.Equal(t, "print('hi')", f.Content)
}

func TestCollect_SuffixMatchIsCaseSensitive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.MD", "upper")
	writeFile(t, root, "notes.md", "lower")
	writeFile(t, root, "Makefile", "all:")

	files, err := NewCollector(nil).Collect(context.Background(), root, []string{".md", ".MD"})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.MD", "notes.md"}, relPaths(files))
	assert.Equal(t, "MD", files[0].Language)

	files, err = NewCollector(nil).Collect(context.Background(), root, []string{".md"})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.md"}, relPaths(files))
}

func TestCollect_SortedAndNested(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b/z.go", "package z")
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b/a/y.go", "package y")
	writeFile(t, root, ".git/config.json", "{}")

	files, err := NewCollector(nil).Collect(context.Background(), root, []string{".go", ".json"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b/a/y.go", "b/z.go"}, relPaths(files))
}

func TestCollect_SkipDirsOverride(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".git/hooks/pre-commit.py", "x")
	writeFile(t, root, "vendor/lib.go", "package lib")

	files, err := NewCollector(nil, WithSkipDirs([]string{"vendor"})).
		Collect(context.Background(), root, []string{".py", ".go"})
	require.NoError(t, err)
	assert.Equal(t, []string{".git/hooks/pre-commit.py"}, relPaths(files))
}

func TestCollect_InvalidUTF8IsReplaced(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bad.txt", "ok\xff\xfeend")
	writeFile(t, root, "good.txt", "fine")

	files, err := NewCollector(nil).Collect(context.Background(), root, []string{".txt"})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "ok��end", files[0].Content)
	assert.Equal(t, "fine", files[1].Content)
}

func TestCollect_UnreadableFileDoesNotAbort(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "a")
	writeFile(t, root, "broken.py", "b")
	writeFile(t, root, "c.py", "c")

	logger := logging.NewTestLogger()
	c := NewCollector(logger.Logger)
	c.readFile = func(path string) ([]byte, error) {
		if filepath.Base(path) == "broken.py" {
			return nil, os.ErrPermission
		}
		return os.ReadFile(path)
	}

	report, err := c.CollectReport(context.Background(), root, []string{".py"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "c.py"}, relPaths(report.Files))
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "broken.py", report.Skipped[0].RelPath)
	assert.ErrorIs(t, report.Skipped[0].Err, os.ErrPermission)
	logger.AssertLogged(t, zapcore.WarnLevel, "skipping unreadable file")
	logger.AssertField(t, "skipping unreadable file", "permission", true)
}

func TestCollect_MaxFileSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.js", "1")
	writeFile(t, root, "big.js", "0123456789")

	report, err := NewCollector(nil, WithMaxFileSize(5)).
		CollectReport(context.Background(), root, []string{".js"})
	require.NoError(t, err)
	assert.Equal(t, []string{"small.js"}, relPaths(report.Files))
	require.Len(t, report.Skipped, 1)
	assert.ErrorIs(t, report.Skipped[0].Err, ErrFileTooLarge)
}

func TestCollect_SymlinksAreNotFollowed(t *testing.T) {
	outside := t.TempDir()
	writeFile(t, outside, "host_secret.txt", "HOST-ONLY-SECRET")
	writeFile(t, outside, "dir/inner.txt", "HOST-DIR-SECRET")

	root := t.TempDir()
	writeFile(t, root, "notes.txt", "visible")
	if err := os.Symlink(filepath.Join(outside, "host_secret.txt"), filepath.Join(root, "leak.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(outside, "dir"), filepath.Join(root, "linked")))

	logger := logging.NewTestLogger()
	report, err := NewCollector(logger.Logger).CollectReport(context.Background(), root, []string{".txt"})
	require.NoError(t, err)

	assert.Equal(t, []string{"notes.txt"}, relPaths(report.Files))
	for _, f := range report.Files {
		assert.NotContains(t, f.Content, "HOST-")
	}
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "leak.txt", report.Skipped[0].RelPath)
	assert.ErrorIs(t, report.Skipped[0].Err, ErrSymlink)
	logger.AssertLogged(t, zapcore.WarnLevel, "skipping symbolic link")
}

func TestCollect_IgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "build/\n*.min.js\n")
	writeFile(t, root, "src/app.js", "app")
	writeFile(t, root, "src/app.min.js", "min")
	writeFile(t, root, "build/out.js", "out")

	plain, err := NewCollector(nil).Collect(context.Background(), root, []string{".js"})
	require.NoError(t, err)
	assert.Len(t, plain, 3)

	filtered, err := NewCollector(nil, WithIgnoreParser(ignore.NewParser(nil, nil))).
		Collect(context.Background(), root, []string{".js"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/app.js"}, relPaths(filtered))
}

func TestCollect_InvalidRoot(t *testing.T) {
	c := NewCollector(nil)

	_, err := c.Collect(context.Background(), filepath.Join(t.TempDir(), "missing"), DefaultExtensions())
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.py")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = c.Collect(context.Background(), file, DefaultExtensions())
	assert.Error(t, err)
}

func TestCollect_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCollector(nil).Collect(ctx, root, DefaultExtensions())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCollect_EmptyAllowList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "a")

	files, err := NewCollector(nil).Collect(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLanguageOf(t *testing.T) {
	assert.Equal(t, "py", LanguageOf("a.py"))
	assert.Equal(t, "gz", LanguageOf("archive.tar.gz"))
	assert.Equal(t, "Md", LanguageOf("README.Md"))
	assert.Equal(t, "Makefile", LanguageOf("Makefile"))
	assert.Equal(t, "", LanguageOf("trailing."))
}
