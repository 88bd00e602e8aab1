package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAIKey = "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"

func TestRedact_Disabled(t *testing.T) {
	r, err := NewRedactor(Options{Enabled: false})
	require.NoError(t, err)

	content := `const apiKey = "` + openAIKey + `"`
	res := r.Redact("config.js", content)
	assert.Equal(t, content, res.Content)
	assert.False(t, res.HasFindings())
	assert.False(t, r.Enabled())
}

func TestRedact_CleanCode(t *testing.T) {
	r, err := NewRedactor(Options{Enabled: true})
	require.NoError(t, err)

	content := "package main\n\nfunc main() {\n\tprintln(\"Hello World\")\n}\n"
	res := r.Redact("main.go", content)
	assert.Equal(t, content, res.Content)
	assert.Empty(t, res.Findings)
}

func TestRedact_ReplacesSecret(t *testing.T) {
	r, err := NewRedactor(Options{Enabled: true})
	require.NoError(t, err)

	content := "\nconst apiKey = \"" + openAIKey + "\"\n"
	res := r.Redact("config.js", content)

	require.True(t, res.HasFindings(), "OpenAI key should be detected")
	assert.NotContains(t, res.Content, openAIKey)
	assert.Contains(t, res.Content, "[REDACTED:")
	assert.True(t, strings.HasPrefix(res.Content, "\nconst apiKey = "))
	for rule, n := range res.ByRule {
		assert.Positive(t, n)
		assert.Contains(t, res.Content, Marker(rule))
	}
}

func TestRedact_Allowlisted(t *testing.T) {
	dir := t.TempDir()
	toml := "[allowlist]\nregexes = ['''sk-proj-abc123''']\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectAllowlistFile), []byte(toml), 0o644))

	r, err := NewRedactor(Options{Enabled: true, ProjectDir: dir})
	require.NoError(t, err)
	assert.Equal(t, []string{"sk-proj-abc123"}, r.Allowlist().Regexes)

	content := "const apiKey = \"" + openAIKey + "\"\n"
	res := r.Redact("config.js", content)
	assert.Equal(t, content, res.Content)
}

func TestRedact_ConcurrentUse(t *testing.T) {
	r, err := NewRedactor(Options{Enabled: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.Redact("a.js", "const k = \""+openAIKey+"\"")
			assert.NotContains(t, res.Content, openAIKey)
		}()
	}
	wg.Wait()
}

func TestRedact_EmptyContent(t *testing.T) {
	r, err := NewRedactor(Options{Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "", r.Redact("x", "").Content)
}

func TestNewRedactor_InvalidAllowlist(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, "allowlist.toml")
	require.NoError(t, os.WriteFile(user, []byte("[allowlist]\nregexes = ['(unclosed']\n"), 0o600))

	_, err := NewRedactor(Options{Enabled: true, UserAllowlist: user})
	assert.ErrorIs(t, err, ErrInvalidRegex)
}

func TestMarker(t *testing.T) {
	assert.Equal(t, "[REDACTED:openai-api-key]", Marker("openai-api-key"))
}
