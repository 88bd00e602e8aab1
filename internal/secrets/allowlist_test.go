package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAllowlists_Merge(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ProjectAllowlistFile),
		[]byte("[allowlist]\npaths = ['''testdata/.*''']\nregexes = ['''EXAMPLE''']\n"), 0o644))
	user := filepath.Join(t.TempDir(), "allowlist.toml")
	require.NoError(t, os.WriteFile(user, []byte("[allowlist]\nregexes = ['''dummy-.*''']\n"), 0o600))

	a, err := LoadAllowlists(project, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"testdata/.*"}, a.Paths)
	assert.Equal(t, []string{"EXAMPLE", "dummy-.*"}, a.Regexes)
	assert.False(t, a.Empty())
}

func TestLoadAllowlists_MissingFilesSkipped(t *testing.T) {
	a, err := LoadAllowlists(t.TempDir(), filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.True(t, a.Empty())

	a, err = LoadAllowlists("", "")
	require.NoError(t, err)
	assert.True(t, a.Empty())
}

func TestLoadAllowlists_InvalidTOML(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ProjectAllowlistFile), []byte("[allowlist\n"), 0o644))

	_, err := LoadAllowlists(project, "")
	assert.ErrorIs(t, err, ErrInvalidTOML)
}

func TestLoadAllowlists_InvalidPathRegex(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ProjectAllowlistFile),
		[]byte("[allowlist]\npaths = ['[z-a]']\n"), 0o644))

	_, err := LoadAllowlists(project, "")
	assert.ErrorIs(t, err, ErrInvalidRegex)
}

func TestAllowlist_MergeNil(t *testing.T) {
	var a *Allowlist
	assert.True(t, a.Empty())
	m := a.Merge(&Allowlist{Paths: []string{"x"}})
	assert.Equal(t, []string{"x"}, m.Paths)
}
