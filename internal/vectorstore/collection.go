package vectorstore

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/fyrsmithlabs/repochat/internal/workspace"
)

const (
	collectionPrefix = "repo_"
	hashLen          = 12
	maxLabelLen      = 64 - len(collectionPrefix) - 1 - hashLen
)

// CollectionName derives a stable collection name for a repository URL:
// "repo_" + a lowercased label + "_" + 12 hex chars of the URL's sha256.
// The URL is trimmed and stripped of a trailing "/" or ".git" first, so
// equivalent spellings share a collection.
func CollectionName(url string) string {
	normalized := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(url), "/"), ".git")
	sum := sha256.Sum256([]byte(normalized))

	var b strings.Builder
	for _, r := range strings.ToLower(workspace.LabelFromURL(normalized)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	label := strings.Trim(b.String(), "_")
	if len(label) > maxLabelLen {
		label = label[:maxLabelLen]
	}
	if label == "" {
		label = "repo"
	}
	return collectionPrefix + label + "_" + hex.EncodeToString(sum[:])[:hashLen]
}
