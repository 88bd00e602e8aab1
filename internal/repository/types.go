package repository

import "github.com/fyrsmithlabs/repochat/internal/config"

// SourceFile is a selected file and its decoded content.
type SourceFile struct {
	// Path is the file's location on disk, including the workspace root.
	Path string

	// RelPath is Path relative to the workspace root, slash separated.
	RelPath string

	// Name is the base name.
	Name string

	// Language is the extension without the leading dot, case preserved.
	Language string

	// Content is the file text with invalid UTF-8 replaced.
	Content string
}

// DefaultExtensions returns the allow-list used when none is configured.
func DefaultExtensions() []string {
	return config.DefaultExtensions()
}

// LanguageOf returns the text after the last dot of name, or name itself
// when it has no dot.
func LanguageOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}
