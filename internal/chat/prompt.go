package chat

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/fyrsmithlabs/repochat/internal/index"
	"github.com/fyrsmithlabs/repochat/internal/vectorstore"
)

// Prompt variables.
const (
	VarChatHistory = "chat_history"
	VarContext     = "context"
	VarQuestion    = "question"
)

// DefaultTemplate is the question-answering prompt. Retrieved chunks go in
// context, earlier turns in chat_history.
const DefaultTemplate = `You are an AI assistant helping users understand and navigate source code repositories.
Use the following context to answer the user's question.
If you don't know the answer, just say that you don't know, don't try to make up an answer.
Refer to file names where possible for code-related questions.

Chat History:
{{.chat_history}}

Context:
{{.context}}

Question: {{.question}}
Helpful Answer:`

// NewPrompt builds a prompt template over the three chat variables.
func NewPrompt(template string) prompts.PromptTemplate {
	if template == "" {
		template = DefaultTemplate
	}
	return prompts.NewPromptTemplate(template, []string{VarChatHistory, VarContext, VarQuestion})
}

// formatHistory renders the last limit turns, oldest first.
func formatHistory(history []Turn, limit int) string {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	var b strings.Builder
	for _, t := range history {
		switch t.Role {
		case RoleUser:
			b.WriteString("User: ")
		default:
			b.WriteString("Assistant: ")
		}
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatContext joins retrieved chunks, each headed by its file and chunk
// number.
func formatContext(results []vectorstore.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("File: %s (chunk %s)\n%s", r.Metadata[index.KeyFilePath], r.Metadata[index.KeyChunkNumber], r.Content)
	}
	return strings.Join(parts, "\n\n")
}
