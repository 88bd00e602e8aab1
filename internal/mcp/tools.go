package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/chat"
)

const maxSearchK = 50

var errInvalidArgument = errors.New("invalid argument")

type repositoryLoadInput struct {
	URL string `json:"url" jsonschema:"Git URL of the repository to load, e.g. https://github.com/owner/repo.git"`
}

type repositoryLoadOutput struct {
	URL        string `json:"url" jsonschema:"Repository URL"`
	Collection string `json:"collection" jsonschema:"Index collection holding the chunks"`
	Files      int    `json:"files" jsonschema:"Files read"`
	Chunks     int    `json:"chunks" jsonschema:"Chunks indexed"`
	Skipped    int    `json:"skipped" jsonschema:"Matching files that could not be read"`
	Redacted   int    `json:"redacted" jsonschema:"Chunks with secrets redacted"`
	Revision   string `json:"revision,omitempty" jsonschema:"Checked out commit"`
}

type repositoryAskInput struct {
	Question string `json:"question" jsonschema:"Question about the loaded repository"`
}

type repositoryAskOutput struct {
	Answer  string        `json:"answer" jsonschema:"Generated answer"`
	Sources []chat.Source `json:"sources" jsonschema:"Chunks the answer was grounded on"`
}

type repositorySearchInput struct {
	Query string `json:"query" jsonschema:"Text to search the loaded repository for"`
	K     int    `json:"k,omitempty" jsonschema:"Maximum chunks to return (default: the configured top_k, at most 50)"`
}

type repositorySearchOutput struct {
	Sources []chat.Source `json:"sources" jsonschema:"Closest chunks, best first"`
	Count   int           `json:"count" jsonschema:"Number of chunks returned"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repository_load",
		Description: "Clone a git repository, index its source files and make it the repository that repository_ask and repository_search work on. Replaces any previously loaded repository and clears the conversation.",
	}, s.handleLoad)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repository_ask",
		Description: "Answer a question about the loaded repository using its most relevant source chunks and the conversation so far.",
	}, s.handleAsk)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repository_search",
		Description: "Return the source chunks of the loaded repository closest to a query, without generating an answer.",
	}, s.handleSearch)
}

// instrument records metrics around one tool call.
func (s *Server) instrument(ctx context.Context, tool string) func(error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	return func(err error) {
		s.metrics.DecrementActive(ctx, tool)
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
		if err != nil {
			s.logger.Warn(ctx, "tool call failed", zap.String("tool", tool), zap.Error(err))
		}
	}
}

func (s *Server) handleLoad(ctx context.Context, _ *mcp.CallToolRequest, args repositoryLoadInput) (res *mcp.CallToolResult, out repositoryLoadOutput, err error) {
	done := s.instrument(ctx, "repository_load")
	defer func() { done(err) }()

	if strings.TrimSpace(args.URL) == "" {
		return nil, out, fmt.Errorf("%w: url is required", errInvalidArgument)
	}
	loaded, err := s.session.Load(ctx, args.URL)
	if err != nil {
		return nil, out, err
	}

	out = repositoryLoadOutput{
		URL:        loaded.URL,
		Collection: loaded.Collection,
		Files:      loaded.Files,
		Chunks:     loaded.Chunks,
		Skipped:    loaded.Skipped,
		Redacted:   loaded.Redacted,
		Revision:   loaded.Revision,
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Loaded %s: %d files, %d chunks indexed.", out.URL, out.Files, out.Chunks)},
		},
	}, out, nil
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, args repositoryAskInput) (res *mcp.CallToolResult, out repositoryAskOutput, err error) {
	done := s.instrument(ctx, "repository_ask")
	defer func() { done(err) }()

	answer, err := s.session.Ask(ctx, args.Question)
	if err != nil {
		return nil, out, err
	}
	out = repositoryAskOutput{Answer: answer.Text, Sources: answer.Sources}
	if out.Sources == nil {
		out.Sources = []chat.Source{}
	}

	var b strings.Builder
	b.WriteString(answer.Text)
	if len(answer.Sources) > 0 {
		b.WriteString("\n\nSources:")
		for _, src := range answer.Sources {
			fmt.Fprintf(&b, "\n- %s (chunk %d)", src.FilePath, src.ChunkNumber)
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
	}, out, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, args repositorySearchInput) (res *mcp.CallToolResult, out repositorySearchOutput, err error) {
	done := s.instrument(ctx, "repository_search")
	defer func() { done(err) }()

	if args.K < 0 || args.K > maxSearchK {
		return nil, out, fmt.Errorf("%w: k must be between 0 and %d", errInvalidArgument, maxSearchK)
	}
	sources, err := s.session.Search(ctx, args.Query, args.K)
	if err != nil {
		return nil, out, err
	}
	if sources == nil {
		sources = []chat.Source{}
	}
	out = repositorySearchOutput{Sources: sources, Count: len(sources)}

	var b strings.Builder
	fmt.Fprintf(&b, "%d chunks found.", out.Count)
	for _, src := range sources {
		fmt.Fprintf(&b, "\n\n%s (chunk %d, score %.3f)\n%s", src.FilePath, src.ChunkNumber, src.Score, src.Snippet)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
	}, out, nil
}
