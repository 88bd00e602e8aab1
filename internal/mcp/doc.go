// Package mcp exposes the repository session as MCP tools.
//
// The server speaks the Model Context Protocol over stdio using
// github.com/modelcontextprotocol/go-sdk/mcp. It registers three tools:
//
//   - repository_load loads a git repository by URL, replacing the current one
//   - repository_ask answers a question about the loaded repository
//   - repository_search returns the indexed chunks closest to a query
//
// Tool failures are reported to the client as tool errors, not protocol
// errors, so an agent can read the message and retry.
package mcp
