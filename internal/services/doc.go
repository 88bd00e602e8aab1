// Package services wires repochat's components together from config.
//
// Build constructs the embedding provider, vector store, model, ingestion
// pipeline, indexer, run registry and the chat session, and returns them
// behind a Registry. The HTTP server, the MCP server and the CLI commands
// all start from a Registry so they share one session.
package services
