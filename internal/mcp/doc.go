// Package mcp exposes the library to MCP clients over stdio.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers tools that call the engine directly: library_query,
// library_search_term, library_documents and library_summary. Tool
// invocations are instrumented with OpenTelemetry metrics.
package mcp
