// Package engine wires the library components into the operations exposed by
// every boundary adapter: ingestion, cited question answering, document
// management, provider configuration and health reporting.
//
// An Engine is constructed explicitly, either from configuration with Open
// or from prebuilt components with New. It holds no global state; the HTTP
// server, the MCP server, the inbox watcher and the CLI all share one.
package engine
