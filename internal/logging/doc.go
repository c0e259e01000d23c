// Package logging wires slog to the vitrine data directory. Long-running
// commands (serve, mcp) write JSON logs with size-based rotation under
// <data_dir>/logs/; short-lived CLI commands log to stderr only.
//
// The mcp command never writes to stdout or stderr: stdout carries the
// JSON-RPC stream, so logs go to the file exclusively.
package logging
