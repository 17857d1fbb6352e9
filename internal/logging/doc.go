// Package logging configures slog for amanrag.
//
// CLI commands log text to stderr. Servers log JSON to a rotating file under
// ~/.amanrag/logs/ so that `amanrag logs` can tail and filter them. In stdio
// MCP mode nothing is written to stderr or stdout.
package logging
