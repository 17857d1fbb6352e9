// Package configs embeds the configuration templates written by
// `amanrag config init`.
//
// Configuration layers (see internal/config Load):
//  1. Defaults (config.NewConfig)
//  2. User config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml)
//  4. Environment variables (AMANRAG_*)
package configs

import _ "embed"

// UserConfigTemplate is written to the user config path. It holds
// machine-level settings: embedder host, reranker endpoint, data dir.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written to .amanrag.yaml. It holds settings
// that travel with a corpus: weights, timeouts, graph depth.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// Template returns the template for scope "user" or "project".
func Template(scope string) (string, bool) {
	switch scope {
	case "user":
		return UserConfigTemplate, true
	case "project":
		return ProjectConfigTemplate, true
	default:
		return "", false
	}
}
