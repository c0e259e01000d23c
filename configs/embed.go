// Package configs holds the embedded configuration templates written by
// `vitrine init` and `vitrine config init`.
//
// Templates are embedded with //go:embed so every distribution carries
// them, whether installed from source or as a release binary.
//
// Layering (see internal/config.Load):
//  1. Built-in defaults (internal/config.NewConfig)
//  2. User config (~/.config/vitrine/config.yaml)
//  3. Project config (.vitrine.yaml)
//  4. Environment variables (VITRINE_*)
package configs

import _ "embed"

// UserConfigTemplate seeds ~/.config/vitrine/config.yaml. It holds
// machine-level settings: the embedding service endpoint and logging.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate seeds .vitrine.yaml in a project root. It holds
// catalog-level settings: vector dimensions, pipeline limits, search
// defaults, and the feed directory.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
