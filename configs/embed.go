// Package configs embeds the configuration templates written by
// `amanembed config init`.
//
// Layers, lowest first (see internal/config Load):
//  1. defaults (internal/config NewConfig)
//  2. user config (~/.config/amanembed/config.yaml)
//  3. project config (.amanembed.yaml)
//  4. .env in the project root
//  5. AMANEMBED_* environment variables
package configs

import _ "embed"

// UserConfigTemplate holds machine-wide settings: provider, host, logging.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate holds settings versioned with a project: paths,
// search tuning, batch sizes.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
