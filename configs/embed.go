// Package configs embeds the configuration template written by
// `relindex config init`.
//
// Configuration hierarchy (see internal/config Load):
//  1. Defaults (internal/config NewConfig)
//  2. User config (~/.config/relindex/config.yaml)
//  3. Project config (./relindex.yaml) or --config
//  4. Environment variables (RELINDEX_*)
package configs

import _ "embed"

// ConfigTemplate is the commented template for relindex.yaml.
//
//go:embed relindex.example.yaml
var ConfigTemplate string
