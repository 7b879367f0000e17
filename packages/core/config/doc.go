// Package config handles configuration loading and management for respec.
//
// It provides functionality for:
//   - Loading configuration from .respec.yml, .respec.yaml or .respec.json files
//   - Default configuration values
//   - Merging command-line overrides over file values
package config
