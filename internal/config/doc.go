// Package config loads gateway configuration from YAML with ${VAR}
// expansion and environment-variable overrides.
package config
