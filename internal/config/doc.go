// Package config assembles run parameters from defaults, an optional TOML
// file and command-line flags, and validates them before a run starts.
package config
