// Package config loads, validates, and normalizes the TOML configuration
// shared by the daemon and CLI.
package config
