// Package config loads the daemon's TOML configuration.
//
// # Overview
//
// Configuration is layered: built-in defaults, then the TOML file, then
// environment variables for secrets (PULSE_WEBHOOK_SECRET,
// X_BEARER_TOKEN and the provider API keys). File values win over the
// environment so operators can pin a value explicitly. Watch reloads
// the file on change, debounced, which is how live log-level changes
// reach a running daemon.
package config
