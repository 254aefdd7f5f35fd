// Package config loads and watches the agent configuration file (agent.yaml).
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: tracking id, collector_url, batching and flush settings,
//     store path and compression, quiet mode, admin port, app, collector_auth, tls
//   - AppConfig: name, id, version, build, screen_resolution of the host app
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, username, password_env; Key(), Token() and
//     Password() resolve secrets from environment variables
//
// Load(path) reads the YAML file, applies defaults (collector
// https://www.google-analytics.com/, batch 20, flush 20s, ceiling 40,
// upload timeout 10s, quiet on), then validates struct tags with
// go-playground/validator plus cross-field rules. A missing tracking id is
// ErrMissingTrackingID so the daemon refuses to start rather than send
// hits the collector would drop.
//
// Watch(ctx, path, logger, onChange) uses fsnotify on the parent directory
// and debounces bursts of events before reloading.
package config
