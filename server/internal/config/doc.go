// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Main fields:
//   - HTTPPort        REST API, WebSocket and /metrics port (default 8080)
//   - Auth            ingest API key (mode apikey|none, key_env, header)
//   - Stream.Interval snapshot resync period for WebSocket clients (default 5s)
//   - Storage         backend memory|sqlite|postgres, retention and cleanup cron
//   - Alerts          threshold rules plus webhook and Telegram targets
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change.
package config
