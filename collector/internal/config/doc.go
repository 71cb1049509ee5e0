// Package config loads the collector configuration from the `collector:`
// section of config.yaml (the `agent:` key is ignored by the collector binary).
//
// Config fields:
//   - HTTPPort    - port for the ingest endpoint and query API (default 8000)
//   - Auth.Mode   - "apikey" or "none"
//   - Auth.KeyEnv - environment variable holding the expected API key
//   - Auth.Header - HTTP header name (default "X-API-Key")
//   - Retention   - how long accepted samples are kept in memory (default 24h)
//   - Users       - tracker users served by GET /api/tracker-users
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
