// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent} - full config tree parsed from YAML
//   - AgentConfig - collector_url, subject_id, data_dir, tracking, transport,
//     queue, connectivity, position, status
//   - TrackingConfig - interval, min_distance_m, accuracy_ceiling_m
//   - AuthConfig - mode (mtls|apikey|bearer|basic|jwt|none); Key(), Token(),
//     Password() and Secret() resolve from environment variables
//
// Load(path) reads the YAML file, applies defaults (30s interval, 10m
// distance, 40m accuracy ceiling, 10s send timeout, sqlite queue), validates
// required fields and enums, then clamps tracking settings to 5s–300s and
// 5–200m.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create pattern
// used by atomic-save editors (vim, VS Code) by re-adding the watch after
// a rename event.
package config
