// Package config provides configuration management for the relay node.
//
// This package handles loading, validation, and thread-safe access to node
// configuration from JSON files and environment variables.
//
// # Core Components
//
// Config: node configuration — listen port, peer name/port map, the
// incoming/outgoing signal-type whitelist, the offline buffer's capacity
// and retry policy, and the stats rollup interval.
//
// SafeConfig: thread-safe wrapper using RWMutex and deep cloning to prevent
// concurrent access issues and accidental mutations.
//
// Loader: loads configuration with layer merging (base + overrides),
// environment variable overrides, and optional gojsonschema validation.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.json")
//	loader.AddLayer("config/production.json") // overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Absent a config file, Load returns the defaults: port 3025, empty peer
// list, a 10000-row/24h buffer with retry intervals [1s, 5s, 15s], and a
// 60-second stats rollup tick.
//
// # Thread-Safe Access
//
//	safeConfig := config.NewSafeConfig(cfg)
//
//	current := safeConfig.Get() // deep copy, safe to use
//
//	updated := current.Clone()
//	updated.Peers = append(updated.Peers, "relay-west")
//	if err := safeConfig.Update(updated); err != nil {
//		log.Printf("rejected config update: %v", err)
//	}
//
// # Environment Variable Overrides
//
//	export SYNAPSE_RELAY_PORT="3026"
//	export SYNAPSE_RELAY_PEERS="relay-east,relay-west"
//	export SYNAPSE_RELAY_STATS_INTERVAL_MS="30000"
//
// # Schema Validation
//
// A JSON schema document can be supplied to validate loaded JSON config
// files before they are merged, via Loader.EnableSchemaValidation. YAML
// layers are merged without schema or depth validation. Violations are
// surfaced as a single aggregated error naming each failing field.
//
// # Security
//
// The package validates config files before reading them:
//   - file size limits (10MB max) to prevent memory exhaustion
//   - JSON depth validation (100 levels max) to prevent DoS attacks
//   - path validation to prevent directory traversal
//   - regular file checks (no symlinks or device files)
package config
