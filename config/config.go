package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Config represents the complete node configuration.
type Config struct {
	Port                       int            `json:"port"`
	Peers                      []string       `json:"peers"`
	PeerPorts                  map[string]int `json:"peer_ports"`
	Signals                    SignalsConfig  `json:"signals"`
	BufferConfig               BufferConfig   `json:"buffer_config"`
	StatsAggregationIntervalMs int64          `json:"stats_aggregation_interval_ms"`
}

// SignalsConfig carries the signal-type whitelist used by the tumbler.
type SignalsConfig struct {
	Incoming []string `json:"incoming"` // hex strings, e.g. "0x50"
	Outgoing []string `json:"outgoing"`
}

// BufferConfig controls the offline buffer manager's capacity and retry policy.
type BufferConfig struct {
	MaxSize          int     `json:"max_size"`
	TTLHours         int     `json:"ttl_hours"`
	RetryIntervalsMs []int64 `json:"retry_intervals_ms"`
}

// SafeConfig provides thread-safe access to configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration via JSON round-trip.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// Validate checks structural and semantic invariants of the configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", c.Port)
	}

	seenPeers := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		if p == "" {
			return errors.New("peer name cannot be empty")
		}
		if seenPeers[p] {
			return fmt.Errorf("duplicate peer name: %s", p)
		}
		seenPeers[p] = true
	}

	for name, port := range c.PeerPorts {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("peer_ports[%s] must be in range 1-65535, got %d", name, port)
		}
	}

	for _, hx := range c.Signals.Incoming {
		if _, err := parseSignalHex(hx); err != nil {
			return fmt.Errorf("signals.incoming: %w", err)
		}
	}
	for _, hx := range c.Signals.Outgoing {
		if _, err := parseSignalHex(hx); err != nil {
			return fmt.Errorf("signals.outgoing: %w", err)
		}
	}

	if c.BufferConfig.MaxSize < 0 {
		return errors.New("buffer_config.max_size cannot be negative")
	}
	if c.BufferConfig.TTLHours < 0 {
		return errors.New("buffer_config.ttl_hours cannot be negative")
	}
	for i, ms := range c.BufferConfig.RetryIntervalsMs {
		if ms < 0 {
			return fmt.Errorf("buffer_config.retry_intervals_ms[%d] cannot be negative", i)
		}
	}

	if c.StatsAggregationIntervalMs <= 0 {
		return errors.New("stats_aggregation_interval_ms must be positive")
	}

	return nil
}

// parseSignalHex parses a "0x.." hex-string signal type into its uint16 value.
func parseSignalHex(s string) (uint16, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(trimmed, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid signal type hex string %q: %w", s, err)
	}
	return uint16(v), nil
}

// IncomingSignalTypes returns the parsed incoming signal-type whitelist.
func (c *Config) IncomingSignalTypes() ([]uint16, error) {
	return parseSignalList(c.Signals.Incoming)
}

// OutgoingSignalTypes returns the parsed outgoing signal-type whitelist.
func (c *Config) OutgoingSignalTypes() ([]uint16, error) {
	return parseSignalList(c.Signals.Outgoing)
}

func parseSignalList(hexStrings []string) ([]uint16, error) {
	out := make([]uint16, 0, len(hexStrings))
	for _, hx := range hexStrings {
		v, err := parseSignalHex(hx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// SortedPeers returns the peer list sorted for deterministic iteration
// (e.g. the heartbeat ticker's per-tick fan-out order).
func (c *Config) SortedPeers() []string {
	out := make([]string, len(c.Peers))
	copy(out, c.Peers)
	sort.Strings(out)
	return out
}

// Loader handles configuration loading with layered defaults, file, and
// environment overrides, plus optional schema validation.
type Loader struct {
	layers     []string
	validation bool
	schema     string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "SYNAPSE_RELAY",
	}
}

// AddLayer adds a configuration file layer.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// EnableSchemaValidation enables gojsonschema validation of each loaded file
// layer against the given JSON schema document (as raw bytes).
func (l *Loader) EnableSchemaValidation(schemaJSON string) {
	l.schema = schemaJSON
}

// LoadFile loads configuration from a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers.
func (l *Loader) Load() (*Config, error) {
	cfg := l.getDefaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getDefaults returns the default configuration (absent config file).
func (l *Loader) getDefaults() *Config {
	return &Config{
		Port:      3025,
		Peers:     []string{},
		PeerPorts: map[string]int{},
		Signals: SignalsConfig{
			Incoming: []string{},
			Outgoing: []string{},
		},
		BufferConfig: BufferConfig{
			MaxSize:          10000,
			TTLHours:         24,
			RetryIntervalsMs: []int64{1000, 5000, 15000},
		},
		StatsAggregationIntervalMs: 60000,
	}
}

// loadRawJSON loads one configuration layer as a map, with path safety
// checks, size limits, depth limits, and optional schema validation.
// Despite the name, it also accepts ".yaml"/".yml" layers: YAML is
// convenience-equivalent to JSON in this format and is unmarshaled into
// the same map[string]any shape before merging.
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if isYAMLPath(path) {
		var rawConfig map[string]any
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("invalid YAML structure: %w", err)
		}
		return rawConfig, nil
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	if l.schema != "" {
		if err := validateAgainstSchema(l.schema, data); err != nil {
			return nil, fmt.Errorf("schema validation failed: %w", err)
		}
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	return rawConfig, nil
}

// isYAMLPath reports whether path names a YAML config layer rather than
// a JSON one.
func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// validateAgainstSchema validates document bytes against a JSON schema
// document, both supplied as raw JSON.
func validateAgainstSchema(schemaJSON string, document []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var sb strings.Builder
		for i, e := range result.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return fmt.Errorf("%s", sb.String())
	}

	return nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields
// present in the map.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := l.deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Port = port
		}
	}
	if val := os.Getenv(l.envPrefix + "_PEERS"); val != "" {
		cfg.Peers = strings.Split(val, ",")
	}
	if val := os.Getenv(l.envPrefix + "_STATS_INTERVAL_MS"); val != "" {
		if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.StatsAggregationIntervalMs = ms
		}
	}
}

// SaveToFile saves the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}
