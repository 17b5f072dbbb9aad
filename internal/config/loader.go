package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from environment variables. Tests can override
// Lookup to inject deterministic maps.
type Loader struct {
	Lookup func(string) (string, bool)
}

// Load retrieves the configuration and validates it.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := Config{
		ListenAddr: DefaultListenAddr,
	}

	if path, ok := l.Lookup("VOXTRAL_CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		if err := applyFile(strings.TrimSpace(path), &cfg); err != nil {
			return Config{}, err
		}
	}

	if raw, ok := l.Lookup("NUPI_MODULE_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		if err := applyJSON(raw, &cfg); err != nil {
			return Config{}, err
		}
	}

	overrideString(l.Lookup, "NUPI_ADAPTER_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "NUPI_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "VOXTRAL_WS_ADDR", &cfg.WSAddr)
	overrideString(l.Lookup, "VOXTRAL_MODEL_DIR", &cfg.ModelDir)

	if err := overrideBool(l.Lookup, "VOXTRAL_USE_STUB_ENGINE", func(v bool) { cfg.UseStubEngine = v }); err != nil {
		return Config{}, err
	}
	if err := overrideBool(l.Lookup, "VOXTRAL_USE_ACCEL", func(v bool) { cfg.UseAccel = &v }); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(l.Lookup, "VOXTRAL_PROCESSING_INTERVAL", &cfg.ProcessingInterval); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(l.Lookup, "VOXTRAL_RING_SECONDS", &cfg.RingCapacity); err != nil {
		return Config{}, err
	}
	if value, ok := lookupTrimmed(l.Lookup, "VOXTRAL_MAX_SESSIONS"); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("config: VOXTRAL_MAX_SESSIONS: %w", err)
		}
		cfg.MaxSessions = n
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// payload is the shape shared by the YAML file and the JSON payload.
// Durations are either Go duration strings or plain seconds.
type payload struct {
	ListenAddr         string   `yaml:"listen_addr" json:"listen_addr"`
	WSAddr             string   `yaml:"ws_addr" json:"ws_addr"`
	LogLevel           string   `yaml:"log_level" json:"log_level"`
	ModelDir           string   `yaml:"model_dir" json:"model_dir"`
	UseStubEngine      *bool    `yaml:"use_stub_engine" json:"use_stub_engine"`
	UseAccel           *bool    `yaml:"use_accel" json:"use_accel"`
	ProcessingInterval *seconds `yaml:"processing_interval" json:"processing_interval"`
	RingSeconds        *seconds `yaml:"ring_seconds" json:"ring_seconds"`
	MaxSessions        *int     `yaml:"max_sessions" json:"max_sessions"`
}

func applyFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var p payload
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	p.apply(cfg)
	return nil
}

func applyJSON(raw string, cfg *Config) error {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("config: decode NUPI_MODULE_CONFIG: %w", err)
	}
	p.apply(cfg)
	return nil
}

func (p payload) apply(cfg *Config) {
	if p.ListenAddr != "" {
		cfg.ListenAddr = p.ListenAddr
	}
	if p.WSAddr != "" {
		cfg.WSAddr = p.WSAddr
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if p.ModelDir != "" {
		cfg.ModelDir = p.ModelDir
	}
	if p.UseStubEngine != nil {
		cfg.UseStubEngine = *p.UseStubEngine
	}
	if p.UseAccel != nil {
		v := *p.UseAccel
		cfg.UseAccel = &v
	}
	if p.ProcessingInterval != nil {
		cfg.ProcessingInterval = time.Duration(*p.ProcessingInterval)
	}
	if p.RingSeconds != nil {
		cfg.RingCapacity = time.Duration(*p.RingSeconds)
	}
	if p.MaxSessions != nil {
		cfg.MaxSessions = *p.MaxSessions
	}
}

// seconds decodes either a number of seconds or a duration string.
type seconds time.Duration

func (s *seconds) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		return s.parse(str)
	}
	return s.parse(string(b))
}

func (s *seconds) UnmarshalYAML(node *yaml.Node) error {
	return s.parse(node.Value)
}

func (s *seconds) parse(value string) error {
	d, err := ParseDuration(value)
	if err != nil {
		return err
	}
	*s = seconds(d)
	return nil
}

// ParseDuration accepts Go duration strings ("500ms") and plain seconds
// ("0.5").
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return d, nil
}

func lookupTrimmed(lookup func(string) (string, bool), key string) (string, bool) {
	if lookup == nil {
		return "", false
	}
	value, ok := lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if target == nil {
		return
	}
	if value, ok := lookupTrimmed(lookup, key); ok {
		*target = value
	}
}

func overrideBool(lookup func(string) (string, bool), key string, set func(bool)) error {
	value, ok := lookupTrimmed(lookup, key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	set(b)
	return nil
}

func overrideDuration(lookup func(string) (string, bool), key string, target *time.Duration) error {
	value, ok := lookupTrimmed(lookup, key)
	if !ok {
		return nil
	}
	d, err := ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = d
	return nil
}
