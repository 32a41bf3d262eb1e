// Package config loads the server configuration: built-in defaults, then an
// optional TOML file, then OCPP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageBadger = "badger"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the server configuration. The env tags name the variables that
// override a field; list variables are separated by ';'.
type Config struct {
	// ListenAddr serves the charge point websocket endpoint.
	ListenAddr string `env:"OCPP_LISTEN_ADDR"`
	// PathPrefix is the URL path under which charge points connect as
	// <PathPrefix>/<cpid>.
	PathPrefix string `env:"OCPP_PATH_PREFIX"`
	// APIAddr serves the operator API. Empty disables it.
	APIAddr string `env:"OCPP_API_ADDR"`

	// Subprotocols overrides the OCPP versions offered during the handshake.
	// Empty means every version with registered schemas.
	Subprotocols []string `env:"OCPP_SUBPROTOCOLS"`
	// CallTimeout bounds outbound CALLs. Zero disables the engine timeout;
	// operator API requests then fall back to the API's own 60s deadline.
	CallTimeout       time.Duration `env:"OCPP_CALL_TIMEOUT"`
	PingInterval      time.Duration `env:"OCPP_PING_INTERVAL"`
	HeartbeatInterval time.Duration `env:"OCPP_HEARTBEAT_INTERVAL"`

	Storage          string `env:"OCPP_STORAGE"`
	MemoryMaxItems   int    `env:"OCPP_MEMORY_MAX_ITEMS"`
	RedisAddr        string `env:"OCPP_REDIS_ADDR"`
	RedisKeyPrefix   string `env:"OCPP_REDIS_KEY_PREFIX"`
	BadgerDir        string `env:"OCPP_BADGER_DIR"`
	LogLevel         string `env:"OCPP_LOG_LEVEL"`
	SchemaDir        string `env:"OCPP_SCHEMA_DIR"`
	SchemaDirVersion string `env:"OCPP_SCHEMA_DIR_VERSION"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:        ":9000",
		PathPrefix:        "/ocpp",
		APIAddr:           ":9001",
		CallTimeout:       30 * time.Second,
		PingInterval:      30 * time.Second,
		HeartbeatInterval: 5 * time.Minute,
		Storage:           StorageMemory,
		MemoryMaxItems:    10000,
		RedisAddr:         "localhost:6379",
		RedisKeyPrefix:    "ocpp:storage:",
		LogLevel:          "info",
		SchemaDirVersion:  "ocpp1.6",
	}
}

type fileConfig struct {
	ListenAddr        string   `toml:"listen_addr"`
	PathPrefix        string   `toml:"path_prefix"`
	APIAddr           string   `toml:"api_addr"`
	Subprotocols      []string `toml:"subprotocols"`
	CallTimeout       string   `toml:"call_timeout"`
	PingInterval      string   `toml:"ping_interval"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	Log               struct {
		Level string `toml:"level"`
	} `toml:"log"`
	Storage struct {
		Backend string `toml:"backend"`
		Memory  struct {
			MaxItems int `toml:"max_items"`
		} `toml:"memory"`
		Redis struct {
			Addr      string `toml:"addr"`
			KeyPrefix string `toml:"key_prefix"`
		} `toml:"redis"`
		Badger struct {
			Dir string `toml:"dir"`
		} `toml:"badger"`
	} `toml:"storage"`
	Schemas struct {
		Dir     string `toml:"dir"`
		Version string `toml:"version"`
	} `toml:"schemas"`
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("load config from environment: %w", err)
	}
	cfg.Subprotocols = normalizeList(cfg.Subprotocols)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	setString := func(key string, dst *string, v string) {
		if meta.IsDefined(strings.Split(key, ".")...) {
			*dst = strings.TrimSpace(v)
		}
	}
	setDuration := func(key string, dst *time.Duration, v string) error {
		if !meta.IsDefined(strings.Split(key, ".")...) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, key, err)
		}
		*dst = d
		return nil
	}

	setString("listen_addr", &cfg.ListenAddr, raw.ListenAddr)
	setString("path_prefix", &cfg.PathPrefix, raw.PathPrefix)
	setString("api_addr", &cfg.APIAddr, raw.APIAddr)
	setString("log.level", &cfg.LogLevel, raw.Log.Level)
	setString("storage.backend", &cfg.Storage, raw.Storage.Backend)
	setString("storage.redis.addr", &cfg.RedisAddr, raw.Storage.Redis.Addr)
	setString("storage.redis.key_prefix", &cfg.RedisKeyPrefix, raw.Storage.Redis.KeyPrefix)
	setString("storage.badger.dir", &cfg.BadgerDir, raw.Storage.Badger.Dir)
	setString("schemas.dir", &cfg.SchemaDir, raw.Schemas.Dir)
	setString("schemas.version", &cfg.SchemaDirVersion, raw.Schemas.Version)

	if meta.IsDefined("subprotocols") {
		cfg.Subprotocols = raw.Subprotocols
	}
	if meta.IsDefined("storage", "memory", "max_items") {
		cfg.MemoryMaxItems = raw.Storage.Memory.MaxItems
	}

	if err := setDuration("call_timeout", &cfg.CallTimeout, raw.CallTimeout); err != nil {
		return err
	}
	if err := setDuration("ping_interval", &cfg.PingInterval, raw.PingInterval); err != nil {
		return err
	}
	return setDuration("heartbeat_interval", &cfg.HeartbeatInterval, raw.HeartbeatInterval)
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}
	if c.PathPrefix != "" && !strings.HasPrefix(c.PathPrefix, "/") {
		return fmt.Errorf("%w: path prefix %q must start with /", ErrInvalidConfig, c.PathPrefix)
	}
	if c.CallTimeout < 0 || c.PingInterval < 0 || c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: durations must not be negative and heartbeat interval must be set", ErrInvalidConfig)
	}
	switch c.Storage {
	case StorageMemory:
		if c.MemoryMaxItems <= 0 {
			return fmt.Errorf("%w: memory storage needs a positive max_items", ErrInvalidConfig)
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis storage needs an address", ErrInvalidConfig)
		}
	case StorageBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("%w: badger storage needs a directory", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.SchemaDir != "" {
		if fi, err := os.Stat(c.SchemaDir); err != nil || !fi.IsDir() {
			return fmt.Errorf("%w: schema dir %q is not a directory", ErrInvalidConfig, c.SchemaDir)
		}
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q: %w", ErrInvalidConfig, c.LogLevel, err)
	}
	return lvl, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
