package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ocpp.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, lvl)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
listen_addr = "127.0.0.1:8180"
subprotocols = ["OCPP1.6", " ocpp2.0.1 "]
call_timeout = "5s"
heartbeat_interval = "1m"

[log]
level = "debug"

[storage]
backend = "badger"

[storage.badger]
dir = "/var/lib/ocpp"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:8180", cfg.ListenAddr)
	require.Equal(t, []string{"ocpp1.6", "ocpp2.0.1"}, cfg.Subprotocols)
	require.Equal(t, 5*time.Second, cfg.CallTimeout)
	require.Equal(t, time.Minute, cfg.HeartbeatInterval)
	require.Equal(t, StorageBadger, cfg.Storage)
	require.Equal(t, "/var/lib/ocpp", cfg.BadgerDir)
	require.Equal(t, "debug", cfg.LogLevel)

	// Keys absent from the file keep their defaults.
	require.Equal(t, Default().APIAddr, cfg.APIAddr)
	require.Equal(t, Default().PingInterval, cfg.PingInterval)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, `
api_addr = ":7000"
call_timeout = "5s"
`)
	t.Setenv("OCPP_API_ADDR", ":7001")
	t.Setenv("OCPP_CALL_TIMEOUT", "2s")
	t.Setenv("OCPP_SUBPROTOCOLS", "ocpp1.6;OCPP2.0.1")
	t.Setenv("OCPP_STORAGE", "redis")
	t.Setenv("OCPP_REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7001", cfg.APIAddr)
	require.Equal(t, 2*time.Second, cfg.CallTimeout)
	require.Equal(t, []string{"ocpp1.6", "ocpp2.0.1"}, cfg.Subprotocols)
	require.Equal(t, StorageRedis, cfg.Storage)
	require.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad duration", body: `ping_interval = "often"`},
		{name: "unknown key", body: `listen = ":9000"`},
		{name: "unknown backend", body: "[storage]\nbackend = \"etcd\""},
		{name: "badger without dir", body: "[storage]\nbackend = \"badger\""},
		{name: "bad log level", body: "[log]\nlevel = \"loud\""},
		{name: "relative prefix", body: `path_prefix = "ocpp"`},
		{name: "zero heartbeat", body: `heartbeat_interval = "0s"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestSchemaDirMustExist(t *testing.T) {
	t.Setenv("OCPP_SCHEMA_DIR", filepath.Join(t.TempDir(), "nope"))
	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("OCPP_SCHEMA_DIR", t.TempDir())
	_, err = Load("")
	require.NoError(t, err)
}
