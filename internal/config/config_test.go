package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/userdir/internal/store"
	"github.com/prn-tf/userdir/internal/store/encrypted"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, store.BackendFile, cfg.Store.Backend)
	require.Equal(t, "usuariosDAO", cfg.Store.Key)
	require.Equal(t, LockMemory, cfg.Lock.Backend)
	require.Equal(t, 10, cfg.Calculator.HistorySize)
	require.Equal(t, 1000, cfg.Calculator.MaxSessions)
	require.Equal(t, 30*time.Minute, cfg.Calculator.SessionTTL)
	require.Equal(t, time.Minute, cfg.Monitor.Interval)
	require.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
store:
  backend: sqlite
  key: directorio
database:
  path: /tmp/userdir-test.db
calculator:
  history_size: 3
logging:
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, store.BackendSQLite, cfg.Store.Backend)
	require.Equal(t, "directorio", cfg.Store.Key)
	require.Equal(t, 3, cfg.Calculator.HistorySize)
	require.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("USERDIR_SERVER_PORT", "7070")
	t.Setenv("USERDIR_STORE_BACKEND", "memory")
	t.Setenv("USERDIR_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, store.BackendMemory, cfg.Store.Backend)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "tape" }, "store.backend"},
		{"empty key", func(c *Config) { c.Store.Key = "" }, "store.key"},
		{"file without dir", func(c *Config) { c.Store.Dir = "" }, "store.dir"},
		{"s3 without bucket", func(c *Config) { c.Store.Backend = store.BackendS3 }, "store.s3.bucket"},
		{"postgres without host", func(c *Config) {
			c.Store.Backend = store.BackendPostgres
			c.Database.Host = ""
		}, "database.host"},
		{"bad encryption key", func(c *Config) { c.Store.EncryptionKey = "abcd" }, "store.encryption_key"},
		{"good encryption key", func(c *Config) { c.Store.EncryptionKey = strings.Repeat("0f", 32) }, ""},
		{"bad lock backend", func(c *Config) { c.Lock.Backend = "zookeeper" }, "lock.backend"},
		{"zero history", func(c *Config) { c.Calculator.HistorySize = 0 }, "calculator.history_size"},
		{"zero sessions", func(c *Config) { c.Calculator.MaxSessions = 0 }, "calculator.max_sessions"},
		{"negative session ttl", func(c *Config) { c.Calculator.SessionTTL = -time.Second }, "calculator.session_ttl"},
		{"monitor without interval", func(c *Config) { c.Monitor.Interval = 0 }, "monitor.interval"},
		{"disabled monitor without interval", func(c *Config) {
			c.Monitor.Enabled = false
			c.Monitor.Interval = 0
		}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStoreConfig_GetEncryptionKey(t *testing.T) {
	key, err := StoreConfig{}.GetEncryptionKey()
	require.NoError(t, err)
	require.Nil(t, key)

	key, err = StoreConfig{EncryptionKey: strings.Repeat("ab", 32)}.GetEncryptionKey()
	require.NoError(t, err)
	require.Len(t, key, 32)

	_, err = StoreConfig{EncryptionKey: "not-hex"}.GetEncryptionKey()
	require.Error(t, err)

	_, err = StoreConfig{EncryptionKey: "abcd"}.GetEncryptionKey()
	require.ErrorIs(t, err, encrypted.ErrInvalidKeySize)
}

func TestMustLoad_Panics(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("USERDIR_STORE_BACKEND", "tape")

	require.Panics(t, func() { MustLoad("") })
}
