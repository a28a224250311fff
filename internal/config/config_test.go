package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 6, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 1000, cfg.Dispatcher.InitialDelayMs)
	assert.Equal(t, 60000, cfg.Dispatcher.MaxDelayMs)
	assert.Equal(t, 60, cfg.Quotes.SweepIntervalS)
	assert.Equal(t, 3600, cfg.Compliance.VelocityWindowS)
	assert.Equal(t, time.Hour, cfg.Compliance.VelocityWindow())
	assert.False(t, cfg.Database.Enable)
	assert.False(t, cfg.Redis.Enable)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  env: production
auth:
  jwt_secret: supersecret
  api_keys:
    - client_id: acme
      key: key-acme
      secret_hash: $2a$10$abcdefghijklmnopqrstuv
      scopes: [payments:write, quotes:read]
database:
  enable: true
  host: db.internal
  user: core
  password: pw
  name: crossborder
redis:
  enable: true
  url: redis://cache:6379/1
dispatcher:
  max_retries: 3
compliance:
  velocity_window_s: 1800
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format) // production default
	require.Len(t, cfg.Auth.APIKeys, 1)
	assert.Equal(t, "acme", cfg.Auth.APIKeys[0].ClientID)
	assert.Equal(t, 3, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 30000, cfg.Dispatcher.TimeoutMs)
	assert.Equal(t, 30*time.Minute, cfg.Compliance.VelocityWindow())
	assert.Contains(t, cfg.Database.DSN(), "core:pw@tcp(db.internal:3306)/crossborder")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "server:\n  prot: 9090\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad port":          "server:\n  port: 123456\n",
		"bad level":         "logging:\n  level: loud\n",
		"keys need secret":  "auth:\n  api_keys:\n    - client_id: a\n      key: k\n",
		"db needs name":     "database:\n  enable: true\n",
		"key needs id":      "auth:\n  jwt_secret: s\n  api_keys:\n    - key: k\n",
		"negative window":   "compliance:\n  velocity_window_s: -1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}
