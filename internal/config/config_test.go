package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk.org/internal/ratelimit"
)

func envMap(kv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := kv[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, EnvDev, cfg.Environment)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, devSecret, cfg.Auth.Secret)
	assert.Equal(t, ratelimit.Config{Window: 15 * time.Minute, MaxRequests: 5}, cfg.RateLimit.Limiters[ratelimit.Auth])
	assert.Contains(t, cfg.RateLimit.Limiters, ratelimit.API)
	assert.Contains(t, cfg.RateLimit.Limiters, ratelimit.Tickets)
	assert.Equal(t, "log", cfg.Notify.Mailer)
	assert.False(t, cfg.Notify.Deferred)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helpdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":7000"
log:
  level: debug
rate_limit:
  limiters:
    api:
      window: 1m
      max_requests: 60
notify:
  deferred: true
`), 0o600))

	cfg, err := Load(
		[]string{"--config", path, "--http-addr", ":9000"},
		envMap(map[string]string{
			"HELPDESK_LOG_LEVEL":       "warn",
			"HELPDESK_HTTP_ADDR":       ":8000",
			"HELPDESK_RATE_LIMIT_AUTH": "3/10m",
			"HELPDESK_ALLOWED_ORIGINS": "https://a.example, https://b.example",
			"HELPDESK_NOTIFY_DEFERRED": "false",
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr, "flag beats env and file")
	assert.Equal(t, "warn", cfg.Log.Level, "env beats file")
	assert.False(t, cfg.Notify.Deferred, "env beats file")
	assert.Equal(t, ratelimit.Config{Window: time.Minute, MaxRequests: 60}, cfg.RateLimit.Limiters[ratelimit.API])
	assert.Equal(t, ratelimit.Config{Window: 10 * time.Minute, MaxRequests: 3}, cfg.RateLimit.Limiters[ratelimit.Auth])
	assert.Equal(t, ratelimit.Config{Window: time.Hour, MaxRequests: 10}, cfg.RateLimit.Limiters[ratelimit.Tickets], "untouched default kept")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"prod without secret", []string{"--env", "prod"}, nil},
		{"prod short secret", []string{"--env", "prod"}, map[string]string{"HELPDESK_JWT_SECRET": "short"}},
		{"unknown env", []string{"--env", "staging"}, nil},
		{"bad limiter env", nil, map[string]string{"HELPDESK_RATE_LIMIT_API": "lots"}},
		{"zero limiter", nil, map[string]string{"HELPDESK_RATE_LIMIT_API": "0/1m"}},
		{"unknown backend", []string{"--rate-limit-backend", "etcd"}, nil},
		{"smtp without host", []string{"--mailer", "smtp"}, nil},
		{"amqp without url", []string{"--mailer", "amqp"}, nil},
		{"bad bool", nil, map[string]string{"HELPDESK_NOTIFY_DEFERRED": "maybe"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.args, envMap(tc.env))
			assert.Error(t, err)
		})
	}
}

func TestLoadProdSecret(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	cfg, err := Load([]string{"--env", "prod"}, envMap(map[string]string{"HELPDESK_JWT_SECRET": secret}))
	require.NoError(t, err)
	assert.Equal(t, secret, cfg.Auth.Secret)
	assert.False(t, cfg.IsDev())
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"--help"}, envMap(nil))
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}, envMap(nil))
	assert.Error(t, err)
}
