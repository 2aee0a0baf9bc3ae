package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "localhost:8000", cfg.ServerAddr)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, BackendRedis, cfg.PresenceBackend)
	assert.Equal(t, "omni-moderation-latest", cfg.ModerationModel)
	assert.Equal(t, 100, cfg.RateLimitMessages)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Zero(t, cfg.PresenceTTL)
	assert.Zero(t, cfg.StoreTimeout)
	assert.Zero(t, cfg.ModerationTimeout)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Empty(t, cfg.BlockedWords)

	assert.NoError(t, cfg.Validate(), "expected defaults to be valid")
	assert.Nil(t, cfg.SigningKey)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"ADDR":                ":9000",
		"PRESENCE_BACKEND":    "badger",
		"BADGER_PATH":         "/var/lib/chat",
		"ALLOWED_ORIGINS":     "http://localhost:3000,https://chat.example.com",
		"BLOCKED_WORDS":       "spam,scam",
		"RATE_LIMIT_MESSAGES": "10",
		"RATE_LIMIT_WINDOW":   "30s",
		"PRESENCE_TTL":        "5m",
		"STORE_TIMEOUT":       "2s",
		"SEND_BUFFER":         "16",
		"SIGNING_KEY":         "c29tZV9zZWNyZXQ=",
	})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, BackendBadger, cfg.PresenceBackend)
	assert.Equal(t, "/var/lib/chat", cfg.BadgerPath)
	assert.Equal(t, []string{"http://localhost:3000", "https://chat.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, []string{"spam", "scam"}, cfg.BlockedWords)
	assert.Equal(t, 10, cfg.RateLimitMessages)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 5*time.Minute, cfg.PresenceTTL)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 16, cfg.SendBuffer)
	assert.Equal(t, []byte("some_secret"), cfg.SigningKey)
}

func TestParse_InvalidValue(t *testing.T) {
	_, err := Parse(map[string]string{"RATE_LIMIT_WINDOW": "soon"})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Parse(map[string]string{})
		require.NoError(t, err)
		return cfg
	}

	tcases := []struct {
		name   string
		modify func(c *Config)
		errMsg string
	}{
		{
			name:   "empty address",
			modify: func(c *Config) { c.ServerAddr = "" },
			errMsg: "server address cannot be empty",
		},
		{
			name:   "unknown backend",
			modify: func(c *Config) { c.PresenceBackend = "memcached" },
			errMsg: `unknown presence backend "memcached"`,
		},
		{
			name:   "redis backend without url",
			modify: func(c *Config) { c.RedisURL = "" },
			errMsg: "redis url cannot be empty",
		},
		{
			name: "badger backend without url",
			modify: func(c *Config) {
				c.PresenceBackend = BackendBadger
				c.RedisURL = ""
			},
		},
		{
			name:   "zero rate limit",
			modify: func(c *Config) { c.RateLimitMessages = 0 },
			errMsg: "rate limit must be positive, got 0",
		},
		{
			name:   "zero window",
			modify: func(c *Config) { c.RateLimitWindow = 0 },
			errMsg: "rate limit window must be positive, got 0s",
		},
		{
			name:   "negative timeout",
			modify: func(c *Config) { c.StoreTimeout = -time.Second },
			errMsg: "durations cannot be negative",
		},
		{
			name:   "presence ttl shorter than ping interval",
			modify: func(c *Config) { c.PresenceTTL = 30 * time.Second },
			errMsg: "presence ttl must exceed 1m0s, got 30s",
		},
		{
			name:   "presence ttl equal to pong wait",
			modify: func(c *Config) { c.PresenceTTL = MinPresenceTTL },
			errMsg: "presence ttl must exceed 1m0s, got 1m0s",
		},
		{
			name:   "presence ttl longer than pong wait",
			modify: func(c *Config) { c.PresenceTTL = 90 * time.Second },
		},
		{
			name:   "zero send buffer",
			modify: func(c *Config) { c.SendBuffer = 0 },
			errMsg: "send buffer must be positive, got 0",
		},
		{
			name:   "bad signing key",
			modify: func(c *Config) { c.SigningSecret = "invalid_base64" },
			errMsg: "decode signing secret: illegal base64 data at input byte 7",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tc.errMsg)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SEND_BUFFER=32\nMODERATION_MODEL=text-moderation-latest\n"), 0o600))
	t.Setenv("SEND_BUFFER", "")
	os.Unsetenv("SEND_BUFFER")
	t.Setenv("MODERATION_MODEL", "omni-moderation-2024-09-26")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.SendBuffer, "expected value from env file")
	assert.Equal(t, "omni-moderation-2024-09-26", cfg.ModerationModel, "expected process env to win over the file")
}

func TestLoad_MissingEnvFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func Test_decodeSigningSecret(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=",
			expectedKey:  []byte("some_secret"),
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
				return
			}
			assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
			assert.Equal(t, tc.expectedKey, key)
		})
	}
}
