package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// MinPresenceTTL is the websocket pong wait. Connected users refresh their
// last-seen at most this often, so a shorter TTL reports them offline.
const MinPresenceTTL = 60 * time.Second

type Config struct {
	ServerAddr        string        `env:"ADDR" envDefault:"localhost:8000"`
	RedisURL          string        `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	PresenceBackend   string        `env:"PRESENCE_BACKEND" envDefault:"redis"`
	BadgerPath        string        `env:"BADGER_PATH"`
	DatabaseDSN       string        `env:"DATABASE_URL"`
	SigningSecret     string        `env:"SIGNING_KEY"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	ModerationModel   string        `env:"MODERATION_MODEL" envDefault:"omni-moderation-latest"`
	BlockedWords      []string      `env:"BLOCKED_WORDS" envSeparator:","`
	RateLimitMessages int           `env:"RATE_LIMIT_MESSAGES" envDefault:"100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	PresenceTTL       time.Duration `env:"PRESENCE_TTL" envDefault:"0s"`
	StoreTimeout      time.Duration `env:"STORE_TIMEOUT" envDefault:"0s"`
	ModerationTimeout time.Duration `env:"MODERATION_TIMEOUT" envDefault:"0s"`
	SendBuffer        int           `env:"SEND_BUFFER" envDefault:"256"`

	// SigningKey is the decoded SigningSecret, set by Validate.
	SigningKey []byte
}

// Load reads envFile, if it exists, into the process environment and parses
// the configuration from it. The result is not validated.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %q: %w", envFile, err)
		}
	}

	return Parse(env.ToMap(os.Environ()))
}

// Parse builds a configuration from the given variables, applying defaults
// for the missing ones.
func Parse(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.PresenceBackend {
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis url cannot be empty")
		}
	case BackendBadger:
	default:
		return fmt.Errorf("unknown presence backend %q", c.PresenceBackend)
	}

	if c.RateLimitMessages <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.RateLimitMessages)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimitWindow)
	}
	if c.PresenceTTL < 0 || c.StoreTimeout < 0 || c.ModerationTimeout < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	if c.PresenceTTL != 0 && c.PresenceTTL <= MinPresenceTTL {
		return fmt.Errorf("presence ttl must exceed %s, got %s", MinPresenceTTL, c.PresenceTTL)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer)
	}

	if c.SigningSecret != "" {
		key, err := decodeSigningSecret(c.SigningSecret)
		if err != nil {
			return fmt.Errorf("decode signing secret: %w", err)
		}
		c.SigningKey = key
	}

	return nil
}
