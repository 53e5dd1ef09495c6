// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mcdev12/rendezvous/go/internal/dbconfig"
	"github.com/rs/zerolog"
)

// Marker backends.
const (
	MarkerBackendMemory   = "memory"
	MarkerBackendRedis    = "redis"
	MarkerBackendPostgres = "postgres"
)

type Config struct {
	BackendURL       string `env:"BACKEND_URL" envDefault:"http://localhost:8080"`
	ParticipantToken string `env:"PARTICIPANT_TOKEN"`
	BackendBearer    string `env:"BACKEND_BEARER"`
	Timezone         string `env:"TIMEZONE" envDefault:"UTC"`

	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"15s"`
	PollWithoutViewers bool          `env:"POLL_WITHOUT_VIEWERS" envDefault:"true"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`
	SimulatedTick      time.Duration `env:"SIMULATED_TICK" envDefault:"1s"`

	ConfirmSuppression    time.Duration `env:"CONFIRM_SUPPRESSION" envDefault:"20s"`
	RegisterSuppression   time.Duration `env:"REGISTER_SUPPRESSION" envDefault:"20s"`
	UnregisterSuppression time.Duration `env:"UNREGISTER_SUPPRESSION" envDefault:"15s"`
	RequestTimeout        time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`

	MarkerBackend   string        `env:"MARKER_BACKEND" envDefault:"memory"`
	MarkerRetention time.Duration `env:"MARKER_RETENTION" envDefault:"0s"`
	RedisAddr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	DB              dbconfig.Config

	NATSURL           string `env:"NATS_URL"`
	NATSStream        string `env:"NATS_STREAM" envDefault:"ROUND_EVENTS"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"rounds.events"`

	ClockStateFile string `env:"CLOCK_STATE_FILE" envDefault:".roundsync-clock.yaml"`

	GatewayAddr string   `env:"GATEWAY_ADDR" envDefault:":8090"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load reads envFile (when present) and then the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.MarkerBackend {
	case MarkerBackendMemory, MarkerBackendRedis, MarkerBackendPostgres:
	default:
		return fmt.Errorf("MARKER_BACKEND must be memory, redis or postgres, got %q", c.MarkerBackend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.MarkerRetention < 0 {
		return fmt.Errorf("MARKER_RETENTION must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TIMEZONE.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Level parses LOG_LEVEL, falling back to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
