// Package config loads the quotagated server configuration from the
// environment.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog"
)

// Config holds everything quotagated needs to start.
type Config struct {
	Store  StoreConfig
	Listen ListenConfig

	// DefaultAlgorithm is applied to rules added through the admin API
	// when the request names none.
	DefaultAlgorithm string `env:"DEFAULT_ALGORITHM" env-default:"token_bucket"`

	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
}

// StoreConfig configures the Redis connection backing the limiter.
type StoreConfig struct {
	Host     string `env:"STORE_HOST" env-default:"localhost"`
	Port     int    `env:"STORE_PORT" env-default:"6379"`
	DB       int    `env:"STORE_DB" env-default:"0"`
	Password string `env:"STORE_PASSWORD" env-default:""`
}

// Addr returns the host:port the Redis client dials.
func (s StoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	Host string `env:"LISTEN_HOST" env-default:"0.0.0.0"`
	Port int    `env:"LISTEN_PORT" env-default:"8080"`
}

// Addr returns the host:port the server binds.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// Load reads configuration from environment variables, falling back to the
// defaults above.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: read environment: %w", err)
	}
	return cfg, nil
}

// Level parses LogLevel into a zerolog level, defaulting to info on
// unrecognized values.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
