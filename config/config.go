// Package config loads process configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

type Config struct {
	// Addr is the HTTP listen address.
	Addr string `env:"ADDR,default=:8787"`

	// AllowedOrigins is a comma-separated list of origins allowed to open
	// websocket connections. Empty allows all (useful in development).
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	// AckTimeout bounds how long callers wait for request acknowledgments.
	AckTimeout time.Duration `env:"ACK_TIMEOUT,default=8s"`

	// Debug switches logging to console output at debug level.
	Debug bool `env:"DEBUG,default=false"`
}

func Load() (Config, error) {
	var cfg Config
	err := envdecode.Decode(&cfg)
	return cfg, err
}

func (c Config) Origins() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
