// Package config loads jsdbg settings from the environment.
package config

import (
	"io"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Config struct {
	// Port to serve DAP on. Zero serves a single session over stdio.
	Port     int    `env:"JSDBG_PORT"`
	LogLevel string `env:"JSDBG_LOG_LEVEL" envDefault:"info"`
	// SkipFiles are glob patterns of scripts whose caught exceptions never pause.
	SkipFiles   []string      `env:"JSDBG_SKIP_FILES" envSeparator:","`
	CallTimeout time.Duration `env:"JSDBG_CDP_CALL_TIMEOUT" envDefault:"10s"`
	// SharedConditions evaluates every exception condition for both caught
	// and uncaught exceptions, as older adapters did.
	SharedConditions bool `env:"JSDBG_SHARED_EXCEPTION_CONDITIONS"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	return cfg, nil
}

// Logger returns a console logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
		Level(level).
		With().Timestamp().
		Logger(), nil
}
