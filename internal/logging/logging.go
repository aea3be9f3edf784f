package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger on stdout. dev switches to the console writer.
func New(service, env, level string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if env == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(out, service, level)
}

// NewWithWriter builds a JSON logger on w. An empty or unknown level means info.
func NewWithWriter(w io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
