package logx

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool `split_words:"true" default:"false"`
	PrettyFormat bool `split_words:"true" default:"false"`
}

var DefaultConfig = &Config{
	Debug:        false,
	PrettyFormat: false,
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

// New builds a logger writing to w. Logs go to stderr by default so they do
// not interleave with the console conversation on stdout.
func New(w io.Writer, opts ...Config) zerolog.Logger {
	conf := safe(opts...)
	if w == nil {
		w = os.Stderr
	}
	if conf.PrettyFormat {
		w = zerolog.ConsoleWriter{Out: w}
	}

	level := zerolog.InfoLevel
	if conf.Debug {
		level = zerolog.DebugLevel
	}

	return zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
}

// Init replaces the global logger and makes it the context default.
func Init(opts ...Config) {
	log.Logger = New(os.Stderr, opts...)
	zerolog.DefaultContextLogger = &log.Logger
}

// WithSession returns ctx carrying a child logger tagged with the session id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	logger := zerolog.Ctx(ctx).With().Str("session_id", sessionID).Logger()
	return logger.WithContext(ctx)
}
