package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

//nolint:gochecknoinits
func init() {
	var out io.Writer = os.Stderr

	// set the default log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// allow printing stack traces from wrapped errors
	// code-smell: globals are being set here
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack //nolint:reassign

	// use default golang time marshaller format
	zerolog.TimeFieldFormat = time.RFC3339

	// default to using the console writer unless user overrides
	if strings.ToLower(os.Getenv("LOG_FORMAT")) != "json" {
		out = zerolog.ConsoleWriter{
			Out: out,
		}
	}

	// place line indicators - Caller
	// add stacktrace on .Err() - Stack
	// include timestamps in output - Timestamp
	log.Logger = zerolog.New(out).
		With().
		Caller().
		Stack().
		Timestamp().
		Logger()

	// log.Ctx(ctx) falls back to the global logger
	zerolog.DefaultContextLogger = &log.Logger
}

// SetGlobalLevel should only be called once, and before goroutines are spawned
func SetGlobalLevel(logLevelStr string) error {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(logLevelStr))
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(logLevel)

	return nil
}

// WithGuild returns a context carrying a logger tagged with the guild id.
//
// Retrieve it with log.Ctx(ctx).
func WithGuild(ctx context.Context, guildID string) context.Context {
	l := log.Ctx(ctx).With().
		Str("guild_id", guildID).
		Logger()

	return l.WithContext(ctx)
}
