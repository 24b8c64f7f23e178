package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/josephcopenhaver/tempo-bot/internal/logging"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/josephcopenhaver/tempo-bot/internal/service/config"
	"github.com/josephcopenhaver/tempo-bot/internal/service/server"
	"github.com/josephcopenhaver/tempo-bot/internal/voice"
	"github.com/rs/zerolog/log"
)

var (
	app         = kingpin.New("tempo-bot", "discord voice channel music bot")
	configFile  = app.Flag("config", "Path to an optional yaml config file").Envar("CONFIG_FILE").String()
	logLevelStr = app.Flag("log-level", "Log level: trace, debug, info, warn, error").Envar("LOG_LEVEL").String()
)

// rootContext returns a context that is canceled when the
// system process receives an interrupt, sigint, or sigterm
//
// Also returns a function that can be used to cancel the context.
func rootContext() (context.Context, func()) {

	ctx, cancel := context.WithCancel(context.Background())

	procDone := make(chan os.Signal, 1)

	signal.Notify(procDone, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer cancel()

		done := ctx.Done()

		requester := "unknown"
		select {
		case <-procDone:
			requester = "user"
		case <-done:
			requester = "process"
		}

		log.Warn().
			Str("requester", requester).
			Msg("shutdown requested")
	}()

	return ctx, cancel
}

var GitSHA string
var Version string

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	var ctx context.Context
	{
		newCtx, cancel := rootContext()
		defer cancel()

		ctx = newCtx
	}

	if *logLevelStr != "" {
		if err := logging.SetGlobalLevel(*logLevelStr); err != nil {
			log.Panic().
				Str("LOG_LEVEL", *logLevelStr).
				Msg("invalid log level")
		}
	}

	service.Version = Version
	service.Commit = GitSHA
	service.StartupMessage("tempo-bot")

	conf, err := config.New(*configFile)
	if err != nil {
		log.Panic().
			Err(err).
			Msg("failed to read configuration")
	}

	server := server.New()
	if err := server.SetConfig(conf); err != nil {
		log.Panic().
			Err(err).
			Msg("failed to load configuration")
	}

	if err := server.Handlers(); err != nil {
		log.Panic().
			Err(err).
			Msg("failed to register handlers")
	}

	if conf.AdjustNiceness {
		// set process niceness as high as possible until sending rtp traffic
		if err := voice.SetNiceness(voice.NicenessIdle); err != nil {
			log.Panic().
				Err(err).
				Msg("failed to set process niceness higher")
		}
	}

	log.Info().
		Msg("starting listener")

	if err := server.ListenAndServe(ctx); err != nil {
		log.Panic().
			Err(err).
			Msg("server stopped unexpectedly")
	}

	log.Warn().
		Msg("server shutdown complete")
}
