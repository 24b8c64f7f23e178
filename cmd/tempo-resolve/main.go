// Command tempo-resolve runs the track resolver for a query and prints what
// the bot would enqueue, without touching discord.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/josephcopenhaver/tempo-bot/internal/cache"
	"github.com/josephcopenhaver/tempo-bot/internal/logging"
	"github.com/josephcopenhaver/tempo-bot/internal/resolve"
	"github.com/rs/zerolog/log"
)

var (
	app         = kingpin.New("tempo-resolve", "resolve a play query into tracks")
	query       = app.Arg("query", "url or search terms").Required().Strings()
	maxTracks   = app.Flag("max-tracks", "Maximum number of playlist entries").Default("50").Int()
	cacheDir    = app.Flag("cache-dir", "Metadata cache directory; empty disables caching").Envar("METADATA_CACHE_DIR").String()
	streamURLs  = app.Flag("stream-urls", "Also look up a playable stream url for every track").Bool()
	timeout     = app.Flag("timeout", "Overall time limit").Default("60s").Duration()
	logLevelStr = app.Flag("log-level", "Log level").Default("warn").Envar("LOG_LEVEL").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := logging.SetGlobalLevel(*logLevelStr); err != nil {
		log.Fatal().
			Str("LOG_LEVEL", *logLevelStr).
			Msg("invalid log level")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	if err := run(ctx); err != nil {
		log.Fatal().
			Err(err).
			Msg("failed to resolve")
	}
}

func run(ctx context.Context) error {

	opts := resolve.Options{
		MaxTracks: *maxTracks,
	}

	if *cacheDir != "" {
		c, err := cache.NewDiskCache[string, []resolve.Entry](*cacheDir, 64, true)
		if err != nil {
			return err
		}

		opts.Cache = c
	}

	yt := resolve.NewYouTube()
	opts.Providers = []resolve.Provider{
		yt,
		resolve.NewSearch(yt),
		resolve.NewYTDLP(),
	}

	res, err := resolve.New(opts).Resolve(ctx, strings.Join(*query, " "), "")
	if err != nil {
		return err
	}

	for i, t := range res.Tracks {
		fmt.Printf("%d. %s\n   %s (%s)\n", i+1, t.DisplayTitle(), t.PageURL, t.Duration.Round(time.Second))

		if !*streamURLs {
			continue
		}

		u, err := t.Source.StreamURL(ctx)
		if err != nil {
			fmt.Printf("   stream: error: %v\n", err)
			continue
		}

		fmt.Printf("   stream: %s\n", u)
	}

	if res.Truncated {
		fmt.Printf("(truncated to %d tracks)\n", len(res.Tracks))
	}

	return nil
}
