// Package resolve turns user queries into playable tracks.
package resolve

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/cache"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrResolutionFailed = errors.New("could not find anything to play")

// Query is a raw user query, with URL set when it parses as an http(s) url.
type Query struct {
	Raw string
	URL *url.URL
}

func ParseQuery(raw string) Query {
	q := Query{Raw: strings.TrimSpace(raw)}

	// discord wraps urls in <> to suppress embeds
	s := strings.TrimSuffix(strings.TrimPrefix(q.Raw, "<"), ">")

	u, err := url.Parse(s)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		q.Raw = s
		q.URL = u
	}

	return q
}

// Entry is the cacheable metadata of one resolved item.
type Entry struct {
	Title    string        `json:"title"`
	PageURL  string        `json:"page_url"`
	Duration time.Duration `json:"duration"`
	Provider string        `json:"provider"`
}

// Provider looks up entries for the queries it accepts and knows how to
// produce stream urls for the entries it names.
type Provider interface {
	Name() string
	Accepts(q Query) bool
	Lookup(ctx context.Context, q Query, limit int) ([]Entry, error)
	Source(e Entry) service.Source
}

type Options struct {
	Providers []Provider
	// Limiter throttles provider lookups; nil means unlimited
	Limiter   *rate.Limiter
	Cache     *cache.DiskCache[string, []Entry]
	MaxTracks int
}

type Resolver struct {
	providers []Provider
	byName    map[string]Provider
	limiter   *rate.Limiter
	cache     *cache.DiskCache[string, []Entry]
	maxTracks int
}

func New(opts Options) *Resolver {

	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	maxTracks := opts.MaxTracks
	if maxTracks <= 0 {
		maxTracks = 50
	}

	byName := make(map[string]Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		byName[p.Name()] = p
	}

	return &Resolver{
		providers: opts.Providers,
		byName:    byName,
		limiter:   limiter,
		cache:     opts.Cache,
		maxTracks: maxTracks,
	}
}

// Result holds the tracks to enqueue, in order.
type Result struct {
	Tracks []*service.Track
	// Truncated is set when a playlist had more entries than allowed
	Truncated bool
}

// Resolve runs the provider chain for raw and builds tracks attributed to
// requestedBy. The first provider that accepts the query and returns
// entries wins.
func (r *Resolver) Resolve(ctx context.Context, raw string, requestedBy string) (Result, error) {
	var result Result

	q := ParseQuery(raw)
	if q.Raw == "" {
		return result, errors.Mark(errors.New("empty query"), ErrResolutionFailed)
	}

	entries, err := r.lookup(ctx, q)
	if err != nil {
		return result, err
	}

	if len(entries) > r.maxTracks {
		entries = entries[:r.maxTracks]
		result.Truncated = true
	}

	result.Tracks = make([]*service.Track, 0, len(entries))
	for _, e := range entries {
		p := r.providerFor(e)
		if p == nil {
			log.Warn().
				Str("provider", e.Provider).
				Str("page_url", e.PageURL).
				Msg("resolve: no provider can stream entry, skipping")
			continue
		}

		result.Tracks = append(result.Tracks, &service.Track{
			Title:       e.Title,
			PageURL:     e.PageURL,
			Duration:    e.Duration,
			RequestedBy: requestedBy,
			Source:      p.Source(e),
		})
	}

	if len(result.Tracks) == 0 {
		return Result{}, errors.Mark(errors.Newf("no playable entries for %q", q.Raw), ErrResolutionFailed)
	}

	return result, nil
}

func (r *Resolver) lookup(ctx context.Context, q Query) ([]Entry, error) {

	cacheKey := ""
	if q.URL != nil && r.cache != nil {
		cacheKey = q.URL.String()

		v, ok, err := r.cache.Get(cacheKey)
		if err != nil {
			log.Warn().
				Err(err).
				Str("query", q.Raw).
				Msg("resolve: failed to read metadata cache")
		} else if ok && len(v) > 0 {
			return v, nil
		}
	}

	var lastErr error

	for _, p := range r.providers {
		if !p.Accepts(q) {
			continue
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "resolve: rate limiter wait")
		}

		entries, err := p.Lookup(ctx, q, r.maxTracks+1)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "resolve")
			}

			log.Warn().
				Err(err).
				Str("provider", p.Name()).
				Str("query", q.Raw).
				Msg("resolve: provider failed, trying next")

			lastErr = err
			continue
		}

		if len(entries) == 0 {
			log.Debug().
				Str("provider", p.Name()).
				Str("query", q.Raw).
				Msg("resolve: provider returned nothing")
			continue
		}

		for i := range entries {
			if entries[i].Provider == "" {
				entries[i].Provider = p.Name()
			}
		}

		// playlists change over time, only single items are stable
		if cacheKey != "" && len(entries) == 1 {
			if err := r.cache.Set(cacheKey, entries); err != nil {
				log.Warn().
					Err(err).
					Str("query", q.Raw).
					Msg("resolve: failed to save metadata cache entry")
			}
		}

		return entries, nil
	}

	if lastErr == nil {
		lastErr = errors.Newf("nothing found for %q", q.Raw)
	}

	return nil, errors.Mark(lastErr, ErrResolutionFailed)
}

func (r *Resolver) providerFor(e Entry) Provider {
	if p, ok := r.byName[e.Provider]; ok {
		return p
	}

	return nil
}
