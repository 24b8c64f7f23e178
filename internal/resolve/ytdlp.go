package resolve

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/lrstanley/go-ytdlp"
)

const ProviderYTDLP = "yt-dlp"

// ytdlpRunner runs yt-dlp with the given builder applied and returns stdout.
type ytdlpRunner func(ctx context.Context, build func(*ytdlp.Command) *ytdlp.Command, args ...string) (string, error)

func runYTDLP(ctx context.Context, build func(*ytdlp.Command) *ytdlp.Command, args ...string) (string, error) {
	cmd := build(ytdlp.New().
		NoWarnings().
		IgnoreConfig())

	res, err := cmd.Run(ctx, args...)
	if err != nil {
		return "", err
	}

	return res.Stdout, nil
}

// YTDLP resolves any url yt-dlp supports, including playlists.
type YTDLP struct {
	run ytdlpRunner
}

func NewYTDLP() *YTDLP {
	return &YTDLP{run: runYTDLP}
}

func (y *YTDLP) Name() string {
	return ProviderYTDLP
}

func (y *YTDLP) Accepts(q Query) bool {
	return q.URL != nil
}

func (y *YTDLP) Lookup(ctx context.Context, q Query, limit int) ([]Entry, error) {

	out, err := y.run(ctx, func(c *ytdlp.Command) *ytdlp.Command {
		c = c.FlatPlaylist().
			Print("%(webpage_url,url)s\t%(title)s\t%(duration)s")
		if limit > 0 {
			c = c.PlaylistItems(fmt.Sprintf("1-%d", limit))
		}

		return c
	}, q.Raw)
	if err != nil {
		return nil, errors.Wrap(err, "yt-dlp lookup failed")
	}

	return parseYTDLPEntries(out), nil
}

// parseYTDLPEntries reads "url<TAB>title<TAB>seconds" lines.
func parseYTDLPEntries(out string) []Entry {
	var result []Entry

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			continue
		}

		pageURL := strings.TrimSpace(parts[0])
		if pageURL == "" || pageURL == "NA" {
			continue
		}

		title := strings.TrimSpace(parts[1])
		if title == "NA" {
			title = ""
		}

		var d time.Duration
		if secs, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64); err == nil && secs > 0 {
			d = time.Duration(secs * float64(time.Second))
		}

		result = append(result, Entry{
			Title:    title,
			PageURL:  pageURL,
			Duration: d,
		})
	}

	return result
}

// Source asks yt-dlp for a fresh direct media url on every call.
func (y *YTDLP) Source(e Entry) service.Source {
	return service.SourceFunc(func(ctx context.Context) (string, error) {

		out, err := y.run(ctx, func(c *ytdlp.Command) *ytdlp.Command {
			return c.Format("bestaudio/best").
				NoPlaylist().
				Print("%(url)s")
		}, e.PageURL)
		if err != nil {
			return "", errors.Wrap(err, "yt-dlp stream url lookup failed")
		}

		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			if s := strings.TrimSpace(line); s != "" && s != "NA" {
				return s, nil
			}
		}

		return "", errors.Newf("yt-dlp returned no stream url for %s", e.PageURL)
	})
}
