package resolve

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog/log"
)

const ProviderYouTube = "youtube"

// youtubeAPI is the part of the youtube client the provider uses.
type youtubeAPI interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetPlaylistContext(ctx context.Context, url string) (*youtube.Playlist, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
}

type YouTube struct {
	client youtubeAPI
}

func NewYouTube() *YouTube {
	return &YouTube{
		client: &youtube.Client{
			HTTPClient: http.DefaultClient,
		},
	}
}

func (y *YouTube) Name() string {
	return ProviderYouTube
}

func isYouTubeHost(host string) bool {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	return host == "youtube.com" || host == "youtu.be"
}

func (y *YouTube) Accepts(q Query) bool {
	return q.URL != nil && isYouTubeHost(q.URL.Host)
}

func (y *YouTube) Lookup(ctx context.Context, q Query, limit int) ([]Entry, error) {

	// a watch url that also carries a list id plays just the video
	if q.URL.Query().Get("v") == "" && q.URL.Query().Get("list") != "" {
		return y.lookupPlaylist(ctx, q, limit)
	}

	v, err := y.client.GetVideoContext(ctx, q.Raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get video metadata")
	}

	return []Entry{{
		Title:    v.Title,
		PageURL:  watchURL(v.ID),
		Duration: v.Duration,
	}}, nil
}

func (y *YouTube) lookupPlaylist(ctx context.Context, q Query, limit int) ([]Entry, error) {

	pl, err := y.client.GetPlaylistContext(ctx, q.Raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist metadata")
	}

	result := make([]Entry, 0, len(pl.Videos))
	for _, v := range pl.Videos {
		if v == nil || v.ID == "" {
			continue
		}

		result = append(result, Entry{
			Title:    v.Title,
			PageURL:  watchURL(v.ID),
			Duration: v.Duration,
		})

		if limit > 0 && len(result) >= limit {
			break
		}
	}

	log.Debug().
		Str("playlist_id", pl.ID).
		Str("playlist_title", pl.Title).
		Int("entries", len(result)).
		Msg("resolve: youtube playlist")

	return result, nil
}

// Source fetches a fresh stream url for the video on every call.
func (y *YouTube) Source(e Entry) service.Source {
	return service.SourceFunc(func(ctx context.Context) (string, error) {

		v, err := y.client.GetVideoContext(ctx, e.PageURL)
		if err != nil {
			return "", errors.Wrap(err, "failed to get video metadata")
		}

		f := bestAudioFormat(v.Formats)
		if f == nil {
			return "", errors.Newf("no audio format for %s", e.PageURL)
		}

		streamURL, err := y.client.GetStreamURLContext(ctx, v, f)
		if err != nil {
			return "", errors.Wrap(err, "failed to get stream url")
		}

		return streamURL, nil
	})
}

// bestAudioFormat prefers audio-only formats, then the highest bitrate.
func bestAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format

	for i := range formats {
		f := &formats[i]

		if f.AudioChannels <= 0 {
			continue
		}

		if best == nil {
			best = f
			continue
		}

		fAudioOnly := strings.HasPrefix(f.MimeType, "audio/")
		bestAudioOnly := strings.HasPrefix(best.MimeType, "audio/")

		if fAudioOnly != bestAudioOnly {
			if fAudioOnly {
				best = f
			}
			continue
		}

		if f.Bitrate > best.Bitrate {
			best = f
		}
	}

	return best
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
