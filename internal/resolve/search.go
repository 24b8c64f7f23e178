package resolve

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/ppalone/ytsearch"
)

const ProviderSearch = "search"

type searchHit struct {
	VideoID  string
	Title    string
	Duration string
}

type searchFunc func(ctx context.Context, query string) ([]searchHit, error)

// Search resolves plain text queries to the top YouTube video result.
// Streaming is delegated to the YouTube provider.
type Search struct {
	search searchFunc
	stream *YouTube
}

func NewSearch(stream *YouTube) *Search {
	c := ytsearch.NewClient(nil)

	return &Search{
		search: func(ctx context.Context, query string) ([]searchHit, error) {
			res, err := c.Search(ctx, query)
			if err != nil {
				return nil, err
			}

			hits := make([]searchHit, 0, len(res.Results))
			for _, v := range res.Results {
				hits = append(hits, searchHit{
					VideoID:  v.VideoID,
					Title:    v.Title,
					Duration: v.Duration,
				})
			}

			return hits, nil
		},
		stream: stream,
	}
}

func (s *Search) Name() string {
	return ProviderSearch
}

func (s *Search) Accepts(q Query) bool {
	return q.URL == nil
}

func (s *Search) Lookup(ctx context.Context, q Query, _ int) ([]Entry, error) {

	hits, err := s.search(ctx, q.Raw)
	if err != nil {
		return nil, errors.Wrap(err, "youtube search failed")
	}

	for _, h := range hits {
		if h.VideoID == "" {
			continue
		}

		return []Entry{{
			Title:    h.Title,
			PageURL:  watchURL(h.VideoID),
			Duration: parseClockDuration(h.Duration),
			Provider: ProviderYouTube,
		}}, nil
	}

	return nil, nil
}

func (s *Search) Source(e Entry) service.Source {
	return s.stream.Source(e)
}

// parseClockDuration parses "3:20" or "1:05:20"; anything else is 0.
func parseClockDuration(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}

	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}

		total = total*60 + n
	}

	return time.Duration(total) * time.Second
}
