package handlers

import (
	"context"
	"regexp"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/logging"
	"github.com/josephcopenhaver/tempo-bot/internal/resolve"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/josephcopenhaver/tempo-bot/internal/service/server/reactions"
	"github.com/rs/zerolog/log"
)

// VoiceConnector hands out a live voice connection in the channel the
// member is in.
type VoiceConnector interface {
	Connect(ctx context.Context, guildID, memberID string) (service.Connection, error)
}

type TrackResolver interface {
	Resolve(ctx context.Context, raw string, requestedBy string) (resolve.Result, error)
}

var playPattern = regexp.MustCompile(`(?i)^\s*play\s+(?P<query>\S.*?)\s*$`)

type playRequest struct {
	GuildID   string
	MemberID  string
	Mention   string
	ChannelID string
	Query     string
}

func Play(vc VoiceConnector, r TrackResolver) HandleMessageCreate {

	return newHandleMessageCreate(
		"play",
		"play <url or search terms>",
		"joins your voice channel and queues a track, a playlist, or the top search result",
		newRegexMatcher(
			true,
			playPattern,
			func(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, p *service.Player, args map[string]string) error {

				msg, err := handlePlayRequest(ctx, vc, r, p, playRequest{
					GuildID:   m.GuildID,
					MemberID:  m.Author.ID,
					Mention:   m.Author.Mention(),
					ChannelID: m.ChannelID,
					Query:     args["query"],
				})

				if replyErr := reply(s, m, msg); replyErr != nil {
					log.Err(replyErr).
						Msg("failed to send play reply")
				}

				return err
			},
		),
	)
}

var errNotStarted = errors.New("lost the voice connection before playback could start, try again")

// handlePlayRequest connects, resolves, and enqueues. Slow work happens here
// on the caller's goroutine; the player only receives the results.
//
// The returned message is empty when playback started, since the player
// announces the track itself.
func handlePlayRequest(ctx context.Context, vc VoiceConnector, r TrackResolver, p *service.Player, req playRequest) (string, error) {

	ctx = logging.WithGuild(ctx, req.GuildID)

	// join before resolving so a member outside voice fails fast
	if _, err := vc.Connect(ctx, req.GuildID, req.MemberID); err != nil {
		return "", err
	}

	p.SetTextChannel(req.ChannelID)

	res, err := r.Resolve(ctx, req.Query, req.Mention)
	if err != nil {
		return "", err
	}

	// the queue may have drained or been stopped while resolving, either of
	// which leaves voice; hand over whatever connection is live now
	if err := handOverConnection(ctx, vc, p, req); err != nil {
		return "", err
	}

	p.Enqueue(res.Tracks)

	started := p.AdvanceIfIdle()

	if !started && p.Snapshot().Stalled() {
		log.Ctx(ctx).Info().
			Str("query", req.Query).
			Msg("voice connection lost before playback started, reconnecting")

		if err := handOverConnection(ctx, vc, p, req); err != nil {
			return "", err
		}

		started = p.AdvanceIfIdle()
		if !started && p.Snapshot().Stalled() {
			return "", errNotStarted
		}
	}

	log.Ctx(ctx).Debug().
		Str("query", req.Query).
		Int("num_tracks", len(res.Tracks)).
		Bool("started", started).
		Msg("play request enqueued")

	var msg string
	if !started {
		if len(res.Tracks) == 1 {
			msg = "queued **" + res.Tracks[0].DisplayTitle() + "**"
		} else {
			msg = "queued " + strconv.Itoa(len(res.Tracks)) + " tracks"
		}
	}

	if res.Truncated {
		return msg, reactions.NewWarning(errors.Newf("playlist was cut short after %d tracks", len(res.Tracks)))
	}

	return msg, nil
}

func handOverConnection(ctx context.Context, vc VoiceConnector, p *service.Player, req playRequest) error {
	conn, err := vc.Connect(ctx, req.GuildID, req.MemberID)
	if err != nil {
		return err
	}

	p.SetConnection(conn)

	return nil
}
