package server

import (
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/josephcopenhaver/tempo-bot/internal/cache"
	"github.com/josephcopenhaver/tempo-bot/internal/resolve"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/josephcopenhaver/tempo-bot/internal/service/config"
	"github.com/josephcopenhaver/tempo-bot/internal/voice"
	"golang.org/x/time/rate"
)

const announcerQueueSize = 128

func (s *Server) SetConfig(conf *config.Config) error {
	var err error

	s.DiscordSession, err = discordgo.New("Bot " + conf.DiscordBotToken)
	if err != nil {
		return errors.Wrap(err, "failed to create discord session")
	}

	s.DiscordSession.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildVoiceStates |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent

	s.CommandPrefix = conf.CommandPrefix

	s.Voice = voice.NewManager(s.DiscordSession, voice.Config{
		ConnectTimeout:  conf.ConnectTimeout,
		ConnectAttempts: conf.ConnectAttempts,
		FFmpegPath:      conf.FFmpegPath,
		Volume:          conf.Volume,
		AdjustNiceness:  conf.AdjustNiceness,
	})

	metaCache, err := cache.NewDiskCache[string, []resolve.Entry](conf.MetadataCacheDir, conf.MetadataCacheSize, true)
	if err != nil {
		return errors.Wrap(err, "failed to open metadata cache")
	}

	yt := resolve.NewYouTube()
	s.Resolver = resolve.New(resolve.Options{
		Providers: []resolve.Provider{
			yt,
			resolve.NewSearch(yt),
			resolve.NewYTDLP(),
		},
		Limiter:   rate.NewLimiter(rate.Limit(conf.ResolveRateLimit), conf.ResolveBurst),
		Cache:     metaCache,
		MaxTracks: conf.MaxPlaylistTracks,
	})

	session := s.DiscordSession
	s.announcer = newAnnouncer(announcerQueueSize, func(channelID, msg string) error {
		_, err := session.ChannelMessageSend(channelID, msg)
		return err
	})

	s.Brain = service.NewBrain(service.PlayerOptions{
		Announcer:    s.announcer,
		MailboxSize:  conf.MailboxSize,
		DisplayLimit: conf.QueueDisplayLimit,
	})

	return s.ValidateConfig()
}

func (s *Server) ValidateConfig() error {
	return validation.ValidateStruct(s,
		// DiscordSession must not be nil
		validation.Field(&s.DiscordSession, validation.Required),
		validation.Field(&s.CommandPrefix, validation.Required),
		validation.Field(&s.Voice, validation.Required),
		validation.Field(&s.Resolver, validation.Required),
		validation.Field(&s.Brain, validation.Required),
	)
}
