package server

import (
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/logging"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/josephcopenhaver/tempo-bot/internal/service/handlers"
	"github.com/josephcopenhaver/tempo-bot/internal/service/server/reactions"
	"github.com/rs/zerolog/log"
)

func (s *Server) Handlers() error {

	// https://discord.com/developers/docs/topics/gateway#event-names

	s.addMuxHandlers()

	s.AddHandler(handlers.Ping())

	s.AddHandler(handlers.JoinChannel(s.Voice))

	s.AddHandler(handlers.Play(s.Voice, s.Resolver))

	s.AddHandler(handlers.Next()) // also alias for skip

	s.AddHandler(handlers.Stop())

	s.AddHandler(handlers.ShowQueue())

	s.AddHandler(handlers.Repeat()) // also alias for loop

	s.AddHandler(handlers.SetTextChannel())

	s.DiscordSession.AddHandler(func(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		// https://discord.com/developers/docs/topics/gateway#voice-state-update
		log.Debug().
			Str("guild_id", v.GuildID).
			Str("user_id", v.UserID).
			Str("channel_id", v.ChannelID).
			Msg("event: voice state update")
	})

	// always keep last, it analyzes registered handlers
	s.AddHandler(handlers.Help(s.EventHandlers.MessageCreate))

	return nil
}

// commandText strips whichever of prefix or mentions the message starts
// with. Messages that start with neither are not for the bot.
func commandText(msg, prefix string, mentions []string) (string, bool) {

	msg = strings.TrimSpace(msg)

	if prefix != "" && strings.HasPrefix(msg, prefix) {
		cmd := strings.TrimSpace(msg[len(prefix):])
		return cmd, cmd != ""
	}

	if !strings.HasPrefix(msg, "<@") {
		return "", false
	}

	for _, v := range mentions {
		if !strings.HasPrefix(msg, v) {
			continue
		}

		// get message without @bot directive
		withoutMention := msg[len(v):]
		cmd := strings.TrimSpace(withoutMention)
		if cmd == withoutMention || cmd == "" {
			return "", false
		}

		return cmd, true
	}

	return "", false
}

// botMentions lists every way the bot can be addressed in a guild: as a
// user, as a member, or through a role named after it.
func botMentions(s *discordgo.Session, guildID string) []string {

	result := []string{s.State.User.Mention()}

	member, err := s.State.Member(guildID, s.State.User.ID)
	if err != nil {
		log.Err(err).
			Msg("failed to get my own member status")
		return result
	}

	result = append(result, member.Mention())

	for _, roleId := range member.Roles {

		r, err := s.State.Role(guildID, roleId)
		if err != nil {
			log.Err(err).
				Str("role_id", roleId).
				Msg("failed to get role info")
			continue
		}

		if r.Name != s.State.User.Username {
			continue
		}

		result = append(result, r.Mention())
	}

	return result
}

// reactionFor picks the status reaction for a handler result.
func reactionFor(err error) reactions.ReactionStatus {
	if err == nil {
		return reactions.ReactionStatusOK
	}

	var r interface{ Reaction() reactions.ReactionStatus }
	if errors.As(err, &r) {
		return r.Reaction()
	}

	return reactions.ReactionStatusErr
}

func errorReply(err error) string {
	if reactionFor(err) == reactions.ReactionStatusWarning {
		return "warning: " + err.Error()
	}

	return "error: " + err.Error()
}

func (srv *Server) addMuxHandlers() {
	srv.DiscordSession.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		var err error
		var p *service.Player

		// ignore messages I (the bot) create
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}

		trimMsg := strings.TrimSpace(m.Message.Content)

		if m.GuildID != "" {

			p = srv.Brain.Player(m.GuildID)

			// verify the user is giving me a command in a guild channel
			// if so then run handlers

			cmd, ok := commandText(trimMsg, srv.CommandPrefix, botMentions(s, m.GuildID))
			if !ok {
				return
			}

			trimMsg = cmd
		}

		srv.wg.Add(1)
		defer srv.wg.Done()

		ctx := srv.ctx
		if m.GuildID != "" {
			ctx = logging.WithGuild(ctx, m.GuildID)
		}

		for i := range srv.EventHandlers.MessageCreate {

			h := &srv.EventHandlers.MessageCreate[i]

			handler := h.Matcher(p, trimMsg)
			if handler == nil {
				continue
			}

			err := handler(ctx, s, m, p)

			srv.react(s, m, reactionFor(err))

			if err != nil {
				log.Ctx(ctx).Err(err).
					Str("handler_name", h.Name).
					Str("author_id", m.Author.ID).
					Str("author_username", m.Author.Username).
					Str("message_content", m.Message.Content).
					Interface("message_id", m.Message.ID).
					Interface("message_timestamp", m.Message.Timestamp).
					Msg("error in handler")

				_, err := s.ChannelMessageSend(m.ChannelID, errorReply(err))
				if err != nil {
					log.Err(err).
						Msg("failed to send error reply")
				}
				return
			}

			return
		}

		_, err = s.ChannelMessageSend(m.ChannelID, "command not recognized")
		if err != nil {
			log.Error().
				Err(err).
				Msg("failed to send default reply")
		}
	})
}

func (srv *Server) react(s *discordgo.Session, m *discordgo.MessageCreate, rs reactions.ReactionStatus) {
	if err := s.MessageReactionAdd(m.ChannelID, m.ID, rs.String()); err != nil {
		log.Err(err).
			Str("reaction", rs.String()).
			Msg("failed to add reaction")
	}
}

func (s *Server) AddHandler(v interface{}) {

	switch h := v.(type) {

	case handlers.HandleMessageCreate:
		s.EventHandlers.MessageCreate = append(s.EventHandlers.MessageCreate, h)

	default:
		log.Fatal().
			Interface("handler", v).
			Msg("code-error: failed to register handler")
	}
}
