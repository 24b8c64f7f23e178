package handlers

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/josephcopenhaver/tempo-bot/internal/logging"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
)

func JoinChannel(vc VoiceConnector) HandleMessageCreate {

	return newHandleMessageCreate(
		"join-channel",
		"join",
		"joins or moves to your voice channel without queueing anything",
		newWordMatcher(
			true,
			[]string{"join"},
			func(ctx context.Context, _ *discordgo.Session, m *discordgo.MessageCreate, p *service.Player, _ map[string]string) error {

				conn, err := vc.Connect(logging.WithGuild(ctx, m.GuildID), m.GuildID, m.Author.ID)
				if err != nil {
					return err
				}

				p.SetConnection(conn)
				p.SetTextChannel(m.ChannelID)

				return nil
			},
		),
	)
}
