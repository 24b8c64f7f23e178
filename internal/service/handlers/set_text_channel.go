package handlers

import (
	"context"
	"regexp"

	"github.com/bwmarrin/discordgo"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
)

func SetTextChannel() HandleMessageCreate {

	return newHandleMessageCreate(
		"set-text-channel",
		"set text channel",
		"bot sends now playing messages to the guild channel that this command is issued from",
		newRegexMatcher(
			true,
			regexp.MustCompile(`(?i)^\s*set\s*text\s*channel\s*$`),
			func(_ context.Context, _ *discordgo.Session, m *discordgo.MessageCreate, p *service.Player, _ map[string]string) error {

				p.SetTextChannel(m.ChannelID)

				return nil
			},
		),
	)
}
