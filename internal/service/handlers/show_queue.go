package handlers

import (
	"context"
	"regexp"

	"github.com/bwmarrin/discordgo"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
)

func ShowQueue() HandleMessageCreate {

	return newHandleMessageCreate(
		"show-queue",
		"queue | show queue",
		"prints the current track and the next tracks in the queue",
		newRegexMatcher(
			true,
			regexp.MustCompile(`(?i)^\s*(show\s+)?queue\s*$`),
			func(_ context.Context, s *discordgo.Session, m *discordgo.MessageCreate, p *service.Player, _ map[string]string) error {
				return reply(s, m, formatSnapshot(p.Snapshot()))
			},
		),
	)
}
