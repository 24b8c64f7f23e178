package handlers

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
)

func Stop() HandleMessageCreate {

	return newHandleMessageCreate(
		"stop",
		"stop",
		"clears the queue, turns loop off, and leaves the voice channel",
		newWordMatcher(
			true,
			[]string{"stop"},
			func(_ context.Context, s *discordgo.Session, m *discordgo.MessageCreate, p *service.Player, _ map[string]string) error {

				p.Stop()

				return reply(s, m, "stopped")
			},
		),
	)
}
