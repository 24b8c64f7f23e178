package handlers

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
)

func Next() HandleMessageCreate {

	return newHandleMessageCreate(
		"next",
		"next | skip",
		"stops the current track so the next one in the queue starts",
		newWordMatcher(
			true,
			[]string{"next", "skip"},
			func(_ context.Context, s *discordgo.Session, m *discordgo.MessageCreate, p *service.Player, _ map[string]string) error {

				if !p.Skip() {
					return nil
				}

				return reply(s, m, "skipped")
			},
		),
	)
}
