package handlers

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
)

func Repeat() HandleMessageCreate {

	return newHandleMessageCreate(
		"repeat",
		"repeat | loop",
		"toggles loop mode; when on, each finished track goes back to the end of the queue",
		newWordMatcher(
			true,
			[]string{"repeat", "loop"},
			func(_ context.Context, s *discordgo.Session, m *discordgo.MessageCreate, p *service.Player, _ map[string]string) error {

				loop := p.ToggleLoop()

				return reply(s, m, "loop is now "+onOff(loop))
			},
		),
	)
}
