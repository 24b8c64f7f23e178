package handlers

import (
	"context"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
)

// Handler runs one matched command. p is nil for direct messages.
type Handler func(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, p *service.Player) error

type HandleMessageCreate struct {
	Name        string
	Usage       string
	Description string
	// Matcher returns nil when msg is not for this handler
	Matcher func(p *service.Player, msg string) Handler
}

func newHandleMessageCreate(name, usage, description string, matcher func(*service.Player, string) Handler) HandleMessageCreate {
	return HandleMessageCreate{
		Name:        name,
		Usage:       usage,
		Description: description,
		Matcher:     matcher,
	}
}

type argsHandler func(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, p *service.Player, args map[string]string) error

func newRegexMatcher(requirePlayer bool, re *regexp.Regexp, h argsHandler) func(*service.Player, string) Handler {
	return func(p *service.Player, msg string) Handler {

		if requirePlayer && p == nil {
			return nil
		}

		args := regexMap(re, msg)
		if args == nil {
			return nil
		}

		return func(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, p *service.Player) error {
			return h(ctx, s, m, p, args)
		}
	}
}

func newWordMatcher(requirePlayer bool, words []string, h argsHandler) func(*service.Player, string) Handler {

	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	return func(p *service.Player, msg string) Handler {

		if requirePlayer && p == nil {
			return nil
		}

		if _, ok := wordSet[strings.ToLower(strings.TrimSpace(msg))]; !ok {
			return nil
		}

		return func(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, p *service.Player) error {
			return h(ctx, s, m, p, nil)
		}
	}
}

func reply(s *discordgo.Session, m *discordgo.MessageCreate, msg string) error {
	if msg == "" {
		return nil
	}

	_, err := s.ChannelMessageSend(m.ChannelID, msg)
	return err
}
