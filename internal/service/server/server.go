package server

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/resolve"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/josephcopenhaver/tempo-bot/internal/service/handlers"
	"github.com/josephcopenhaver/tempo-bot/internal/voice"
	"github.com/rs/zerolog/log"
)

type EventHandlers struct {
	MessageCreate []handlers.HandleMessageCreate
}

type Server struct {
	wg             sync.WaitGroup
	ctx            context.Context
	DiscordSession *discordgo.Session
	EventHandlers  EventHandlers
	CommandPrefix  string
	Brain          *service.Brain
	Voice          *voice.Manager
	Resolver       *resolve.Resolver
	announcer      *announcer
}

func New() *Server {
	return &Server{
		ctx: context.Background(),
		EventHandlers: EventHandlers{
			MessageCreate: []handlers.HandleMessageCreate{},
		},
	}
}

func (s *Server) ListenAndServe(ctx context.Context) (err_result error) {

	if err := ctx.Err(); err != nil {
		return err
	}

	s.ctx = ctx

	s.announcer.Start(ctx)
	defer func() {
		log.Warn().
			Msg("waiting for announcer to terminate")

		s.announcer.Wait()
	}()

	// open a connection to discord
	if err := s.DiscordSession.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord session")
	}
	defer func() {
		log.Warn().
			Msg("waiting for discord session to close")

		err_result = errors.CombineErrors(err_result, s.DiscordSession.Close())
	}()

	defer func() {
		log.Warn().
			Msg("waiting for all players to terminate")

		// players first so no new play attempt races the voice teardown
		s.Brain.Close()
		s.Voice.Close()

		s.wg.Wait()
	}()

	log.Info().
		Msg("listening")

	<-ctx.Done()

	return nil // fake return, err_result can be set elsewhere
}
