package service

import (
	"github.com/rs/zerolog/log"
)

// set by the main package from build flags
var Version string
var Commit string

func StartupMessage(name string) {
	log.Info().
		Str("Version", Version).
		Str("Commit", Commit).
		Msg("starting " + name)
}
