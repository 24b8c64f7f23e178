// Package testconfig builds a valid configuration without reading the
// process environment.
package testconfig

import (
	"os"
	"path/filepath"
	"time"

	"github.com/josephcopenhaver/tempo-bot/internal/service/config"
)

func New() (*config.Config, error) {

	conf := &config.Config{
		DiscordBotToken:   "test-token",
		CommandPrefix:     "!",
		ConnectTimeout:    5 * time.Second,
		ConnectAttempts:   1,
		QueueDisplayLimit: 10,
		MailboxSize:       16,
		ResolveRateLimit:  100,
		ResolveBurst:      10,
		MaxPlaylistTracks: 50,
		MetadataCacheDir:  filepath.Join(os.TempDir(), "tempo-bot-test", "media-meta-cache"),
		MetadataCacheSize: 16,
		FFmpegPath:        "ffmpeg",
		Volume:            0.8,
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}
