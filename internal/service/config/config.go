package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordBotToken string `split_words:"true" required:"true"`
	CommandPrefix   string `split_words:"true" default:"!"`

	ConnectTimeout  time.Duration `split_words:"true" default:"60s"`
	ConnectAttempts int           `split_words:"true" default:"3"`

	QueueDisplayLimit int `split_words:"true" default:"10"`
	MailboxSize       int `split_words:"true" default:"16"`

	ResolveRateLimit  float64 `split_words:"true" default:"2"`
	ResolveBurst      int     `split_words:"true" default:"4"`
	MaxPlaylistTracks int     `split_words:"true" default:"50"`

	MetadataCacheDir  string `split_words:"true" default:".media-meta-cache/v1"`
	MetadataCacheSize int    `split_words:"true" default:"1024"`

	FFmpegPath     string  `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	Volume         float64 `default:"0.8"`
	AdjustNiceness bool    `split_words:"true" default:"false"`
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		// DiscordBotToken must not be empty
		validation.Field(&c.DiscordBotToken, validation.Required),
		validation.Field(&c.CommandPrefix, validation.Required, validation.Length(1, 5)),
		validation.Field(&c.ConnectTimeout, validation.Min(time.Second)),
		validation.Field(&c.ConnectAttempts, validation.Min(1), validation.Max(10)),
		validation.Field(&c.QueueDisplayLimit, validation.Min(1), validation.Max(25)),
		validation.Field(&c.MailboxSize, validation.Min(1)),
		validation.Field(&c.ResolveRateLimit, validation.Min(0.01)),
		validation.Field(&c.ResolveBurst, validation.Min(1)),
		validation.Field(&c.MaxPlaylistTracks, validation.Min(1), validation.Max(500)),
		validation.Field(&c.MetadataCacheDir, validation.Required),
		validation.Field(&c.MetadataCacheSize, validation.Min(0)),
		validation.Field(&c.FFmpegPath, validation.Required),
		validation.Field(&c.Volume, validation.Min(0.01), validation.Max(2.0)),
	)
}

// New builds the configuration. Values come from, highest precedence first:
// the process environment, the optional yaml file, a .env file in the
// working directory, then the defaults above.
func New(configFile string) (*Config, error) {

	if configFile != "" {
		if err := loadYAMLFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env file")
	}

	conf := &Config{}

	if err := envconfig.Process("", conf); err != nil {
		return nil, errors.Wrap(err, "failed to process environment")
	}

	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return conf, nil
}

// loadYAMLFile reads a flat yaml mapping whose keys are environment variable
// names in any case, and exports every key that is not already set.
func loadYAMLFile(path string) error {

	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}

	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return errors.Wrap(err, "failed to parse config file")
	}

	for k, v := range m {
		name := strings.ToUpper(strings.ReplaceAll(k, "-", "_"))

		if _, ok := os.LookupEnv(name); ok {
			continue
		}

		if v == nil {
			continue
		}

		switch v.(type) {
		case map[string]any, []any:
			return errors.Newf("config file key %q must be a scalar", k)
		}

		if err := os.Setenv(name, fmt.Sprint(v)); err != nil {
			return errors.Wrapf(err, "failed to export config file key %q", k)
		}
	}

	return nil
}
