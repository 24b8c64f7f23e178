package voice

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotInVoice    = errors.New("you are not in a voice channel")
	ErrConnectFailed = errors.New("failed to connect to the voice channel")
)

type Config struct {
	ConnectTimeout  time.Duration
	ConnectAttempts int
	FFmpegPath      string
	Volume          float64
	AdjustNiceness  bool
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 60 * time.Second
	}

	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 3
	}

	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}

	if c.Volume <= 0 {
		c.Volume = 0.8
	}

	return c
}

// gateway is the part of the discord session the manager talks to.
type gateway interface {
	memberVoiceChannel(guildID, userID string) (string, error)
	join(guildID, channelID string) (voiceLink, error)
	forget(guildID string)
}

type discordGateway struct {
	s *discordgo.Session
}

func (g discordGateway) memberVoiceChannel(guildID, userID string) (string, error) {

	guild, err := g.s.State.Guild(guildID)
	if err != nil {
		return "", errors.Wrap(err, "failed to look up guild state")
	}

	for _, v := range guild.VoiceStates {
		if v.UserID != userID {
			continue
		}

		if v.ChannelID != "" {
			return v.ChannelID, nil
		}

		break
	}

	return "", ErrNotInVoice
}

func (g discordGateway) join(guildID, channelID string) (voiceLink, error) {
	mute := false
	deaf := true

	// can take up to 10 seconds to return a timeout error
	vc, err := g.s.ChannelVoiceJoin(guildID, channelID, mute, deaf)
	if err != nil {
		return nil, err
	}

	return discordLink{vc}, nil
}

// forget drops the session's record of a guild voice connection.
//
// A failed ChannelVoiceJoin closes the connection but leaves it registered
// with the session in an unready state; later joins would reuse it.
func (g discordGateway) forget(guildID string) {
	g.s.Lock()
	defer g.s.Unlock()

	delete(g.s.VoiceConnections, guildID)
}

// Manager owns the voice connection of every guild the bot streams to.
type Manager struct {
	cfg        Config
	gw         gateway
	openPCM    pcmOpener
	newEncoder func() (frameEncoder, error)
	niceness   *nicenessGovernor
	retryDelay time.Duration

	mutex      sync.Mutex
	conns      map[string]*Connection
	guildLocks map[string]*sync.Mutex
}

func NewManager(s *discordgo.Session, cfg Config) *Manager {
	return newManager(discordGateway{s}, cfg)
}

func newManager(gw gateway, cfg Config) *Manager {
	cfg = cfg.withDefaults()

	return &Manager{
		cfg:        cfg,
		gw:         gw,
		openPCM:    ffmpegOpener(cfg.FFmpegPath, cfg.Volume),
		newEncoder: newOpusEncoder,
		niceness:   newNicenessGovernor(cfg.AdjustNiceness),
		retryDelay: time.Second,
		conns:      map[string]*Connection{},
		guildLocks: map[string]*sync.Mutex{},
	}
}

func (m *Manager) guildLock(guildID string) *sync.Mutex {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result, ok := m.guildLocks[guildID]
	if !ok {
		result = &sync.Mutex{}
		m.guildLocks[guildID] = result
	}

	return result
}

func (m *Manager) connection(guildID string) *Connection {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.conns[guildID]
}

func (m *Manager) release(c *Connection) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.conns[c.guildID] == c {
		delete(m.conns, c.guildID)
	}
}

// EnsureConnected returns a live connection in the voice channel the member
// is currently in, moving or joining as needed.
func (m *Manager) EnsureConnected(ctx context.Context, guildID, memberID string) (*Connection, error) {

	channelID, err := m.gw.memberVoiceChannel(guildID, memberID)
	if err != nil {
		return nil, err
	}

	lock := m.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	if c := m.connection(guildID); c != nil {
		if c.IsConnected() {
			if c.ChannelID() == channelID {
				return c, nil
			}

			if err := c.move(channelID); err != nil {
				return nil, errors.Mark(errors.Wrap(err, "failed to move to the voice channel"), ErrConnectFailed)
			}

			log.Info().
				Str("guild_id", guildID).
				Str("channel_id", channelID).
				Msg("voice: moved channel")

			return c, nil
		}

		// stale: dropped by the gateway without going through Disconnect
		_ = c.Disconnect(true)
	}

	link, err := m.join(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}

	c := newConnection(m, guildID, link)

	m.mutex.Lock()
	m.conns[guildID] = c
	m.mutex.Unlock()

	log.Info().
		Str("guild_id", guildID).
		Str("channel_id", channelID).
		Str("voice_session_id", c.id).
		Msg("voice: joined channel")

	return c, nil
}

// Connect is EnsureConnected for callers that only need the playback side
// of the connection.
func (m *Manager) Connect(ctx context.Context, guildID, memberID string) (service.Connection, error) {
	c, err := m.EnsureConnected(ctx, guildID, memberID)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// join retries the gateway join until it succeeds, the attempts run out or
// the connect timeout passes.
func (m *Manager) join(ctx context.Context, guildID, channelID string) (voiceLink, error) {

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	var lastErr error

	for attempt := 1; attempt <= m.cfg.ConnectAttempts; attempt++ {

		link, err := m.joinOnce(ctx, guildID, channelID)
		if err == nil {
			return link, nil
		}

		lastErr = err

		log.Warn().
			Err(err).
			Str("guild_id", guildID).
			Str("channel_id", channelID).
			Int("attempt", attempt).
			Msg("voice: join attempt failed")

		if attempt == m.cfg.ConnectAttempts {
			break
		}

		timer := time.NewTimer(m.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}

		if ctx.Err() != nil {
			break
		}
	}

	return nil, errors.Mark(errors.Wrap(lastErr, "failed to join voice channel"), ErrConnectFailed)
}

func (m *Manager) joinOnce(ctx context.Context, guildID, channelID string) (voiceLink, error) {

	type joinResult struct {
		link voiceLink
		err  error
	}

	resp := make(chan joinResult, 1)

	go func() {
		link, err := m.gw.join(guildID, channelID)
		resp <- joinResult{link, err}
	}()

	select {
	case r := <-resp:
		if r.err != nil {
			m.gw.forget(guildID)
		}

		return r.link, r.err
	case <-ctx.Done():
		// the join keeps running; undo whatever it ends up doing
		go func() {
			r := <-resp
			if r.err == nil {
				_ = r.link.Disconnect()
			}
			m.gw.forget(guildID)
		}()

		return nil, ctx.Err()
	}
}

// Close disconnects every connection.
func (m *Manager) Close() {

	m.mutex.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mutex.Unlock()

	for _, c := range conns {
		if err := c.Disconnect(true); err != nil {
			log.Err(err).
				Str("guild_id", c.guildID).
				Msg("voice: failed to disconnect on shutdown")
		}
	}
}
