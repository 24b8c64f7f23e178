package voice

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrConnectionClosed = errors.New("voice connection is closed")

// voiceLink is the slice of a gateway voice connection that playback needs.
type voiceLink interface {
	ChannelID() string
	Ready() bool
	OpusSend() chan<- []byte
	Speaking(bool) error
	ChangeChannel(channelID string, mute, deaf bool) error
	Disconnect() error
}

type discordLink struct {
	vc *discordgo.VoiceConnection
}

func (l discordLink) ChannelID() string {
	l.vc.RLock()
	defer l.vc.RUnlock()

	return l.vc.ChannelID
}

func (l discordLink) Ready() bool {
	l.vc.RLock()
	defer l.vc.RUnlock()

	return l.vc.Ready
}

func (l discordLink) OpusSend() chan<- []byte {
	l.vc.RLock()
	defer l.vc.RUnlock()

	return l.vc.OpusSend
}

func (l discordLink) Speaking(b bool) error {
	return l.vc.Speaking(b)
}

func (l discordLink) ChangeChannel(channelID string, mute, deaf bool) error {
	return l.vc.ChangeChannel(channelID, mute, deaf)
}

func (l discordLink) Disconnect() error {
	return l.vc.Disconnect()
}

type activeStream struct {
	cancel context.CancelFunc
	track  *service.Track
}

// Connection is a live voice connection for one guild.
//
// It satisfies service.Connection.
type Connection struct {
	id      string
	guildID string
	link    voiceLink
	m       *Manager

	mutex  sync.Mutex
	stream *activeStream
	closed bool
}

func newConnection(m *Manager, guildID string, link voiceLink) *Connection {
	return &Connection{
		id:      uuid.NewString(),
		guildID: guildID,
		link:    link,
		m:       m,
	}
}

func (c *Connection) logger() zerolog.Logger {
	return log.With().
		Str("guild_id", c.guildID).
		Str("voice_session_id", c.id).
		Logger()
}

// ID identifies this connection in logs.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) ChannelID() string {
	return c.link.ChannelID()
}

// Play starts streaming t on a new goroutine. onFinished is called exactly
// once from that goroutine when the stream ends for any reason.
//
// A stream that is still running is cancelled first.
func (c *Connection) Play(t *service.Track, onFinished func(error)) error {

	if t == nil || t.Source == nil {
		return errors.New("track has no playable source")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	if prev := c.stream; prev != nil {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &activeStream{
		cancel: cancel,
		track:  t,
	}
	c.stream = s

	go c.runStream(ctx, s, onFinished)

	return nil
}

func (c *Connection) runStream(ctx context.Context, s *activeStream, onFinished func(error)) {
	var err error

	l := c.logger()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Mark(errors.Newf("stream panicked: %v", r), service.ErrPlayback)
		}

		s.cancel()

		c.mutex.Lock()
		if c.stream == s {
			c.stream = nil
		}
		c.mutex.Unlock()

		l.Debug().
			Str("track_url", s.track.PageURL).
			Msg("voice: stream ended")

		onFinished(err)
	}()

	l.Debug().
		Str("track_url", s.track.PageURL).
		Msg("voice: stream starting")

	err = c.streamTrack(ctx, s.track)
}

func (c *Connection) streamTrack(ctx context.Context, t *service.Track) error {

	streamURL, err := t.Source.StreamURL(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return errors.Mark(errors.Wrap(err, "failed to get stream url"), service.ErrPlayback)
	}

	enc, err := c.m.newEncoder()
	if err != nil {
		return errors.Mark(err, service.ErrPlayback)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pcm, err := c.m.openPCM(ctx, streamURL)
	if err != nil {
		return errors.Mark(err, service.ErrPlayback)
	}

	c.m.niceness.acquire()
	defer c.m.niceness.release()

	if err := c.link.Speaking(true); err != nil {
		l := c.logger()
		l.Warn().Err(err).Msg("voice: failed to set speaking")
	}
	defer func() {
		if err := c.link.Speaking(false); err != nil {
			l := c.logger()
			l.Debug().Err(err).Msg("voice: failed to clear speaking")
		}
	}()

	sendErr := sendFrames(ctx, pcm, enc, c.sendFrame)

	interrupted := sendErr != nil || ctx.Err() != nil
	if interrupted {
		cancel()
	}

	waitErr := pcm.Wait()

	if sendErr != nil {
		return sendErr
	}

	if !interrupted && waitErr != nil {
		return errors.Mark(waitErr, service.ErrPlayback)
	}

	return nil
}

func (c *Connection) sendFrame(ctx context.Context, packet []byte) error {

	ch := c.link.OpusSend()
	if ch == nil {
		return errors.New("voice connection has no sender")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ch <- packet:
		return nil
	}
}

// StopCurrent cancels the active stream, if any. Its onFinished callback
// fires from the streaming goroutine.
func (c *Connection) StopCurrent() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if s := c.stream; s != nil {
		s.cancel()
	}
}

func (c *Connection) IsPlaying() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.stream != nil
}

func (c *Connection) IsConnected() bool {
	c.mutex.Lock()
	closed := c.closed
	c.mutex.Unlock()

	return !closed && c.link.Ready()
}

// Disconnect stops any stream and leaves the voice channel. Calling it on a
// closed connection is a no-op.
//
// With force set, a failure to leave cleanly is logged and the connection
// is still dropped from the session.
func (c *Connection) Disconnect(force bool) error {

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	if s := c.stream; s != nil {
		s.cancel()
	}
	c.mutex.Unlock()

	c.m.release(c)

	l := c.logger()

	if err := c.link.Disconnect(); err != nil {
		if !force {
			return errors.Wrap(err, "failed to leave voice channel")
		}

		l.Warn().
			Err(err).
			Msg("voice: failed to leave voice channel cleanly, dropping it")

		c.m.gw.forget(c.guildID)
	}

	l.Info().Msg("voice: disconnected")

	return nil
}

func (c *Connection) move(channelID string) error {
	return c.link.ChangeChannel(channelID, false, true)
}
