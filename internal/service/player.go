package service

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Signal: a command that can be sent to the player
type Signal int8

const (
	SignalUnusedLower Signal = iota - 1
	//
	SignalNewVoiceConnection
	SignalSetTextChannel
	SignalEnqueue
	SignalAdvanceIfIdle
	SignalFinished
	SignalSkip
	SignalStop
	SignalToggleLoop
	SignalSnapshot
	//
	SignalUnusedUpper
)

func (s Signal) String() string {
	return []string{
		"new-voice-connection",
		"set-text-channel",
		"enqueue",
		"advance-if-idle",
		"finished",
		"skip",
		"stop",
		"toggle-loop",
		"snapshot",
	}[int(s)]
}

type tracedSignal struct {
	sig    Signal
	tracks []*Track
	conn   Connection
	text   string
	epoch  uint64
	err    error
	reply  chan any
}

type State int8

const (
	StateUnusedLower State = iota - 1
	//
	StateIdle
	StatePlaying
	//
	StateUnusedUpper
)

func (s State) String() string {
	return []string{
		"idle",
		"playing",
	}[int(s)]
}

// Snapshot is a read-only view of a player for status reporting.
type Snapshot struct {
	Current  *Track
	Upcoming []*Track
	Total    int
	Loop     bool
	State    State
}

// Stalled reports a current track that has no play attempt behind it, which
// happens when the voice connection went away before the track could start.
// A new connection followed by AdvanceIfIdle starts it.
func (s Snapshot) Stalled() bool {
	return s.Current != nil && s.State == StateIdle
}

// playerMemory is the playback context of one guild.
//
// Only the player worker goroutine reads or writes it.
type playerMemory struct {
	pending       []*Track
	current       *Track
	loopEnabled   bool
	conn          Connection
	textChannelID string

	// epoch identifies the latest play attempt; finished signals carrying
	// any other epoch are stale
	epoch    uint64
	inFlight bool
}

// reset clears everything except the epoch, which only moves forward.
func (m *playerMemory) reset() {
	*m = playerMemory{
		epoch:         m.epoch + 1,
		textChannelID: m.textChannelID,
	}
}

type PlayerOptions struct {
	Announcer    Announcer
	MailboxSize  int
	DisplayLimit int
}

func (o PlayerOptions) withDefaults() PlayerOptions {
	if o.Announcer == nil {
		o.Announcer = discardAnnouncer{}
	}

	if o.MailboxSize <= 0 {
		o.MailboxSize = 16
	}

	if o.DisplayLimit <= 0 {
		o.DisplayLimit = 10
	}

	return o
}

type Player struct {
	guildID    string
	opts       PlayerOptions
	signalChan chan tracedSignal
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

func NewPlayer(guildID string, opts PlayerOptions) *Player {

	opts = opts.withDefaults()

	p := &Player{
		guildID:    guildID,
		opts:       opts,
		signalChan: make(chan tracedSignal, opts.MailboxSize),
		done:       make(chan struct{}),
	}

	p.wg.Add(1)
	go playerWorker(p)

	return p
}

func (p *Player) GuildID() string {
	return p.guildID
}

// post delivers a signal without waiting for it to be processed.
func (p *Player) post(s tracedSignal) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case <-p.done:
		return false
	case p.signalChan <- s:
		return true
	}
}

// call delivers a signal and waits for the worker's reply.
//
// Returns nil when the player is closed.
func (p *Player) call(s tracedSignal) any {
	reply := make(chan any, 1)
	s.reply = reply

	if !p.post(s) {
		return nil
	}

	select {
	case <-p.done:
		return nil
	case v := <-reply:
		return v
	}
}

// SetConnection records the live connection to stream through.
func (p *Player) SetConnection(c Connection) {
	p.call(tracedSignal{sig: SignalNewVoiceConnection, conn: c})
}

// SetTextChannel records where status lines are announced.
func (p *Player) SetTextChannel(channelID string) {
	p.call(tracedSignal{sig: SignalSetTextChannel, text: channelID})
}

// Enqueue appends tracks to the queue in order.
func (p *Player) Enqueue(tracks []*Track) {
	if len(tracks) == 0 {
		return
	}

	p.call(tracedSignal{sig: SignalEnqueue, tracks: tracks})
}

// AdvanceIfIdle starts the next track when nothing is playing.
//
// Returns true if a play attempt was started.
func (p *Player) AdvanceIfIdle() bool {
	v, _ := p.call(tracedSignal{sig: SignalAdvanceIfIdle}).(bool)
	return v
}

// Skip stops the current track. The transport's completion notification
// advances the queue; Skip itself never does.
//
// Returns true if something was playing.
func (p *Player) Skip() bool {
	v, _ := p.call(tracedSignal{sig: SignalSkip}).(bool)
	return v
}

// Stop clears loop mode, the queue and the current track, then stops and
// disconnects the voice connection. Safe to call when idle.
func (p *Player) Stop() {
	p.call(tracedSignal{sig: SignalStop})
}

// ToggleLoop flips loop mode and returns the new value.
func (p *Player) ToggleLoop() bool {
	v, _ := p.call(tracedSignal{sig: SignalToggleLoop}).(bool)
	return v
}

func (p *Player) Snapshot() Snapshot {
	v, _ := p.call(tracedSignal{sig: SignalSnapshot}).(Snapshot)
	return v
}

// Close stops playback and terminates the worker goroutine.
func (p *Player) Close() {
	p.closeOnce.Do(func() {
		p.Stop()
		close(p.done)
	})

	p.wg.Wait()
}

func playerWorker(p *Player) {
	defer p.wg.Done()

	m := &playerMemory{}

	debug := func() *zerolog.Event {
		return log.Debug().
			Str("guild_id", p.guildID).
			Uint64("epoch", m.epoch)
	}

	debug().Msg("player: starting")
	defer debug().Msg("player: stopped")

	for {
		select {
		case <-p.done:
			return
		case s := <-p.signalChan:
			p.handleSignal(m, s)
		}
	}
}

func (p *Player) handleSignal(m *playerMemory, s tracedSignal) {
	var result any

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("error", r).
				Str("signal", s.sig.String()).
				Str("guild_id", p.guildID).
				Msg("player: recovered from panic")
		}

		if s.reply != nil {
			s.reply <- result
		}
	}()

	switch s.sig {
	case SignalNewVoiceConnection:
		m.conn = s.conn
	case SignalSetTextChannel:
		m.textChannelID = s.text
	case SignalEnqueue:
		m.pending = append(m.pending, s.tracks...)
	case SignalAdvanceIfIdle:
		result = p.advanceIfIdle(m)
	case SignalFinished:
		p.onPlaybackFinished(m, s.epoch, s.err)
	case SignalSkip:
		result = p.skip(m)
	case SignalStop:
		p.stop(m)
	case SignalToggleLoop:
		m.loopEnabled = !m.loopEnabled
		result = m.loopEnabled
	case SignalSnapshot:
		result = p.snapshot(m)
	default:
		log.Error().
			Int("signal", int(s.sig)).
			Msg("player: unknown signal")
	}
}

func (p *Player) advanceIfIdle(m *playerMemory) bool {

	if m.inFlight {
		return false
	}

	// a track can be left current without an attempt when the connection
	// was gone at advance time; start it rather than skipping past it
	if m.current != nil {
		return p.startCurrent(m)
	}

	return p.advance(m)
}

func (p *Player) onPlaybackFinished(m *playerMemory, epoch uint64, err error) {

	if epoch != m.epoch || !m.inFlight {
		log.Debug().
			Str("guild_id", p.guildID).
			Uint64("epoch", epoch).
			Uint64("current_epoch", m.epoch).
			Msg("player: ignoring stale completion")
		return
	}

	m.inFlight = false

	if err != nil {
		l := log.Err(err).
			Str("guild_id", p.guildID).
			Uint64("epoch", epoch)
		if t := m.current; t != nil {
			l = l.Str("track_url", t.PageURL)
		}
		l.Msg("player: track ended with an error")
	}

	p.advance(m)
}

// advance decides and starts what plays next, or disconnects when the
// queue is drained.
//
// Returns true if a play attempt was started.
func (p *Player) advance(m *playerMemory) bool {

	if len(m.pending) == 0 && m.loopEnabled && m.current != nil {
		m.pending = append(m.pending, m.current)
	}

	if len(m.pending) == 0 {
		m.current = nil

		if c := m.conn; c != nil {
			m.conn = nil

			if c.IsConnected() {
				if err := c.Disconnect(true); err != nil {
					log.Err(err).
						Str("guild_id", p.guildID).
						Msg("player: failed to disconnect after the queue drained")
				}
			}
		}

		log.Debug().
			Str("guild_id", p.guildID).
			Msg("player: queue drained")

		return false
	}

	next := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]
	if len(m.pending) == 0 {
		m.pending = nil
	}

	m.current = next

	return p.startCurrent(m)
}

func (p *Player) startCurrent(m *playerMemory) bool {

	m.epoch++

	c := m.conn
	if c == nil || !c.IsConnected() {
		log.Warn().
			Str("guild_id", p.guildID).
			Str("track_url", m.current.PageURL).
			Msg("player: no live voice connection, not starting playback")
		return false
	}

	t := m.current
	token := newFinishToken(p, m.epoch)
	m.inFlight = true

	if err := c.Play(t, token.Finished); err != nil {
		// route the failure through the same completion path; posting from
		// the worker itself must not wait on its own mailbox
		go token.Finished(errors.Mark(errors.Wrap(err, "failed to start playback"), ErrPlayback))
		return true
	}

	log.Info().
		Str("guild_id", p.guildID).
		Uint64("epoch", m.epoch).
		Str("track_url", t.PageURL).
		Str("title", t.Title).
		Msg("player: now playing")

	if m.textChannelID != "" {
		msg := "now playing: **" + t.DisplayTitle() + "**"
		if t.RequestedBy != "" {
			msg += " ( added by " + t.RequestedBy + " )"
		}

		p.opts.Announcer.Announce(m.textChannelID, msg)
	}

	return true
}

func (p *Player) skip(m *playerMemory) bool {

	if !m.inFlight || m.conn == nil {
		return false
	}

	m.conn.StopCurrent()

	return true
}

func (p *Player) stop(m *playerMemory) {

	c := m.conn

	m.reset()

	if c == nil {
		return
	}

	c.StopCurrent()

	if err := c.Disconnect(false); err != nil {
		log.Err(err).
			Str("guild_id", p.guildID).
			Msg("player: failed to disconnect on stop")
	}
}

func (p *Player) snapshot(m *playerMemory) Snapshot {

	n := len(m.pending)
	if n > p.opts.DisplayLimit {
		n = p.opts.DisplayLimit
	}

	result := Snapshot{
		Current:  m.current,
		Upcoming: make([]*Track, n),
		Total:    len(m.pending),
		Loop:     m.loopEnabled,
		State:    StateIdle,
	}

	copy(result.Upcoming, m.pending)

	if m.inFlight {
		result.State = StatePlaying
	}

	return result
}
