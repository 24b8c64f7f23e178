package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	err   error
	calls int
}

func (e *fakeEncoder) Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}

	return []byte{byte(e.calls)}, nil
}

func pcmFrames(n int) []byte {
	var buf bytes.Buffer

	frame := make([]int16, FrameSize*NumChannels)
	for i := 0; i < n; i++ {
		_ = binary.Write(&buf, binary.LittleEndian, frame)
	}

	return buf.Bytes()
}

func TestSendFrames(t *testing.T) {
	t.Run("sends one packet per full frame and drops the partial tail", func(t *testing.T) {
		in := append(pcmFrames(3), 1, 2, 3)

		var sent [][]byte
		err := sendFrames(context.Background(), bytes.NewReader(in), &fakeEncoder{}, func(_ context.Context, p []byte) error {
			sent = append(sent, p)
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, [][]byte{{1}, {2}, {3}}, sent)
	})

	t.Run("encode failure is a playback error", func(t *testing.T) {
		err := sendFrames(context.Background(), bytes.NewReader(pcmFrames(1)), &fakeEncoder{err: errors.New("bad frame")}, func(context.Context, []byte) error {
			return nil
		})

		require.Error(t, err)
		assert.True(t, errors.Is(err, service.ErrPlayback))
	})

	t.Run("cancelled context stops without error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := sendFrames(ctx, bytes.NewReader(pcmFrames(2)), &fakeEncoder{}, func(context.Context, []byte) error {
			calls++
			return nil
		})

		require.NoError(t, err)
		assert.Zero(t, calls)
	})
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("https://media.example/stream", 0.8)

	assert.Equal(t, []string{"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5"}, args[:6])
	assert.Contains(t, args, "volume=0.8")
	assert.Contains(t, args, "-vn")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	idx := 0
	for i, v := range args {
		if v == "-i" {
			idx = i
		}
	}
	assert.Equal(t, "https://media.example/stream", args[idx+1])
}

// blockingPCM produces silence until its context is cancelled.
type blockingPCM struct {
	ctx context.Context
}

func (b *blockingPCM) Read(p []byte) (int, error) {
	select {
	case <-b.ctx.Done():
		return 0, io.EOF
	case <-time.After(time.Millisecond):
	}

	for i := range p {
		p[i] = 0
	}

	return len(p), nil
}

func (b *blockingPCM) Wait() error {
	return nil
}

type fakeLink struct {
	mu          sync.Mutex
	channelID   string
	ready       bool
	send        chan []byte
	moves       []string
	disconnects int
}

func newFakeLink(channelID string) *fakeLink {
	l := &fakeLink{
		channelID: channelID,
		ready:     true,
		send:      make(chan []byte),
	}

	go func() {
		for range l.send {
		}
	}()

	return l
}

func (l *fakeLink) ChannelID() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.channelID
}

func (l *fakeLink) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ready
}

func (l *fakeLink) OpusSend() chan<- []byte {
	return l.send
}

func (l *fakeLink) Speaking(bool) error {
	return nil
}

func (l *fakeLink) ChangeChannel(channelID string, mute, deaf bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.moves = append(l.moves, channelID)
	l.channelID = channelID

	return nil
}

func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.disconnects++
	l.ready = false

	return nil
}

type fakeGateway struct {
	mu        sync.Mutex
	channels  map[string]string
	joinErr   error
	joins     int
	forgotten int
	links     []*fakeLink
}

func (g *fakeGateway) memberVoiceChannel(guildID, userID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ch, ok := g.channels[userID]; ok {
		return ch, nil
	}

	return "", ErrNotInVoice
}

func (g *fakeGateway) join(guildID, channelID string) (voiceLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.joins++
	if g.joinErr != nil {
		return nil, g.joinErr
	}

	l := newFakeLink(channelID)
	g.links = append(g.links, l)

	return l, nil
}

func (g *fakeGateway) forget(string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.forgotten++
}

func newTestManager(gw *fakeGateway) *Manager {
	m := newManager(gw, Config{ConnectTimeout: time.Second, ConnectAttempts: 3})
	m.retryDelay = time.Millisecond
	m.newEncoder = func() (frameEncoder, error) {
		return &fakeEncoder{}, nil
	}
	m.openPCM = func(ctx context.Context, _ string) (pcmStream, error) {
		return &blockingPCM{ctx}, nil
	}

	return m
}

func TestEnsureConnected(t *testing.T) {
	t.Run("member outside voice", func(t *testing.T) {
		m := newTestManager(&fakeGateway{})

		_, err := m.EnsureConnected(context.Background(), "g1", "u1")
		assert.True(t, errors.Is(err, ErrNotInVoice))
	})

	t.Run("joins once and reuses the connection", func(t *testing.T) {
		gw := &fakeGateway{channels: map[string]string{"u1": "c1"}}
		m := newTestManager(gw)

		c1, err := m.EnsureConnected(context.Background(), "g1", "u1")
		require.NoError(t, err)
		assert.True(t, c1.IsConnected())

		c2, err := m.EnsureConnected(context.Background(), "g1", "u1")
		require.NoError(t, err)
		assert.Same(t, c1, c2)
		assert.Equal(t, 1, gw.joins)
	})

	t.Run("moves to the member's new channel", func(t *testing.T) {
		gw := &fakeGateway{channels: map[string]string{"u1": "c1", "u2": "c2"}}
		m := newTestManager(gw)

		c1, err := m.EnsureConnected(context.Background(), "g1", "u1")
		require.NoError(t, err)

		c2, err := m.EnsureConnected(context.Background(), "g1", "u2")
		require.NoError(t, err)
		assert.Same(t, c1, c2)
		assert.Equal(t, []string{"c2"}, gw.links[0].moves)
		assert.Equal(t, "c2", c2.ChannelID())
	})

	t.Run("rejoins after disconnect", func(t *testing.T) {
		gw := &fakeGateway{channels: map[string]string{"u1": "c1"}}
		m := newTestManager(gw)

		c1, err := m.EnsureConnected(context.Background(), "g1", "u1")
		require.NoError(t, err)
		require.NoError(t, c1.Disconnect(false))
		require.NoError(t, c1.Disconnect(false))
		assert.False(t, c1.IsConnected())

		c2, err := m.EnsureConnected(context.Background(), "g1", "u1")
		require.NoError(t, err)
		assert.NotSame(t, c1, c2)
		assert.Equal(t, 2, gw.joins)
	})

	t.Run("join failures exhaust the attempts", func(t *testing.T) {
		gw := &fakeGateway{
			channels: map[string]string{"u1": "c1"},
			joinErr:  errors.New("timeout waiting for voice"),
		}
		m := newTestManager(gw)

		_, err := m.EnsureConnected(context.Background(), "g1", "u1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConnectFailed))
		assert.Equal(t, 3, gw.joins)
		assert.Equal(t, 3, gw.forgotten)
	})
}

func TestConnectionPlay(t *testing.T) {
	source := service.SourceFunc(func(context.Context) (string, error) {
		return "stream://a", nil
	})

	newConn := func(t *testing.T) *Connection {
		gw := &fakeGateway{channels: map[string]string{"u1": "c1"}}
		m := newTestManager(gw)

		c, err := m.EnsureConnected(context.Background(), "g1", "u1")
		require.NoError(t, err)

		return c
	}

	t.Run("stop current fires the callback exactly once", func(t *testing.T) {
		c := newConn(t)

		finished := make(chan error, 4)
		require.NoError(t, c.Play(&service.Track{Title: "a", Source: source}, func(err error) {
			finished <- err
		}))

		assert.True(t, c.IsPlaying())

		c.StopCurrent()
		c.StopCurrent()

		select {
		case err := <-finished:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("callback never fired")
		}

		select {
		case <-finished:
			t.Fatal("callback fired twice")
		case <-time.After(50 * time.Millisecond):
		}

		assert.False(t, c.IsPlaying())
	})

	t.Run("source failure ends the stream with a playback error", func(t *testing.T) {
		c := newConn(t)

		finished := make(chan error, 1)
		bad := service.SourceFunc(func(context.Context) (string, error) {
			return "", errors.New("video unavailable")
		})

		require.NoError(t, c.Play(&service.Track{Title: "a", Source: bad}, func(err error) {
			finished <- err
		}))

		select {
		case err := <-finished:
			assert.True(t, errors.Is(err, service.ErrPlayback))
		case <-time.After(2 * time.Second):
			t.Fatal("callback never fired")
		}
	})

	t.Run("play on a closed connection fails", func(t *testing.T) {
		c := newConn(t)
		require.NoError(t, c.Disconnect(true))

		err := c.Play(&service.Track{Title: "a", Source: source}, func(error) {})
		assert.True(t, errors.Is(err, ErrConnectionClosed))
	})

	t.Run("disconnect ends an active stream", func(t *testing.T) {
		c := newConn(t)

		finished := make(chan error, 1)
		require.NoError(t, c.Play(&service.Track{Title: "a", Source: source}, func(err error) {
			finished <- err
		}))

		require.NoError(t, c.Disconnect(false))

		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatal("callback never fired")
		}
	})
}

func TestNicenessGovernor(t *testing.T) {
	var calls []int

	g := newNicenessGovernor(true)
	g.set = func(n int) error {
		calls = append(calls, n)
		return nil
	}

	g.acquire()
	g.acquire()
	g.release()
	g.release()
	g.release()

	assert.Equal(t, []int{nicenessStreaming, NicenessIdle}, calls)

	disabled := newNicenessGovernor(false)
	disabled.set = func(int) error {
		t.Fatal("niceness changed while disabled")
		return nil
	}
	disabled.acquire()
	disabled.release()
}
