package handlers

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/resolve"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
	"github.com/josephcopenhaver/tempo-bot/internal/service/server/reactions"
	"github.com/josephcopenhaver/tempo-bot/internal/voice"
	. "github.com/smartystreets/goconvey/convey"
)

type stubConn struct {
	mu        sync.Mutex
	closed    bool
	plays     []string
	finishers []func(error)
}

func (c *stubConn) Play(t *service.Track, onFinished func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.plays = append(c.plays, t.Title)
	c.finishers = append(c.finishers, onFinished)

	return nil
}

func (c *stubConn) StopCurrent() {}

func (c *stubConn) Disconnect(bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

func (c *stubConn) IsPlaying() bool { return true }

func (c *stubConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.closed
}

func (c *stubConn) played() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.plays...)
}

func (c *stubConn) finish(i int) {
	c.mu.Lock()
	f := c.finishers[i]
	c.mu.Unlock()

	f(nil)
}

// stubConnector hands out conns in order, then conn for every later call.
type stubConnector struct {
	conn  *stubConn
	conns []*stubConn
	err   error
	calls int
}

func (c *stubConnector) Connect(_ context.Context, _, _ string) (service.Connection, error) {
	c.calls++

	if c.err != nil {
		return nil, c.err
	}

	if len(c.conns) > 0 {
		v := c.conns[0]
		c.conns = c.conns[1:]
		return v, nil
	}

	return c.conn, nil
}

type stubResolver struct {
	result    resolve.Result
	err       error
	queries   []string
	mentions  []string
	onResolve func()
}

func (r *stubResolver) Resolve(_ context.Context, raw string, requestedBy string) (resolve.Result, error) {
	r.queries = append(r.queries, raw)
	r.mentions = append(r.mentions, requestedBy)

	if f := r.onResolve; f != nil {
		r.onResolve = nil
		f()
	}

	if r.err != nil {
		return resolve.Result{}, r.err
	}

	return r.result, nil
}

func titled(titles ...string) []*service.Track {
	result := make([]*service.Track, len(titles))
	for i, v := range titles {
		result[i] = &service.Track{Title: v, PageURL: "https://example.com/" + v}
	}

	return result
}

func testRequest(query string) playRequest {
	return playRequest{
		GuildID:   "g1",
		MemberID:  "u1",
		Mention:   "<@u1>",
		ChannelID: "c1",
		Query:     query,
	}
}

func TestHandlePlayRequest(t *testing.T) {
	Convey("given an idle player", t, func() {
		p := service.NewPlayer("g1", service.PlayerOptions{})
		defer p.Close()

		conn := &stubConn{}
		vc := &stubConnector{conn: conn}
		r := &stubResolver{result: resolve.Result{Tracks: titled("a")}}
		ctx := context.Background()

		Convey("a single track starts playing without a reply", func() {
			msg, err := handlePlayRequest(ctx, vc, r, p, testRequest("some song"))
			So(err, ShouldBeNil)
			So(msg, ShouldEqual, "")
			So(conn.played(), ShouldResemble, []string{"a"})
			So(r.queries, ShouldResemble, []string{"some song"})
			So(r.mentions, ShouldResemble, []string{"<@u1>"})
			So(vc.calls, ShouldEqual, 2)
		})

		Convey("requests made while playing are queued and reported", func() {
			_, err := handlePlayRequest(ctx, vc, r, p, testRequest("first"))
			So(err, ShouldBeNil)

			r.result = resolve.Result{Tracks: titled("b")}
			msg, err := handlePlayRequest(ctx, vc, r, p, testRequest("second"))
			So(err, ShouldBeNil)
			So(msg, ShouldEqual, "queued **b**")

			r.result = resolve.Result{Tracks: titled("c", "d", "e")}
			msg, err = handlePlayRequest(ctx, vc, r, p, testRequest("a playlist"))
			So(err, ShouldBeNil)
			So(msg, ShouldEqual, "queued 3 tracks")

			snap := p.Snapshot()
			So(snap.Current.Title, ShouldEqual, "a")
			So(snap.Total, ShouldEqual, 4)
			So(conn.played(), ShouldResemble, []string{"a"})
		})

		Convey("a truncated playlist still plays but reports a warning", func() {
			r.result = resolve.Result{Tracks: titled("a", "b"), Truncated: true}

			msg, err := handlePlayRequest(ctx, vc, r, p, testRequest("big playlist"))
			So(msg, ShouldEqual, "")
			So(err, ShouldNotBeNil)

			var w interface{ Reaction() reactions.ReactionStatus }
			So(errors.As(err, &w), ShouldBeTrue)
			So(w.Reaction(), ShouldEqual, reactions.ReactionStatusWarning)
			So(p.Snapshot().Total, ShouldEqual, 1)
		})

		Convey("a member outside voice gets an error and nothing is resolved", func() {
			vc.err = voice.ErrNotInVoice

			_, err := handlePlayRequest(ctx, vc, r, p, testRequest("x"))
			So(errors.Is(err, voice.ErrNotInVoice), ShouldBeTrue)
			So(r.queries, ShouldBeEmpty)
			So(p.Snapshot().Current, ShouldBeNil)
		})

		Convey("when the last track ends while the next request resolves", func() {
			_, err := handlePlayRequest(ctx, vc, r, p, testRequest("first"))
			So(err, ShouldBeNil)

			fresh := &stubConn{}
			vc.conns = []*stubConn{conn, fresh}
			r.result = resolve.Result{Tracks: titled("b")}
			r.onResolve = func() {
				conn.finish(0)
				So(p.Snapshot().Current, ShouldBeNil)
				So(conn.IsConnected(), ShouldBeFalse)
			}

			msg, err := handlePlayRequest(ctx, vc, r, p, testRequest("second"))
			So(err, ShouldBeNil)
			So(msg, ShouldEqual, "")
			So(fresh.played(), ShouldResemble, []string{"b"})
			So(conn.played(), ShouldResemble, []string{"a"})
			So(p.Snapshot().State, ShouldEqual, service.StatePlaying)
		})

		Convey("when stop runs while the next request resolves", func() {
			_, err := handlePlayRequest(ctx, vc, r, p, testRequest("first"))
			So(err, ShouldBeNil)

			fresh := &stubConn{}
			vc.conns = []*stubConn{conn, fresh}
			r.result = resolve.Result{Tracks: titled("b")}
			r.onResolve = p.Stop

			msg, err := handlePlayRequest(ctx, vc, r, p, testRequest("second"))
			So(err, ShouldBeNil)
			So(msg, ShouldEqual, "")
			So(fresh.played(), ShouldResemble, []string{"b"})

			snap := p.Snapshot()
			So(snap.Current.Title, ShouldEqual, "b")
			So(snap.Stalled(), ShouldBeFalse)
		})

		Convey("a connection that drops before playback starts is replaced once", func() {
			dead := &stubConn{closed: true}
			fresh := &stubConn{}
			vc.conns = []*stubConn{conn, dead, fresh}

			msg, err := handlePlayRequest(ctx, vc, r, p, testRequest("x"))
			So(err, ShouldBeNil)
			So(msg, ShouldEqual, "")
			So(vc.calls, ShouldEqual, 3)
			So(dead.played(), ShouldBeEmpty)
			So(fresh.played(), ShouldResemble, []string{"a"})
		})

		Convey("a request that still cannot start reports an error", func() {
			vc.conns = []*stubConn{conn, {closed: true}, {closed: true}}

			_, err := handlePlayRequest(ctx, vc, r, p, testRequest("x"))
			So(errors.Is(err, errNotStarted), ShouldBeTrue)
			So(p.Snapshot().Stalled(), ShouldBeTrue)
		})

		Convey("a failed resolution queues nothing", func() {
			r.err = errors.Mark(errors.New("nope"), resolve.ErrResolutionFailed)

			_, err := handlePlayRequest(ctx, vc, r, p, testRequest("x"))
			So(errors.Is(err, resolve.ErrResolutionFailed), ShouldBeTrue)

			snap := p.Snapshot()
			So(snap.Current, ShouldBeNil)
			So(snap.Total, ShouldEqual, 0)
			So(conn.played(), ShouldBeEmpty)
		})
	})
}

func TestMatchers(t *testing.T) {
	Convey("given the registered handlers", t, func() {
		p := service.NewPlayer("g1", service.PlayerOptions{})
		defer p.Close()

		play := Play(&stubConnector{}, &stubResolver{})

		Convey("play captures the whole query", func() {
			So(play.Matcher(p, "play  never gonna give you up "), ShouldNotBeNil)
			So(regexMap(playPattern, "play never gonna give you up")["query"], ShouldEqual, "never gonna give you up")
			So(play.Matcher(p, "play"), ShouldBeNil)
			So(play.Matcher(p, "playlist x"), ShouldBeNil)
		})

		Convey("commands match in any case", func() {
			So(play.Matcher(p, "Play Some Song"), ShouldNotBeNil)
			So(regexMap(playPattern, "PLAY Some Song")["query"], ShouldEqual, "Some Song")
			So(ShowQueue().Matcher(p, "Queue"), ShouldNotBeNil)
			So(ShowQueue().Matcher(p, "SHOW Queue"), ShouldNotBeNil)
			So(SetTextChannel().Matcher(p, "Set Text Channel"), ShouldNotBeNil)
		})

		Convey("player commands do not match outside a guild", func() {
			So(play.Matcher(nil, "play x"), ShouldBeNil)
			So(Stop().Matcher(nil, "stop"), ShouldBeNil)
		})

		Convey("word matchers accept aliases in any case", func() {
			next := Next()
			So(next.Matcher(p, "skip"), ShouldNotBeNil)
			So(next.Matcher(p, " NEXT "), ShouldNotBeNil)
			So(next.Matcher(p, "skipper"), ShouldBeNil)

			repeat := Repeat()
			So(repeat.Matcher(p, "loop"), ShouldNotBeNil)
			So(repeat.Matcher(p, "repeat"), ShouldNotBeNil)
		})

		Convey("queue has a long and a short form", func() {
			q := ShowQueue()
			So(q.Matcher(p, "queue"), ShouldNotBeNil)
			So(q.Matcher(p, "show queue"), ShouldNotBeNil)
			So(q.Matcher(p, "show"), ShouldBeNil)
		})

		Convey("ping and help work in direct messages", func() {
			So(Ping().Matcher(nil, "ping"), ShouldNotBeNil)
			So(Help(nil).Matcher(nil, "help"), ShouldNotBeNil)
		})
	})
}

func TestHelpText(t *testing.T) {
	Convey("help lists commands sorted by name", t, func() {
		msg := helpText([]HandleMessageCreate{Stop(), Ping(), Next()})

		So(msg, ShouldStartWith, "---\nnext:\n")
		So(strings.Index(msg, "ping:"), ShouldBeLessThan, strings.Index(msg, "stop:"))
		So(msg, ShouldContainSubstring, "  usage: next | skip\n")
	})
}

func TestFormatSnapshot(t *testing.T) {
	Convey("given a snapshot", t, func() {

		Convey("an empty queue says so", func() {
			So(formatSnapshot(service.Snapshot{}), ShouldEqual, "the queue is empty")
		})

		Convey("the current track comes first, then numbered upcoming tracks", func() {
			cur := titled("now")[0]
			msg := formatSnapshot(service.Snapshot{
				Current:  cur,
				Upcoming: titled("x", "y"),
				Total:    5,
				Loop:     true,
			})

			So(msg, ShouldEqual, "queue:\nnow playing: now\n1. x\n2. y\n... and 3 more\nloop: on")
		})

		Convey("untitled tracks show their url", func() {
			msg := formatSnapshot(service.Snapshot{
				Upcoming: []*service.Track{{PageURL: "https://example.com/z"}},
				Total:    1,
			})

			So(msg, ShouldEqual, "queue:\n1. https://example.com/z")
		})
	})
}
