package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrPlayback marks a failure that happened while a track was streaming.
//
// Playback errors are logged and treated like a natural end of the track.
var ErrPlayback = errors.New("playback failed")

// Source produces a playable stream url for a track.
//
// Every call may return a different url; stream urls handed out by
// media hosts expire, so the url is fetched right before each play.
type Source interface {
	StreamURL(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (string, error)

func (f SourceFunc) StreamURL(ctx context.Context) (string, error) {
	return f(ctx)
}

// Track is a playable audio reference plus display metadata.
type Track struct {
	Title       string
	PageURL     string
	Duration    time.Duration
	RequestedBy string
	Source      Source
}

// DisplayTitle returns the title, or the page url when the title is unknown.
func (t *Track) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}

	return t.PageURL
}

// Connection is a live voice connection for a single guild.
//
// Play must invoke onFinished exactly once per call that returns a nil
// error, from a goroutine other than the caller's.
type Connection interface {
	Play(t *Track, onFinished func(error)) error
	StopCurrent()
	Disconnect(force bool) error
	IsPlaying() bool
	IsConnected() bool
}

// Announcer delivers status lines to a text channel.
type Announcer interface {
	Announce(channelID string, msg string)
}

type discardAnnouncer struct{}

func (discardAnnouncer) Announce(string, string) {}
