package server

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

type announcement struct {
	channelID string
	msg       string
}

// announcer delivers player status lines to text channels from a single
// goroutine so the player worker never waits on the discord api.
type announcer struct {
	rwm       sync.RWMutex
	startedAt time.Time
	wg        sync.WaitGroup
	taskChan  chan announcement
	send      func(channelID, msg string) error
}

func newAnnouncer(size int, send func(channelID, msg string) error) *announcer {
	return &announcer{
		taskChan: make(chan announcement, size),
		send:     send,
	}
}

// Announce queues msg for delivery. When the queue is full the message is
// dropped.
func (a *announcer) Announce(channelID, msg string) {
	select {
	case a.taskChan <- announcement{channelID, msg}:
	default:
		log.Warn().
			Str("channel_id", channelID).
			Str("message", msg).
			Msg("announcer: queue full, dropping message")
	}
}

func (a *announcer) Wait() {
	a.wg.Wait()
}

// Start launches the delivery goroutine once; it exits when ctx is done.
func (a *announcer) Start(ctx context.Context) {
	a.rwm.RLock()
	cleanup := a.rwm.RUnlock
	defer func() {
		if f := cleanup; f != nil {
			cleanup = nil
			f()
		}
	}()

	if !a.startedAt.IsZero() {
		return
	}

	if f := cleanup; f != nil {
		cleanup = nil
		f()
	}

	a.rwm.Lock()
	cleanup = a.rwm.Unlock

	if !a.startedAt.IsZero() {
		return
	}

	wg := &a.wg

	taskChan := a.taskChan

	ctxDone := ctx.Done()
	wg.Add(1)
	a.startedAt = time.Now()
	go func() {
		defer wg.Done()

		for {
			select {
			case <-ctxDone:
				return
			default:
			}
			select {
			case <-ctxDone:
				return
			case v := <-taskChan:
				a.deliver(v)
			}
		}
	}()
}

func (a *announcer) deliver(v announcement) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = errors.Newf("%v", r)
			}
			log.Err(err).
				Msg("panic in announcer")
		}
	}()

	if err := a.send(v.channelID, v.msg); err != nil {
		log.Err(err).
			Str("channel_id", v.channelID).
			Msg("announcer: failed to send message")
	}
}
