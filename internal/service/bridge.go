package service

import (
	"sync"
)

// finishToken is handed to the voice transport for a single play attempt.
//
// The transport calls Finished from its own goroutine. The first call posts
// a finished signal tagged with the attempt's epoch into the player's
// mailbox; every later call is dropped.
type finishToken struct {
	once  sync.Once
	epoch uint64
	p     *Player
}

func newFinishToken(p *Player, epoch uint64) *finishToken {
	return &finishToken{
		epoch: epoch,
		p:     p,
	}
}

// Finished blocks only until the mailbox accepts the signal or the player
// is closed.
func (t *finishToken) Finished(err error) {
	t.once.Do(func() {
		t.p.post(tracedSignal{
			sig:   SignalFinished,
			epoch: t.epoch,
			err:   err,
		})
	})
}
