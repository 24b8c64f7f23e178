package service

import "sync"

// Brain owns one Player per guild.
type Brain struct {
	mutex    *sync.Mutex
	guildMap *sync.Map
	opts     PlayerOptions
	closed   bool
}

func NewBrain(opts PlayerOptions) *Brain {
	return &Brain{
		mutex:    &sync.Mutex{},
		guildMap: &sync.Map{},
		opts:     opts,
	}
}

// Player returns the guild's player, creating it on first use.
//
// Returns nil once the brain is closed.
func (b *Brain) Player(guildId string) *Player {

	var result *Player

	resp, ok := b.guildMap.Load(guildId)
	if ok {
		return resp.(*Player)
	}

	// locking to prevent goroutine leaks
	// and to prevent data-races to create/initialize Players
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return nil
	}

	// reread in case it was just created
	// by another thread
	resp, ok = b.guildMap.Load(guildId)
	if ok {
		return resp.(*Player)
	}

	result = NewPlayer(guildId, b.opts)

	b.guildMap.Store(guildId, result)

	return result
}

// Close stops every player and disconnects from all voice channels.
func (b *Brain) Close() {

	b.mutex.Lock()
	b.closed = true
	b.mutex.Unlock()

	var wg sync.WaitGroup

	b.guildMap.Range(func(k, v any) bool {
		p := v.(*Player)

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Close()
		}()

		b.guildMap.Delete(k)

		return true
	})

	wg.Wait()
}
