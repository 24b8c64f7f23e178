package voice

import (
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

const (
	nicenessStreaming = 0
	NicenessIdle      = 19
)

// SetNiceness accepts a process niceness from -20 to 19
//
// the lower the niceness score, the more CPU time the process is granted
func SetNiceness(niceness int) error {

	cmd := exec.Command("renice", "-n", strconv.Itoa(niceness), "-p", strconv.Itoa(os.Getpid()))

	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Err(err).
			Int("niceness", niceness).
			Bytes("output", out).
			Msg("failed to set process niceness")

		return errors.Wrap(err, "failed to set process niceness")
	}

	return nil
}

// nicenessGovernor raises the process priority while at least one stream
// is encoding and drops it again once every stream has ended.
type nicenessGovernor struct {
	mutex   sync.Mutex
	enabled bool
	active  int
	current int
	set     func(int) error
}

func newNicenessGovernor(enabled bool) *nicenessGovernor {
	return &nicenessGovernor{
		enabled: enabled,
		current: NicenessIdle,
		set:     SetNiceness,
	}
}

func (g *nicenessGovernor) acquire() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.active++
	g.apply(nicenessStreaming)
}

func (g *nicenessGovernor) release() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.active == 0 {
		return
	}

	g.active--
	if g.active == 0 {
		g.apply(NicenessIdle)
	}
}

func (g *nicenessGovernor) apply(n int) {
	if !g.enabled || g.current == n {
		return
	}

	// failures are logged by set; keep trying on the next transition
	if err := g.set(n); err != nil {
		return
	}

	g.current = n
}
