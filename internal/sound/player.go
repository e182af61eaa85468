package sound

import (
	"os/exec"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Sound files looked up in the player's directory.
const (
	Waiting = "waiting.mp3"
	OK      = "ok.mp3"
	Error   = "error.mp3"
)

// Player gives audible feedback on card events by shelling out to
// mpg123, like the reader boxes this agent replaces. A nil Player plays
// nothing.
type Player struct {
	dir string
}

// NewPlayer returns a player for the given sound directory, or nil when
// dir is empty.
func NewPlayer(dir string) *Player {
	if dir == "" {
		return nil
	}
	return &Player{dir: dir}
}

// Play plays one sound file without blocking the read loop.
func (p *Player) Play(name string) {
	if p == nil {
		return
	}

	go func() {
		if err := exec.Command("mpg123", "-q", filepath.Join(p.dir, name)).Run(); err != nil {
			log.Warnf("sound playback failed for %s: %v", name, err)
		}
	}()
}

// Loop starts a sound on repeat and returns a stop function. Used for
// the waiting sound while the webhook POST is in flight.
func (p *Player) Loop(name string) func() {
	if p == nil {
		return func() {}
	}

	cmd := exec.Command("mpg123", "-q", "--loop", "0", filepath.Join(p.dir, name))
	if err := cmd.Start(); err != nil {
		log.Warnf("sound loop failed for %s: %v", name, err)
		return func() {}
	}

	return func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
	}
}
