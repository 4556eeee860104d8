// Package notify delivers completed-transaction summaries to the
// enabled channels: a serialized audio queue, a Discord webhook with
// retry, and the console.
package notify

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// Player is a pluggable audio sink. Playback is synchronous: Play
// returns after the clip finishes.
type Player interface {
	// Play plays one audio file and reports the measured duration.
	Play(file string) (time.Duration, error)

	// Available reports whether the sink can play audio on this host.
	Available() bool
}

// ExecPlayer shells out to an external player binary.
type ExecPlayer struct {
	command string
	args    []string
}

// playerCandidates lists known players in preference order, with the
// flags that make them exit when the clip ends.
var playerCandidates = []ExecPlayer{
	{command: "afplay"},
	{command: "mpv", args: []string{"--no-video", "--really-quiet"}},
	{command: "mpg123", args: []string{"-q"}},
	{command: "ffplay", args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
}

// NewExecPlayer builds a player for the named binary, or probes the
// candidate list when command is empty.
func NewExecPlayer(command string) *ExecPlayer {
	if command != "" {
		for _, c := range playerCandidates {
			if c.command == command {
				p := c
				return &p
			}
		}
		return &ExecPlayer{command: command}
	}
	if runtime.GOOS == "darwin" {
		return &ExecPlayer{command: "afplay"}
	}
	for _, c := range playerCandidates[1:] {
		if _, err := exec.LookPath(c.command); err == nil {
			p := c
			return &p
		}
	}
	return &ExecPlayer{command: "mpv", args: []string{"--no-video", "--really-quiet"}}
}

func (p *ExecPlayer) Available() bool {
	_, err := exec.LookPath(p.command)
	return err == nil
}

func (p *ExecPlayer) Play(file string) (time.Duration, error) {
	if file == "" {
		return 0, errors.New("play: empty file")
	}
	start := time.Now()

	args := append(append([]string{}, p.args...), file)
	cmd := exec.Command(p.command, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return elapsed, fmt.Errorf("%s failed: %w: %s", p.command, err, msg)
		}
		return elapsed, fmt.Errorf("%s failed: %w", p.command, err)
	}
	return elapsed, nil
}
