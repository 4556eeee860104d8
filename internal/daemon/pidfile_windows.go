//go:build windows

package daemon

import "os"

// IsProcessAlive checks whether a process with the given PID is running.
func IsProcessAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

// TerminateProcess asks the process with the given PID to shut down.
func TerminateProcess(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
