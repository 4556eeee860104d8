package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// PIDFileData is the JSON structure stored in the daemon PID file.
type PIDFileData struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	PublicURL string    `json:"publicUrl,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// WritePIDFile records the current process at path.
func WritePIDFile(path string, port int, publicURL string) error {
	data := PIDFileData{
		PID:       os.Getpid(),
		Port:      port,
		PublicURL: publicURL,
		StartedAt: time.Now(),
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pid file: %w", err)
	}
	return os.WriteFile(path, b, 0o600)
}

// ReadPIDFile reads and parses the PID file at path. Returns an error
// if the file does not exist or cannot be parsed.
func ReadPIDFile(path string) (*PIDFileData, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pid file: %w", err)
	}
	var pf PIDFileData
	if err := json.Unmarshal(b, &pf); err != nil {
		return nil, fmt.Errorf("parsing pid file: %w", err)
	}
	return &pf, nil
}

// RemovePIDFile removes the PID file at path. Missing files are not an
// error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}

// IsPIDFileStale checks whether the PID file refers to a running,
// healthy daemon. Returns true if the process is dead or its health
// endpoint does not answer.
func IsPIDFileStale(pf *PIDFileData) bool {
	if !IsProcessAlive(pf.PID) {
		return true
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", pf.Port))
	if err != nil {
		return true
	}
	resp.Body.Close()
	return resp.StatusCode != http.StatusOK
}
