package summarizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Transcript paths arrive from remote clients and are opened by the
// daemon, so they are validated hard: absolute, already normalized,
// under an allowlisted prefix, and with the transcript suffix.

const transcriptSuffix = ".jsonl"

var (
	ErrPathNotAbsolute = errors.New("transcript path must be absolute")
	ErrPathTraversal   = errors.New("transcript path contains traversal segments")
	ErrPathOutsideRoot = errors.New("transcript path outside allowed directories")
	ErrPathSuffix      = errors.New("transcript path must end in " + transcriptSuffix)
)

// allowedTranscriptDirs returns the built-in prefix allowlist: the
// agent's home folder and the system temp locations.
func allowedTranscriptDirs() []string {
	dirs := []string{os.TempDir(), "/tmp", "/private/tmp", "/var/folders"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".claude"))
	}
	return dirs
}

// ValidateTranscriptPath rejects any path that could escape the
// allowlisted roots. extraDirs extends the allowlist from configuration.
func ValidateTranscriptPath(path string, extraDirs []string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q", ErrPathNotAbsolute, path)
	}
	// A path that is not equal to its own normal form is hiding
	// something ("..", doubled separators, trailing slash tricks).
	if filepath.Clean(path) != path {
		return fmt.Errorf("%w: %q", ErrPathTraversal, path)
	}
	if !strings.HasSuffix(path, transcriptSuffix) {
		return fmt.Errorf("%w: %q", ErrPathSuffix, path)
	}

	allowed := append(allowedTranscriptDirs(), extraDirs...)
	for _, dir := range allowed {
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrPathOutsideRoot, path)
}
