package summarizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// transcriptRecord is one line of the agent's JSONL session log. Only
// the fields the extractors read are decoded.
type transcriptRecord struct {
	Type    string `json:"type"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// maxResponseChars caps a truncated assistant response.
const maxResponseChars = 2000

const truncationMarker = "... [truncated]"

// ExtractAIResponse returns the text of the last assistant message in
// the transcript. With truncate set, output is capped at roughly 2000
// characters. Malformed lines are skipped; a transcript with no
// assistant text yields "".
func ExtractAIResponse(path string, truncate bool) (string, error) {
	lines, err := readLines(path)
	if err != nil {
		return "", err
	}

	// Reverse scan: the last assistant record with text blocks wins.
	for i := len(lines) - 1; i >= 0; i-- {
		var rec transcriptRecord
		if err := json.Unmarshal(lines[i], &rec); err != nil {
			continue
		}
		if rec.Type != "assistant" {
			continue
		}
		var parts []string
		for _, block := range rec.Message.Content {
			if block.Type == "text" && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
		if len(parts) == 0 {
			continue
		}
		text := strings.Join(parts, "\n")
		if truncate && len(text) > maxResponseChars {
			text = cutAtRuneBoundary(text, maxResponseChars) + truncationMarker
		}
		return text, nil
	}
	return "", nil
}

// WorkContent summarizes the substantive work found in a transcript.
type WorkContent struct {
	// FilesModified holds basenames of files touched by file-modifying
	// tools, deduplicated in first-seen order.
	FilesModified []string

	// Actions holds human-readable labels for recognized state-mutating
	// commands.
	Actions []string

	// HasSubstantiveWork is true iff any file-modifying or recognized
	// command-executing tool was used.
	HasSubstantiveWork bool
}

// Tool classification. Read-only tools never count as substantive work.
var (
	readOnlyTools = map[string]bool{
		"Read": true, "Glob": true, "Grep": true,
		"WebFetch": true, "WebSearch": true,
	}
	fileModifyingTools = map[string]bool{
		"Edit": true, "Write": true, "NotebookEdit": true,
	}
)

// mutatingSubcommands recognizes state-changing sub-commands per command
// family. Package managers and build runners share one set; version
// control has its own.
var (
	packageManagers = map[string]bool{
		"npm": true, "yarn": true, "pnpm": true, "bun": true,
		"pip": true, "pip3": true, "cargo": true, "gem": true,
		"brew": true, "apt": true, "apt-get": true, "go": true,
	}
	packageManagerSubcommands = map[string]bool{
		"install": true, "add": true, "remove": true, "uninstall": true,
		"update": true, "upgrade": true, "run": true, "test": true,
		"build": true, "get": true,
	}
	gitSubcommands = map[string]bool{
		"commit": true, "push": true, "merge": true, "rebase": true,
		"checkout": true, "switch": true, "add": true, "reset": true,
		"revert": true, "cherry-pick": true, "tag": true, "stash": true,
	}
	fsMutators = map[string]bool{
		"rm": true, "mv": true, "cp": true, "mkdir": true,
		"touch": true, "chmod": true, "chown": true, "ln": true,
	}
	containerTools = map[string]bool{
		"docker": true, "podman": true, "kubectl": true,
		"docker-compose": true,
	}
	buildTools = map[string]bool{
		"make": true, "cmake": true, "gradle": true, "mvn": true,
	}
)

// ExtractWorkContent walks the transcript forward collecting tool_use
// blocks from assistant records. Parse errors never abort the scan.
func ExtractWorkContent(path string) (*WorkContent, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	work := &WorkContent{}
	seenFiles := map[string]bool{}
	for _, line := range lines {
		var rec transcriptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Type != "assistant" {
			continue
		}
		for _, block := range rec.Message.Content {
			if block.Type != "tool_use" {
				continue
			}
			classifyToolUse(block, work, seenFiles)
		}
	}
	return work, nil
}

func classifyToolUse(block contentBlock, work *WorkContent, seenFiles map[string]bool) {
	switch {
	case readOnlyTools[block.Name]:
		// Inspection only; not substantive.

	case fileModifyingTools[block.Name]:
		path, _ := block.Input["file_path"].(string)
		if path == "" {
			path, _ = block.Input["notebook_path"].(string)
		}
		if path != "" {
			name := filepath.Base(path)
			if !seenFiles[name] {
				seenFiles[name] = true
				work.FilesModified = append(work.FilesModified, name)
			}
		}
		work.HasSubstantiveWork = true

	case block.Name == "Bash":
		command, _ := block.Input["command"].(string)
		if !isMutatingCommand(command) {
			return
		}
		label, _ := block.Input["description"].(string)
		if label == "" {
			label = truncateString(command, 60)
		}
		work.Actions = append(work.Actions, label)
		work.HasSubstantiveWork = true
	}
}

// isMutatingCommand classifies a shell command by its head token. Pure
// inspection commands (ls, cat, grep, curl, ...) yield no action entry.
func isMutatingCommand(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	head := fields[0]
	switch {
	case fsMutators[head], containerTools[head], buildTools[head]:
		return true
	case head == "git":
		return len(fields) > 1 && gitSubcommands[fields[1]]
	case packageManagers[head]:
		return len(fields) > 1 && packageManagerSubcommands[fields[1]]
	}
	return false
}

// readLines loads a transcript's lines. Oversized lines (large pasted
// content) are tolerated via a generous scanner buffer.
func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var lines [][]byte
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return lines, nil
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return cutAtRuneBoundary(s, max) + "..."
}

// cutAtRuneBoundary cuts s to at most max bytes without splitting a
// multi-byte rune, so truncated text stays valid UTF-8.
func cutAtRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
