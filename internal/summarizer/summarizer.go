// Package summarizer turns a session transcript plus metadata into a
// short human sentence describing what the session accomplished.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/trakhq/trak/pkg/models"
)

// contextWindow is the token budget the usage percentage is computed
// against.
const contextWindow = 200000

// Input is the bundle a completed transaction hands to the summarizer.
type Input struct {
	TranscriptPath string
	DurationMs     int64
	FilesModified  []string
	ToolsUsed      []string
	PromptText     string
	Usage          *models.TokenUsage
	Model          string
	Project        string
	SessionName    string
}

// Config configures a Summarizer.
type Config struct {
	APIKey                string
	BaseURL               string
	Model                 string
	Timeout               time.Duration
	AllowedTranscriptDirs []string
}

// Summarizer generates summaries, degrading to a deterministic template
// whenever the transcript or the LLM is unavailable. Generate never
// returns an error to its caller.
type Summarizer struct {
	llm     LLMClient
	cfg     Config
	logger  *slog.Logger
	observe func(source string)
}

// SetObserver registers a callback invoked with the source of each
// generated summary ("llm" or "fallback").
func (s *Summarizer) SetObserver(fn func(source string)) {
	s.observe = fn
}

// New constructs a Summarizer. With no API key the LLM step is skipped
// entirely and every summary is deterministic.
func New(cfg Config, logger *slog.Logger) *Summarizer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		llm:    NewLLMClient(cfg.APIKey, cfg.BaseURL, cfg.Model),
		cfg:    cfg,
		logger: logger.With("component", "summarizer"),
	}
}

// The work prompt reports what changed; the response prompt must not
// invent changes when nothing was modified.
const (
	workSystemPrompt = `You summarize what an AI coding session accomplished.
Write one short spoken-style sentence in first person describing the work done.
Mention the files changed and commands run. Do not add pleasantries.`

	responseSystemPrompt = `You summarize what an AI coding session accomplished.
No files were modified and no commands were run, so describe only what was
discussed or answered. Never claim that files were created, edited or deleted.
Write one short spoken-style sentence in first person.`
)

// Generate produces a summary for the completed transaction. Failure
// modes (bad path, missing transcript, LLM error or timeout) all degrade
// to the deterministic fallback; none propagate.
func (s *Summarizer) Generate(ctx context.Context, in Input) *models.Summary {
	work := &WorkContent{}
	aiResponse := ""

	if err := ValidateTranscriptPath(in.TranscriptPath, s.cfg.AllowedTranscriptDirs); err != nil {
		s.logger.Warn("transcript path rejected", "path", in.TranscriptPath, "error", err)
	} else {
		if w, err := ExtractWorkContent(in.TranscriptPath); err != nil {
			s.logger.Warn("work extraction failed", "error", err)
		} else {
			work = w
		}
		if resp, err := ExtractAIResponse(in.TranscriptPath, true); err != nil {
			s.logger.Warn("response extraction failed", "error", err)
		} else {
			aiResponse = resp
		}
	}

	source := "llm"
	taskCompleted := s.llmSummary(ctx, in, work, aiResponse)
	if taskCompleted == "" {
		source = "fallback"
		taskCompleted = fallbackSummary(in, work, aiResponse)
	}
	if s.observe != nil {
		s.observe(source)
	}

	return &models.Summary{
		TaskCompleted:       taskCompleted,
		ProjectName:         in.Project,
		ContextUsagePercent: ContextUsagePercent(in.Usage),
		KeyOutcomes:         keyOutcomes(in, work),
	}
}

// ValidatePath checks a client-supplied transcript path against the
// configured allowlist.
func (s *Summarizer) ValidatePath(path string) error {
	return ValidateTranscriptPath(path, s.cfg.AllowedTranscriptDirs)
}

// FullResponse extracts the untruncated last assistant response for the
// response viewer. Invalid paths yield "".
func (s *Summarizer) FullResponse(path string) string {
	if err := ValidateTranscriptPath(path, s.cfg.AllowedTranscriptDirs); err != nil {
		return ""
	}
	resp, err := ExtractAIResponse(path, false)
	if err != nil {
		return ""
	}
	return resp
}

func (s *Summarizer) llmSummary(ctx context.Context, in Input, work *WorkContent, aiResponse string) string {
	if s.llm == nil {
		return ""
	}
	system := responseSystemPrompt
	if work.HasSubstantiveWork {
		system = workSystemPrompt
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\nDuration: %s\n", in.Project, FormatDuration(in.DurationMs))
	if in.PromptText != "" {
		fmt.Fprintf(&b, "User request: %s\n", truncateString(in.PromptText, 500))
	}
	if len(work.FilesModified) > 0 {
		fmt.Fprintf(&b, "Files modified: %s\n", strings.Join(work.FilesModified, ", "))
	}
	if len(work.Actions) > 0 {
		fmt.Fprintf(&b, "Commands run: %s\n", strings.Join(work.Actions, ", "))
	}
	if aiResponse != "" {
		fmt.Fprintf(&b, "Final response:\n%s\n", aiResponse)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	summary, err := s.llm.Complete(ctx, system, b.String())
	if err != nil {
		s.logger.Warn("llm summary failed, using fallback", "error", err)
		return ""
	}
	return summary
}

// fallbackSummary is the deterministic template chain: work actions,
// then an action sentence mined from the response, then the prompt echo,
// then a constant.
func fallbackSummary(in Input, work *WorkContent, aiResponse string) string {
	if sentence := workSentence(work); sentence != "" {
		return sentence
	}
	if sentence := actionSentence(aiResponse); sentence != "" {
		return sentence
	}
	if in.PromptText != "" {
		return "Worked on: " + truncateString(in.PromptText, 150)
	}
	return "Task completed successfully"
}

func workSentence(work *WorkContent) string {
	var parts []string
	if len(work.FilesModified) > 0 {
		parts = append(parts, "Edited "+joinNatural(work.FilesModified))
	}
	if len(work.Actions) > 0 {
		parts = append(parts, joinNatural(work.Actions))
	}
	return strings.Join(parts, "; ")
}

// actionVerbPattern finds a sentence in the assistant's response that
// starts with a past-tense action verb, which usually states the
// outcome directly.
var actionVerbPattern = regexp.MustCompile(
	`(?i)\b(?:I(?:'ve| have)?\s+)?(created|updated|fixed|added|implemented|refactored|removed|renamed|moved|installed|configured|built|deployed|wrote|modified|changed)\b[^.!?\n]{0,120}`)

func actionSentence(aiResponse string) string {
	if aiResponse == "" {
		return ""
	}
	match := actionVerbPattern.FindString(aiResponse)
	return strings.TrimSpace(truncateString(match, 150))
}

func keyOutcomes(in Input, work *WorkContent) []string {
	outcomes := []string{}
	filesModified := len(work.FilesModified)
	if filesModified == 0 {
		filesModified = len(in.FilesModified)
	}
	if filesModified > 0 {
		noun := "files"
		if filesModified == 1 {
			noun = "file"
		}
		outcomes = append(outcomes, fmt.Sprintf("%d %s modified", filesModified, noun))
	}
	outcomes = append(outcomes, "Duration: "+FormatDuration(in.DurationMs))
	return outcomes
}

// ContextUsagePercent converts token usage to a percentage of the
// context window, clamped to [0,100].
func ContextUsagePercent(usage *models.TokenUsage) int {
	if usage == nil {
		return 0
	}
	pct := int(math.Round(float64(usage.Total()) / contextWindow * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// FormatDuration renders a millisecond duration as "45s" or "2m 5s".
func FormatDuration(durationMs int64) string {
	seconds := durationMs / 1000
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}

func joinNatural(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
