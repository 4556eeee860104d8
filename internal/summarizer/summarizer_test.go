package summarizer

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/trakhq/trak/pkg/models"
)

func newTestSummarizer() *Summarizer {
	// No API key: every summary takes the deterministic path.
	return New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateFallbackPrefersWorkOverFriendlyResponse(t *testing.T) {
	path := writeTranscript(t,
		toolUse("Edit", `{"file_path":"/src/a.ts"}`),
		toolUse("Edit", `{"file_path":"/src/b.ts"}`),
		toolUse("Bash", `{"command":"bun test","description":"Run tests"}`),
		assistantText("All done! Let me know if you need anything else."),
	)

	s := newTestSummarizer()
	summary := s.Generate(context.Background(), Input{
		TranscriptPath: path,
		DurationMs:     30000,
		Project:        "demo",
	})

	if strings.Contains(summary.TaskCompleted, "Let me know") {
		t.Fatalf("summary echoes pleasantry: %q", summary.TaskCompleted)
	}
	if !strings.Contains(summary.TaskCompleted, "a.ts") || !strings.Contains(summary.TaskCompleted, "b.ts") {
		t.Fatalf("summary omits edited files: %q", summary.TaskCompleted)
	}
	if !strings.Contains(summary.TaskCompleted, "Run tests") {
		t.Fatalf("summary omits command label: %q", summary.TaskCompleted)
	}

	joined := strings.Join(summary.KeyOutcomes, " | ")
	if !strings.Contains(joined, "2 files modified") {
		t.Fatalf("keyOutcomes = %v, want file count", summary.KeyOutcomes)
	}
	if !strings.Contains(joined, "30s") {
		t.Fatalf("keyOutcomes = %v, want duration", summary.KeyOutcomes)
	}
	if summary.ProjectName != "demo" {
		t.Fatalf("ProjectName = %q", summary.ProjectName)
	}
}

func TestGenerateFallbackActionSentence(t *testing.T) {
	path := writeTranscript(t,
		toolUse("Read", `{"file_path":"/a.go"}`),
		assistantText("I've updated the configuration docs to cover the new flags. Let me know!"),
	)

	s := newTestSummarizer()
	summary := s.Generate(context.Background(), Input{TranscriptPath: path, DurationMs: 5000})

	if !strings.Contains(summary.TaskCompleted, "updated the configuration docs") {
		t.Fatalf("TaskCompleted = %q", summary.TaskCompleted)
	}
}

func TestGenerateFallbackPromptEcho(t *testing.T) {
	path := writeTranscript(t,
		assistantText("Sure thing."),
	)

	s := newTestSummarizer()
	summary := s.Generate(context.Background(), Input{
		TranscriptPath: path,
		PromptText:     "explain the deploy pipeline",
	})

	if summary.TaskCompleted != "Worked on: explain the deploy pipeline" {
		t.Fatalf("TaskCompleted = %q", summary.TaskCompleted)
	}
}

func TestGenerateInvalidPathStillSummarizes(t *testing.T) {
	s := newTestSummarizer()
	summary := s.Generate(context.Background(), Input{
		TranscriptPath: "/etc/shadow.jsonl",
		DurationMs:     1000,
	})

	if summary == nil {
		t.Fatal("Generate returned nil")
	}
	if summary.TaskCompleted != "Task completed successfully" {
		t.Fatalf("TaskCompleted = %q", summary.TaskCompleted)
	}
}

func TestContextUsagePercent(t *testing.T) {
	tests := []struct {
		name  string
		usage *models.TokenUsage
		want  int
	}{
		{"nil usage", nil, 0},
		{"half window", &models.TokenUsage{InputTokens: 100000}, 50},
		{"rounding", &models.TokenUsage{InputTokens: 1000}, 1},
		{"clamped high", &models.TokenUsage{InputTokens: 500000}, 100},
		{"cache counted", &models.TokenUsage{InputTokens: 50000, CacheReadTokens: 50000}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContextUsagePercent(tt.usage); got != tt.want {
				t.Fatalf("ContextUsagePercent() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0s"},
		{45000, "45s"},
		{60000, "1m 0s"},
		{125000, "2m 5s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestJoinNatural(t *testing.T) {
	tests := []struct {
		items []string
		want  string
	}{
		{nil, ""},
		{[]string{"a.ts"}, "a.ts"},
		{[]string{"a.ts", "b.ts"}, "a.ts and b.ts"},
		{[]string{"a.ts", "b.ts", "c.ts"}, "a.ts, b.ts and c.ts"},
	}
	for _, tt := range tests {
		if got := joinNatural(tt.items); got != tt.want {
			t.Errorf("joinNatural(%v) = %q, want %q", tt.items, got, tt.want)
		}
	}
}
