package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventTypeValid(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      bool
	}{
		{EventSessionStart, true},
		{EventUserPromptSubmit, true},
		{EventPostToolUse, true},
		{EventStop, true},
		{EventType("SubagentStop"), false},
		{EventType(""), false},
	}
	for _, tt := range tests {
		if got := tt.eventType.Valid(); got != tt.want {
			t.Errorf("EventType(%q).Valid() = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestEventValidate(t *testing.T) {
	base := func() *Event {
		return &Event{
			EventType:   EventUserPromptSubmit,
			SessionID:   "sess-1",
			ProjectID:   "proj-1",
			ProjectName: "demo",
			Timestamp:   time.Now(),
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("Validate() on complete event: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing eventType", func(e *Event) { e.EventType = "" }},
		{"unknown eventType", func(e *Event) { e.EventType = "Bogus" }},
		{"missing sessionId", func(e *Event) { e.SessionID = "" }},
		{"missing projectId", func(e *Event) { e.ProjectID = "" }},
		{"missing projectName", func(e *Event) { e.ProjectName = "" }},
		{"missing timestamp", func(e *Event) { e.Timestamp = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base()
			tt.mutate(e)
			if err := e.Validate(); err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
		})
	}
}

func TestTokenUsageTotal(t *testing.T) {
	var nilUsage *TokenUsage
	if got := nilUsage.Total(); got != 0 {
		t.Fatalf("nil usage Total() = %d, want 0", got)
	}
	usage := &TokenUsage{InputTokens: 10, OutputTokens: 20, CacheReadTokens: 5, CacheCreationTokens: 1}
	if got := usage.Total(); got != 36 {
		t.Fatalf("Total() = %d, want 36", got)
	}
}

func TestParseNotifyPayload(t *testing.T) {
	t.Run("summarized", func(t *testing.T) {
		body := []byte(`{"project":"demo","summary":"I edited foo.ts","voiceId":"v1"}`)
		payload, err := ParseNotifyPayload(body)
		if err != nil {
			t.Fatalf("ParseNotifyPayload() error = %v", err)
		}
		if payload.Summarized == nil || payload.Raw != nil {
			t.Fatalf("expected summarized variant, got %+v", payload)
		}
		if payload.Summarized.VoiceID != "v1" {
			t.Fatalf("voiceId = %q, want v1", payload.Summarized.VoiceID)
		}
	})

	t.Run("raw", func(t *testing.T) {
		body := []byte(`{"project":"demo","transcriptPath":"/tmp/t.jsonl","durationMs":30000}`)
		payload, err := ParseNotifyPayload(body)
		if err != nil {
			t.Fatalf("ParseNotifyPayload() error = %v", err)
		}
		if payload.Raw == nil || payload.Summarized != nil {
			t.Fatalf("expected raw variant, got %+v", payload)
		}
		if payload.Raw.DurationMs != 30000 {
			t.Fatalf("durationMs = %d, want 30000", payload.Raw.DurationMs)
		}
	})

	t.Run("neither shape", func(t *testing.T) {
		if _, err := ParseNotifyPayload([]byte(`{"project":"demo"}`)); err == nil {
			t.Fatal("expected error for body with neither summary nor transcriptPath")
		}
	})

	t.Run("missing project", func(t *testing.T) {
		if _, err := ParseNotifyPayload([]byte(`{"summary":"x"}`)); err == nil {
			t.Fatal("expected error for missing project")
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		if _, err := ParseNotifyPayload([]byte(`{`)); err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})
}

func TestEventJSONRoundTrip(t *testing.T) {
	e := &Event{
		EventType:   EventPostToolUse,
		SessionID:   "sess-1",
		ProjectID:   "proj-1",
		ProjectName: "demo",
		Timestamp:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ToolName:    "Edit",
		ToolInput:   map[string]any{"file_path": "/a.ts"},
		ToolsUsed:   []string{"Edit", "Bash"},
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.ToolName != "Edit" || got.ToolInput["file_path"] != "/a.ts" {
		t.Fatalf("round trip lost tool fields: %+v", got)
	}
}
