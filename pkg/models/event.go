// Package models provides domain types for the trak notification daemon.
package models

import (
	"errors"
	"fmt"
	"time"
)

// EventType identifies the lifecycle stage an event was emitted from.
type EventType string

const (
	// EventSessionStart marks the beginning of an agent session.
	EventSessionStart EventType = "SessionStart"

	// EventUserPromptSubmit marks a user prompt being submitted, which
	// opens a new transaction on the session.
	EventUserPromptSubmit EventType = "UserPromptSubmit"

	// EventPostToolUse marks a completed tool invocation.
	EventPostToolUse EventType = "PostToolUse"

	// EventStop marks the agent finishing its turn, which closes the
	// open transaction on the session.
	EventStop EventType = "Stop"
)

// Valid reports whether t is one of the four known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSessionStart, EventUserPromptSubmit, EventPostToolUse, EventStop:
		return true
	}
	return false
}

// ToolCall is a single tool invocation reported on a Stop event.
type ToolCall struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input,omitempty"`
}

// TokenUsage carries token accounting reported by the agent client.
type TokenUsage struct {
	InputTokens         int `json:"inputTokens,omitempty"`
	OutputTokens        int `json:"outputTokens,omitempty"`
	CacheReadTokens     int `json:"cacheReadInputTokens,omitempty"`
	CacheCreationTokens int `json:"cacheCreationInputTokens,omitempty"`
}

// Total returns the sum of all token counters.
func (u *TokenUsage) Total() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens
}

// Event is an immutable lifecycle record emitted by an agent session.
//
// Events are append-only: once stored, only NotificationSent and
// NotificationID may be set, exactly once, after a notification has been
// dispatched for the transaction the event closed. ID is assigned by the
// store and is the canonical ordering.
type Event struct {
	ID          int64     `json:"id,omitempty"`
	EventType   EventType `json:"eventType"`
	SessionID   string    `json:"sessionId"`
	SessionName string    `json:"sessionName,omitempty"`
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`

	// Timestamp is the client clock; ReceivedAt is the server clock.
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`

	// Shape-specific optional fields.
	TranscriptPath string         `json:"transcriptPath,omitempty"`
	Cwd            string         `json:"cwd,omitempty"`
	GitContext     map[string]any `json:"gitContext,omitempty"`
	PromptText     string         `json:"promptText,omitempty"`
	ToolName       string         `json:"toolName,omitempty"`
	ToolInput      map[string]any `json:"toolInput,omitempty"`
	FilesModified  []string       `json:"filesModified,omitempty"`
	ToolsUsed      []string       `json:"toolsUsed,omitempty"`
	Usage          *TokenUsage    `json:"tokenUsage,omitempty"`
	Model          string         `json:"model,omitempty"`
	StopReason     string         `json:"stopReason,omitempty"`

	// Transport-only fields, not used for transaction tracking.
	AIResponse string     `json:"aiResponse,omitempty"`
	UserPrompt string     `json:"userPrompt,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`

	// Per-project overrides carried on Stop events.
	DiscordWebhookURL string `json:"discordWebhookUrl,omitempty"`
	VoiceID           string `json:"voiceId,omitempty"`

	// Server-managed notification bookkeeping.
	NotificationSent bool   `json:"notificationSent,omitempty"`
	NotificationID   string `json:"notificationId,omitempty"`
}

var (
	ErrMissingEventType   = errors.New("eventType is required")
	ErrMissingSessionID   = errors.New("sessionId is required")
	ErrMissingProjectID   = errors.New("projectId is required")
	ErrMissingProjectName = errors.New("projectName is required")
	ErrMissingTimestamp   = errors.New("timestamp is required")
)

// Validate checks the five required ingest fields.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return ErrMissingEventType
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("unknown eventType %q", e.EventType)
	}
	if e.SessionID == "" {
		return ErrMissingSessionID
	}
	if e.ProjectID == "" {
		return ErrMissingProjectID
	}
	if e.ProjectName == "" {
		return ErrMissingProjectName
	}
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}
