package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Summary is the structured output of the summarizer.
type Summary struct {
	TaskCompleted       string   `json:"taskCompleted"`
	ProjectName         string   `json:"projectName"`
	ContextUsagePercent int      `json:"contextUsagePercent"`
	KeyOutcomes         []string `json:"keyOutcomes"`
}

// ChannelPrefs overrides the globally enabled channels for one request.
// Nil pointers mean "use the global flag".
type ChannelPrefs struct {
	TTS     *bool `json:"tts,omitempty"`
	Discord *bool `json:"discord,omitempty"`
	Console *bool `json:"console,omitempty"`
}

// SummarizedNotify is the /notify shape for clients that already have the
// summary text.
type SummarizedNotify struct {
	Project           string         `json:"project"`
	Summary           string         `json:"summary"`
	FullResponse      string         `json:"fullResponse,omitempty"`
	UserPrompt        string         `json:"userPrompt,omitempty"`
	ChannelPrefs      *ChannelPrefs  `json:"channelPrefs,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	SessionName       string         `json:"sessionName,omitempty"`
	DiscordWebhookURL string         `json:"discordWebhookUrl,omitempty"`
	VoiceID           string         `json:"voiceId,omitempty"`
}

// RawNotify is the /notify shape carrying a transcript for server-side
// summarization.
type RawNotify struct {
	Project           string        `json:"project"`
	TranscriptPath    string        `json:"transcriptPath"`
	DurationMs        int64         `json:"durationMs"`
	FilesModified     []string      `json:"filesModified,omitempty"`
	ToolsUsed         []string      `json:"toolsUsed,omitempty"`
	Usage             *TokenUsage   `json:"usage,omitempty"`
	Model             string        `json:"model,omitempty"`
	SessionName       string        `json:"sessionName,omitempty"`
	PromptText        string        `json:"promptText,omitempty"`
	ChannelPrefs      *ChannelPrefs `json:"channelPrefs,omitempty"`
	DiscordWebhookURL string        `json:"discordWebhookUrl,omitempty"`
	VoiceID           string        `json:"voiceId,omitempty"`
}

// NotifyPayload is the tagged union of the two /notify request shapes.
// Exactly one of Summarized or Raw is non-nil.
type NotifyPayload struct {
	Summarized *SummarizedNotify
	Raw        *RawNotify
}

var ErrUnknownNotifyShape = errors.New("body must contain either summary or transcriptPath")

// ParseNotifyPayload decodes a /notify body into its variant. The shape
// is discriminated by the presence of "summary" (pre-summarized) versus
// "transcriptPath" (raw).
func ParseNotifyPayload(body []byte) (*NotifyPayload, error) {
	var probe struct {
		Project        string `json:"project"`
		Summary        string `json:"summary"`
		TranscriptPath string `json:"transcriptPath"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if probe.Project == "" {
		return nil, errors.New("project is required")
	}
	switch {
	case probe.Summary != "":
		var req SummarizedNotify
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("invalid summarized payload: %w", err)
		}
		return &NotifyPayload{Summarized: &req}, nil
	case probe.TranscriptPath != "":
		var req RawNotify
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("invalid raw payload: %w", err)
		}
		return &NotifyPayload{Raw: &req}, nil
	default:
		return nil, ErrUnknownNotifyShape
	}
}

// ChannelResults reports which channels a dispatch attempted.
type ChannelResults struct {
	TTS     bool `json:"tts"`
	Discord bool `json:"discord"`
	Console bool `json:"console"`
}

// NotifyResponse is the /notify response body.
type NotifyResponse struct {
	Success       bool           `json:"success"`
	Queued        bool           `json:"queued"`
	QueuePosition int            `json:"queuePosition,omitempty"`
	Channels      ChannelResults `json:"channels"`
	AudioURL      string         `json:"audioUrl,omitempty"`
	ResponseURL   string         `json:"responseUrl,omitempty"`
	Error         string         `json:"error,omitempty"`
}
