package models

import "time"

// ActiveTransaction is the per-(project, session) unit of work the
// tracker maintains between a UserPromptSubmit and its Stop.
//
// FilesModified, ToolsUsed and EventCount are in-memory accumulators and
// are not persisted; after crash recovery they read back empty.
type ActiveTransaction struct {
	ProjectID      string     `json:"projectId"`
	SessionID      string     `json:"sessionId"`
	SessionName    string     `json:"sessionName,omitempty"`
	ProjectName    string     `json:"projectName"`
	StartTime      time.Time  `json:"startTime"`
	PromptText     string     `json:"promptText,omitempty"`
	TranscriptPath string     `json:"transcriptPath,omitempty"`
	FilesModified  []string   `json:"-"`
	ToolsUsed      []string   `json:"-"`
	EventCount     int        `json:"-"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	DurationMs     int64      `json:"durationMs,omitempty"`
}

// Key returns the composite tracker key for the transaction.
func (t *ActiveTransaction) Key() string {
	return t.ProjectID + ":" + t.SessionID
}

// Completed reports whether the transaction has been finalized.
func (t *ActiveTransaction) Completed() bool {
	return t.CompletedAt != nil
}

// CompletedTransaction is the ephemeral value synthesized when a Stop
// event finalizes a transaction. It carries the full accumulator plus the
// per-project overrides received on the Stop event.
type CompletedTransaction struct {
	ProjectID      string
	SessionID      string
	SessionName    string
	ProjectName    string
	StartTime      time.Time
	PromptText     string
	TranscriptPath string
	FilesModified  []string
	ToolsUsed      []string
	EventCount     int
	DurationMs     int64
	Usage          *TokenUsage
	Model          string
	StopReason     string

	// Overrides from the Stop event, applied to this notification only.
	DiscordWebhookURL string
	VoiceID           string
}

// Duration returns the transaction duration as a time.Duration.
func (c *CompletedTransaction) Duration() time.Duration {
	return time.Duration(c.DurationMs) * time.Millisecond
}
