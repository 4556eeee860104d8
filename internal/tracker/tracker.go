// Package tracker correlates lifecycle events into per-session
// transactions and decides when a completion should notify.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trakhq/trak/internal/store"
	"github.com/trakhq/trak/pkg/models"
)

// Config configures a Tracker.
type Config struct {
	// NotifyThreshold is the minimum duration for a completion to
	// trigger a notification. Comparison is >=, so a zero threshold
	// notifies on everything.
	NotifyThreshold time.Duration

	// StaleAfter is the age past which unfinished transactions are
	// reaped by Sweep.
	StaleAfter time.Duration
}

// Tracker holds the in-memory transaction map mirrored to the durable
// store. Operations on the same (project, session) key are serialized;
// the single mutex also serializes distinct keys, which is fine at the
// event rates a single developer machine produces.
type Tracker struct {
	mu     sync.Mutex
	active map[string]*models.ActiveTransaction

	store  *store.Store
	cfg    Config
	logger *slog.Logger
}

// New creates a tracker backed by the given store.
func New(st *store.Store, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		active: make(map[string]*models.ActiveTransaction),
		store:  st,
		cfg:    cfg,
		logger: logger.With("component", "tracker"),
	}
}

// ProcessEvent advances the state machine for the event's key. On a Stop
// event it returns the synthesized completion and whether the duration
// crossed the notification threshold; for all other events it returns
// (nil, false, nil).
func (t *Tracker) ProcessEvent(ctx context.Context, e *models.Event) (*models.CompletedTransaction, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := e.ProjectID + ":" + e.SessionID

	switch e.EventType {
	case models.EventSessionStart:
		// Session boundaries carry no transaction state.
		return nil, false, nil

	case models.EventUserPromptSubmit:
		// A new prompt on a live session replaces the old entry: the
		// user started a new task.
		tx := t.newTransaction(e)
		tx.PromptText = e.PromptText
		t.active[key] = tx
		if err := t.store.SaveTransaction(ctx, tx); err != nil {
			return nil, false, fmt.Errorf("persist transaction: %w", err)
		}
		return nil, false, nil

	case models.EventPostToolUse:
		tx, ok := t.active[key]
		if !ok {
			// Tool use without a preceding prompt still opens a
			// transaction, just without prompt text.
			tx = t.newTransaction(e)
			t.active[key] = tx
			if err := t.store.SaveTransaction(ctx, tx); err != nil {
				return nil, false, fmt.Errorf("persist transaction: %w", err)
			}
		}
		t.accumulate(tx, e)
		return nil, false, nil

	case models.EventStop:
		return t.finalize(ctx, key, e)
	}

	return nil, false, fmt.Errorf("unhandled event type %q", e.EventType)
}

func (t *Tracker) newTransaction(e *models.Event) *models.ActiveTransaction {
	return &models.ActiveTransaction{
		ProjectID:      e.ProjectID,
		SessionID:      e.SessionID,
		SessionName:    e.SessionName,
		ProjectName:    e.ProjectName,
		StartTime:      e.Timestamp,
		TranscriptPath: e.TranscriptPath,
		EventCount:     1,
	}
}

func (t *Tracker) accumulate(tx *models.ActiveTransaction, e *models.Event) {
	tx.EventCount++
	if e.ToolName != "" {
		tx.ToolsUsed = appendUnique(tx.ToolsUsed, e.ToolName)
	}
	if path, ok := e.ToolInput["file_path"].(string); ok && path != "" {
		tx.FilesModified = appendUnique(tx.FilesModified, path)
	}
	if tx.TranscriptPath == "" && e.TranscriptPath != "" {
		tx.TranscriptPath = e.TranscriptPath
	}
}

// finalize closes the transaction for key. Recovery order on a cold map:
// durable store first, then a synthesized zero-duration entry, so a Stop
// never goes unanswered.
func (t *Tracker) finalize(ctx context.Context, key string, e *models.Event) (*models.CompletedTransaction, bool, error) {
	tx, ok := t.active[key]
	if !ok {
		stored, err := t.store.GetTransaction(ctx, e.ProjectID, e.SessionID)
		if err != nil {
			return nil, false, fmt.Errorf("recover transaction: %w", err)
		}
		if stored != nil && !stored.Completed() {
			tx = stored
		} else {
			tx = t.newTransaction(e)
		}
	}
	delete(t.active, key)

	durationMs := e.Timestamp.Sub(tx.StartTime).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	if tx.PromptText == "" && e.PromptText != "" {
		tx.PromptText = e.PromptText
	}
	if tx.TranscriptPath == "" && e.TranscriptPath != "" {
		tx.TranscriptPath = e.TranscriptPath
	}
	// Merge client-reported accumulators with what we observed live.
	for _, f := range e.FilesModified {
		tx.FilesModified = appendUnique(tx.FilesModified, f)
	}
	for _, tool := range e.ToolsUsed {
		tx.ToolsUsed = appendUnique(tx.ToolsUsed, tool)
	}

	now := time.Now().UTC()
	tx.CompletedAt = &now
	tx.DurationMs = durationMs
	if err := t.store.SaveTransaction(ctx, tx); err != nil {
		return nil, false, fmt.Errorf("persist completion: %w", err)
	}
	if err := t.store.MarkTransactionCompleted(ctx, e.ProjectID, e.SessionID, durationMs); err != nil {
		return nil, false, err
	}

	completed := &models.CompletedTransaction{
		ProjectID:         tx.ProjectID,
		SessionID:         tx.SessionID,
		SessionName:       tx.SessionName,
		ProjectName:       tx.ProjectName,
		StartTime:         tx.StartTime,
		PromptText:        tx.PromptText,
		TranscriptPath:    tx.TranscriptPath,
		FilesModified:     tx.FilesModified,
		ToolsUsed:         tx.ToolsUsed,
		EventCount:        tx.EventCount,
		DurationMs:        durationMs,
		Usage:             e.Usage,
		Model:             e.Model,
		StopReason:        e.StopReason,
		DiscordWebhookURL: e.DiscordWebhookURL,
		VoiceID:           e.VoiceID,
	}
	shouldNotify := time.Duration(durationMs)*time.Millisecond >= t.cfg.NotifyThreshold

	t.logger.Info("transaction completed",
		"project", tx.ProjectName,
		"session", tx.SessionID,
		"duration_ms", durationMs,
		"notify", shouldNotify,
	)
	return completed, shouldNotify, nil
}

// Recover reloads unfinished transactions persisted by a previous run
// into the in-memory map, so a Stop arriving after a restart still
// closes against the original start time.
func (t *Tracker) Recover(ctx context.Context) (int, error) {
	pending, err := t.store.GetPendingTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending transactions: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	restored := 0
	for _, tx := range pending {
		key := tx.ProjectID + ":" + tx.SessionID
		if _, ok := t.active[key]; ok {
			continue
		}
		t.active[key] = tx
		restored++
	}
	if restored > 0 {
		t.logger.Info("recovered pending transactions", "count", restored)
	}
	return restored, nil
}

// Sweep reaps stale entries from both the durable store and the
// in-memory map. Returns the total number dropped.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	dropped, err := t.store.ClearStaleTransactions(ctx, t.cfg.StaleAfter)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-t.cfg.StaleAfter)
	t.mu.Lock()
	for key, tx := range t.active {
		if tx.StartTime.Before(cutoff) {
			delete(t.active, key)
			dropped++
		}
	}
	t.mu.Unlock()

	if dropped > 0 {
		t.logger.Info("reaped stale transactions", "count", dropped)
	}
	return dropped, nil
}

// ActiveCount returns the number of in-flight transactions in memory.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
