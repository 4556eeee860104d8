package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// QueueItem is one pending playback.
type QueueItem struct {
	File       string    `json:"file"`
	Project    string    `json:"project"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Priority   int       `json:"priority"`
}

// AudioQueue serializes audio playback: at most one clip plays at a
// time and the queue drains until empty. Items with a higher priority
// jump ahead of strictly lower-priority items; equal priorities keep
// FIFO order.
type AudioQueue struct {
	mu        sync.Mutex
	items     []QueueItem
	isPlaying bool
	draining  bool

	player Player
	logger *slog.Logger
}

// NewAudioQueue builds a queue draining into player.
func NewAudioQueue(player Player, logger *slog.Logger) *AudioQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioQueue{
		player: player,
		logger: logger.With("component", "audio-queue"),
	}
}

// Enqueue adds a file to the queue and returns its 1-based position.
// Missing files are rejected.
func (q *AudioQueue) Enqueue(file, project string, priority int) (int, error) {
	if _, err := os.Stat(file); err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", file, err)
	}

	item := QueueItem{
		File:       file,
		Project:    project,
		EnqueuedAt: time.Now(),
		Priority:   priority,
	}

	q.mu.Lock()
	idx := len(q.items)
	if priority > 0 {
		for i, existing := range q.items {
			if existing.Priority < priority {
				idx = i
				break
			}
		}
	}
	q.items = append(q.items, QueueItem{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = item

	position := idx + 1
	if !q.draining {
		q.draining = true
		go q.drain()
	}
	q.mu.Unlock()

	return position, nil
}

// drain plays queued clips one at a time until the queue is empty.
func (q *AudioQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.isPlaying = true
		q.mu.Unlock()

		q.play(item)

		q.mu.Lock()
		q.isPlaying = false
		q.mu.Unlock()
	}
}

// play runs one playback attempt. Failures are reported but never halt
// the queue.
func (q *AudioQueue) play(item QueueItem) {
	if !q.player.Available() {
		q.logger.Warn("audio player unavailable, dropping clip", "file", item.File)
		return
	}
	duration, err := q.player.Play(item.File)
	if err != nil {
		q.logger.Warn("playback failed", "file", item.File, "project", item.Project, "error", err)
		return
	}
	q.logger.Debug("played clip", "file", item.File, "duration", duration)
}

// Clear empties the queue without interrupting the current playback.
func (q *AudioQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Length returns the number of queued (not yet playing) items.
func (q *AudioQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Playing reports whether a clip is currently being played.
func (q *AudioQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isPlaying
}

// Snapshot returns a copy of the pending items for inspection.
func (q *AudioQueue) Snapshot() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]QueueItem, len(q.items))
	copy(items, q.items)
	return items
}

// WaitForDrain polls every 100 ms until the queue is empty and nothing
// is playing, or ctx expires.
func (q *AudioQueue) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idle := !q.isPlaying && len(q.items) == 0
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
