package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trakhq/trak/internal/notify"
	"github.com/trakhq/trak/internal/summarizer"
	"github.com/trakhq/trak/pkg/models"
)

// maxBodyBytes bounds request bodies on the ingest endpoints.
const maxBodyBytes = 1 << 20

// handleEvents ingests one lifecycle event: persist, update the
// tracker, broadcast to live subscribers, and on a qualifying Stop
// dispatch the notification in the background. The response never
// waits on dispatch.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var e models.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := e.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, span := s.tracer.TraceEventIngest(r.Context(), string(e.EventType), e.ProjectName)
	defer span.End()

	id, err := s.store.InsertEvent(ctx, &e)
	if err != nil {
		s.logger.Error("event insert failed", "error", err)
		s.tracer.RecordError(span, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	e.ID = id
	if s.metrics != nil {
		s.metrics.EventIngested(string(e.EventType), e.ProjectName)
	}

	completed, shouldNotify, err := s.tracker.ProcessEvent(ctx, &e)
	if err != nil {
		// The event row is durable; tracker state errors degrade the
		// transaction, not the ingest.
		s.logger.Error("tracker update failed", "project", e.ProjectID, "session", e.SessionID, "error", err)
	}

	s.hub.Publish(&e)
	if s.metrics != nil {
		s.metrics.SetActiveTransactions(s.tracker.ActiveCount())
	}

	if completed != nil && shouldNotify {
		go s.dispatchCompleted(id, completed)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"eventId": strconv.FormatInt(id, 10),
	})
}

// dispatchCompleted summarizes a finished transaction and fans it out.
// Runs detached from the ingest request; all errors end in logs.
func (s *Server) dispatchCompleted(eventID int64, completed *models.CompletedTransaction) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx, span := s.tracer.TraceNotifyPipeline(ctx, completed.ProjectName, completed.DurationMs)
	defer span.End()

	summary := s.summarizer.Generate(ctx, summarizer.Input{
		TranscriptPath: completed.TranscriptPath,
		DurationMs:     completed.DurationMs,
		FilesModified:  completed.FilesModified,
		ToolsUsed:      completed.ToolsUsed,
		PromptText:     completed.PromptText,
		Usage:          completed.Usage,
		Model:          completed.Model,
		Project:        completed.ProjectName,
		SessionName:    completed.SessionName,
	})
	fullResponse := s.summarizer.FullResponse(completed.TranscriptPath)

	resp := s.dispatcher.Dispatch(ctx, notify.Request{
		Project:      completed.ProjectName,
		SessionName:  completed.SessionName,
		Summary:      summary,
		FullResponse: fullResponse,
		UserPrompt:   completed.PromptText,
		WebhookURL:   completed.DiscordWebhookURL,
		VoiceID:      completed.VoiceID,
		DurationMs:   completed.DurationMs,
		ToolsUsed:    completed.ToolsUsed,
	})

	if s.metrics != nil {
		s.metrics.TransactionCompleted(completed.DurationMs)
		if s.queue != nil {
			s.metrics.SetAudioQueueDepth(s.queue.Length())
		}
	}

	notificationID := uuid.New().String()
	if i := strings.LastIndex(resp.ResponseURL, "/"); i >= 0 && i < len(resp.ResponseURL)-1 {
		notificationID = resp.ResponseURL[i+1:]
	}
	if err := s.store.MarkNotificationSent(ctx, eventID, notificationID); err != nil {
		s.logger.Error("mark notification sent failed", "eventId", eventID, "error", err)
		s.tracer.RecordError(span, err)
	}
}

// handleNotify accepts a pre-summarized or raw notification request and
// dispatches it synchronously enough to report queue info.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	payload, err := models.ParseNotifyPayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req notify.Request
	switch {
	case payload.Summarized != nil:
		p := payload.Summarized
		req = notify.Request{
			Project:     p.Project,
			SessionName: p.SessionName,
			Summary: &models.Summary{
				TaskCompleted: p.Summary,
				ProjectName:   p.Project,
			},
			FullResponse: p.FullResponse,
			UserPrompt:   p.UserPrompt,
			Metadata:     p.Metadata,
			Prefs:        p.ChannelPrefs,
			WebhookURL:   p.DiscordWebhookURL,
			VoiceID:      p.VoiceID,
		}

	case payload.Raw != nil:
		p := payload.Raw
		if err := s.summarizer.ValidatePath(p.TranscriptPath); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		summary := s.summarizer.Generate(r.Context(), summarizer.Input{
			TranscriptPath: p.TranscriptPath,
			DurationMs:     p.DurationMs,
			FilesModified:  p.FilesModified,
			ToolsUsed:      p.ToolsUsed,
			PromptText:     p.PromptText,
			Usage:          p.Usage,
			Model:          p.Model,
			Project:        p.Project,
			SessionName:    p.SessionName,
		})
		req = notify.Request{
			Project:      p.Project,
			SessionName:  p.SessionName,
			Summary:      summary,
			FullResponse: s.summarizer.FullResponse(p.TranscriptPath),
			UserPrompt:   p.PromptText,
			Prefs:        p.ChannelPrefs,
			WebhookURL:   p.DiscordWebhookURL,
			VoiceID:      p.VoiceID,
			DurationMs:   p.DurationMs,
			ToolsUsed:    p.ToolsUsed,
		}
	}

	resp := s.dispatcher.Dispatch(r.Context(), req)
	if s.metrics != nil && s.queue != nil {
		s.metrics.SetAudioQueueDepth(s.queue.Length())
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQueue reports the audio queue state.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusOK, map[string]any{"length": 0, "playing": false, "items": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"length":  s.queue.Length(),
		"playing": s.queue.Playing(),
		"items":   s.queue.Snapshot(),
	})
}

// handleDebugIndex reports daemon-level counters.
func (s *Server) handleDebugIndex(w http.ResponseWriter, r *http.Request) {
	queueLen := 0
	if s.queue != nil {
		queueLen = s.queue.Length()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activeTransactions": s.tracker.ActiveCount(),
		"subscribers":        s.hub.SubscriberCount(),
		"queueLength":        queueLen,
		"uptimeSeconds":      int(time.Since(s.startedAt).Seconds()),
	})
}
