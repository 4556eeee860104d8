package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/trakhq/trak/pkg/models"
)

const (
	defaultHistoryLimit = 50

	defaultHeartbeatInterval = 15 * time.Second

	// The watermark poll is the safety net for events inserted by
	// another process, catching anything the in-process hub never saw.
	defaultStorePollInterval = time.Second
)

// handleDebugStream streams a project's events over SSE: a connected
// frame, recent history, then live events with periodic heartbeats.
func (s *Server) handleDebugStream(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "connected", 0, map[string]any{
		"project":     project,
		"connectedAt": time.Now().UTC().Format(time.RFC3339),
	})
	flusher.Flush()

	history, err := s.store.RecentEventsByName(r.Context(), project, limit)
	if err != nil {
		s.logger.Error("history backfill failed", "project", project, "error", err)
		writeSSE(w, "error", 0, map[string]any{"error": "history unavailable"})
		flusher.Flush()
		return
	}

	var watermark int64
	writeSSE(w, "history", 0, map[string]any{"count": len(history)})
	for _, e := range history {
		writeSSEEvent(w, e)
		if e.ID > watermark {
			watermark = e.ID
		}
	}
	flusher.Flush()

	// Live events arrive via the hub; the channel decouples the publish
	// path from slow client writes.
	live := make(chan *models.Event, 64)
	subID := s.hub.Subscribe(project, func(e *models.Event) {
		select {
		case live <- e:
		default:
			// Slow subscriber: drop, the store poll will catch up.
		}
	})
	defer s.hub.Unsubscribe(subID)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.cfg.StorePollInterval)
	defer poll.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case e := <-live:
			if e.ID > watermark {
				writeSSEEvent(w, e)
				watermark = e.ID
				flusher.Flush()
			}

		case <-poll.C:
			events, err := s.store.EventsSinceID(r.Context(), project, watermark)
			if err != nil {
				s.logger.Debug("store poll failed", "project", project, "error", err)
				continue
			}
			for _, e := range events {
				writeSSEEvent(w, e)
				if e.ID > watermark {
					watermark = e.ID
				}
			}
			if len(events) > 0 {
				flusher.Flush()
			}

		case <-heartbeat.C:
			writeSSE(w, "heartbeat", 0, map[string]any{"lastEventId": watermark})
			flusher.Flush()
		}
	}
}

// writeSSEEvent emits one stored event; the SSE id is the store id.
func writeSSEEvent(w http.ResponseWriter, e *models.Event) {
	writeSSE(w, "event", e.ID, e)
}

func writeSSE(w http.ResponseWriter, event string, id int64, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	if id > 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

// handleDebugUI serves a minimal live event viewer backed by the SSE
// stream.
func (s *Server) handleDebugUI(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, debugPage, project, project)
}

const debugPage = `<!DOCTYPE html>
<html>
<head><title>trak: %s</title></head>
<body>
<h1>Events: %s</h1>
<pre id="log"></pre>
<script>
const log = document.getElementById("log");
const source = new EventSource(window.location.pathname.replace(/\/ui$/, ""));
for (const name of ["connected", "history", "event", "heartbeat", "error"]) {
  source.addEventListener(name, (e) => {
    log.textContent += name + " " + e.data + "\n";
  });
}
</script>
</body>
</html>
`
