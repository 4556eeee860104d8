package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trakhq/trak/internal/auth"
	"github.com/trakhq/trak/internal/bus"
	"github.com/trakhq/trak/internal/notify"
	"github.com/trakhq/trak/internal/store"
	"github.com/trakhq/trak/internal/summarizer"
	"github.com/trakhq/trak/internal/tracker"
)

type testEnv struct {
	server    *Server
	store     *store.Store
	responses *notify.ResponseStore
	console   *bytes.Buffer
}

func newTestEnv(t *testing.T, requireAuth bool) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, Config{RequireAuth: requireAuth})
}

func newTestEnvWithConfig(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "trak.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	tr := tracker.New(st, tracker.Config{NotifyThreshold: time.Hour}, logger)
	hub := bus.NewHub(logger)
	sum := summarizer.New(summarizer.Config{}, logger)
	responses := notify.NewResponseStore(time.Hour, 10)

	var console bytes.Buffer
	disp := notify.NewDispatcher(
		notify.Channels{Console: true},
		"http://127.0.0.1:4518",
		nil, nil, nil,
		notify.NewConsoleNotifier(&console),
		responses,
		logger,
	)

	authSvc := auth.NewService(st, logger)

	cfg.BaseURL = "http://127.0.0.1:4518"
	cfg.AudioDir = t.TempDir()
	srv := New(cfg, st, tr, hub, sum, disp, nil, responses, authSvc, nil, nil, logger)

	return &testEnv{server: srv, store: st, responses: responses, console: &console}
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPostEventsRoundTrip(t *testing.T) {
	env := newTestEnv(t, false)
	handler := env.server.Handler()

	rec := postJSON(t, handler, "/events",
		`{"eventType":"UserPromptSubmit","sessionId":"sess-1","projectId":"proj-1","projectName":"demo","timestamp":"2025-01-01T00:00:00Z","promptText":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool   `json:"success"`
		EventID string `json:"eventId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.EventID != "1" {
		t.Fatalf("resp = %+v", resp)
	}

	events, err := env.store.RecentEventsByName(context.Background(), "demo", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].PromptText != "hello" {
		t.Fatalf("stored events = %+v", events)
	}
}

func TestPostEventsRejectsInvalid(t *testing.T) {
	env := newTestEnv(t, false)
	handler := env.server.Handler()

	tests := []string{
		`{not json`,
		`{"eventType":"Unknown","sessionId":"s","projectId":"p","projectName":"demo","timestamp":"2025-01-01T00:00:00Z"}`,
		`{"eventType":"Stop","projectId":"p","projectName":"demo","timestamp":"2025-01-01T00:00:00Z"}`,
	}
	for _, body := range tests {
		rec := postJSON(t, handler, "/events", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"success":false`) {
			t.Errorf("body %q: response = %s", body, rec.Body.String())
		}
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, true)
	handler := env.server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t, true)
	handler := env.server.Handler()

	rec := postJSON(t, handler, "/events",
		`{"eventType":"Stop","sessionId":"s","projectId":"p","projectName":"demo","timestamp":"2025-01-01T00:00:00Z"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	want := `{"error":"Unauthorized","message":"Invalid or revoked API key"}`
	if strings.TrimSpace(rec.Body.String()) != want {
		t.Fatalf("body = %q, want constant 401 body", rec.Body.String())
	}
}

func TestNotifySummarized(t *testing.T) {
	env := newTestEnv(t, false)
	handler := env.server.Handler()

	rec := postJSON(t, handler, "/notify",
		`{"project":"demo","summary":"Edited a.ts","fullResponse":"full text"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success     bool   `json:"success"`
		ResponseURL string `json:"responseUrl"`
		Channels    struct {
			Console bool `json:"console"`
		} `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || !resp.Channels.Console {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.ResponseURL == "" {
		t.Fatal("missing responseUrl")
	}

	id := resp.ResponseURL[strings.LastIndex(resp.ResponseURL, "/")+1:]
	stored := env.responses.Get(id)
	if stored == nil || stored.FullResponse != "full text" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestNotifyRejectsUnknownShape(t *testing.T) {
	env := newTestEnv(t, false)
	handler := env.server.Handler()

	rec := postJSON(t, handler, "/notify", `{"project":"demo"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestNotifyRawRejectsBadPath(t *testing.T) {
	env := newTestEnv(t, false)
	handler := env.server.Handler()

	rec := postJSON(t, handler, "/notify",
		`{"project":"demo","transcriptPath":"/etc/passwd.jsonl","durationMs":1000}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestResponseEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	handler := env.server.Handler()

	postJSON(t, handler, "/notify", `{"project":"demo","summary":"done"}`)
	latest := env.responses.LatestByProject("demo")
	if latest == nil {
		t.Fatal("no stored response")
	}

	req := httptest.NewRequest(http.MethodGet, "/response/"+latest.ID, nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/response/nope", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", rec.Code)
	}
}

func TestLatestResponseEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	handler := env.server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/project/demo/latest-response", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty project status = %d, want 404", rec.Code)
	}

	postJSON(t, handler, "/notify", `{"project":"demo","summary":"done"}`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"project":"demo"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestQueueEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	handler := env.server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"length":0`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestDebugStreamBackfill(t *testing.T) {
	env := newTestEnv(t, false)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	rec := postJSON(t, env.server.Handler(), "/events",
		`{"eventType":"UserPromptSubmit","sessionId":"sess-1","projectId":"proj-1","projectName":"demo","timestamp":"2025-01-01T00:00:00Z","promptText":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed event failed: %s", rec.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/demo?limit=10", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var sawConnected, sawHistory, sawID, sawPrompt bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "event: connected":
			sawConnected = true
		case line == "event: history":
			sawHistory = true
		case line == "id: 1":
			sawID = true
		case strings.Contains(line, `"promptText":"hello"`):
			sawPrompt = true
		}
		if sawConnected && sawHistory && sawID && sawPrompt {
			cancel()
			break
		}
	}
	if !sawConnected || !sawHistory || !sawID || !sawPrompt {
		t.Fatalf("stream frames missing: connected=%v history=%v id=%v prompt=%v",
			sawConnected, sawHistory, sawID, sawPrompt)
	}
}

func TestDebugStreamHeartbeatCarriesWatermark(t *testing.T) {
	env := newTestEnvWithConfig(t, Config{
		HeartbeatInterval: 30 * time.Millisecond,
		StorePollInterval: 10 * time.Millisecond,
	})
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	rec := postJSON(t, env.server.Handler(), "/events",
		`{"eventType":"UserPromptSubmit","sessionId":"sess-1","projectId":"proj-1","projectName":"demo","timestamp":"2025-01-01T00:00:00Z","promptText":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed event failed: %s", rec.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/demo", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var sawHeartbeat, heartbeatNext bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: heartbeat" {
			heartbeatNext = true
			continue
		}
		if heartbeatNext {
			if !strings.Contains(line, `"lastEventId":1`) {
				t.Fatalf("heartbeat data = %q, want lastEventId 1", line)
			}
			sawHeartbeat = true
			cancel()
			break
		}
	}
	if !sawHeartbeat {
		t.Fatal("no heartbeat frame observed")
	}
}
