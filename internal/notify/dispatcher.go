package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/trakhq/trak/internal/tts"
	"github.com/trakhq/trak/pkg/models"
)

// Channels feature-flags the globally enabled delivery channels.
type Channels struct {
	TTS     bool
	Discord bool
	Console bool
}

// Request is one notification to fan out.
type Request struct {
	Project      string
	SessionName  string
	Summary      *models.Summary
	FullResponse string
	UserPrompt   string
	Metadata     map[string]any

	// Prefs overrides the globally enabled channels for this request.
	Prefs *models.ChannelPrefs

	// WebhookURL and VoiceID are per-project overrides from the client.
	WebhookURL string
	VoiceID    string

	DurationMs int64
	ToolsUsed  []string
	Priority   int
}

// Dispatcher fans a notification out to the enabled channels. TTS runs
// first so the generated clip can ride along as a webhook attachment
// and a response-page link; webhook and console are fire-and-forget.
type Dispatcher struct {
	channels  Channels
	baseURL   string
	synth     *tts.Synthesizer
	queue     *AudioQueue
	discord   *DiscordNotifier
	console   *ConsoleNotifier
	responses *ResponseStore
	logger    *slog.Logger
	observe   func(channel, status string)
}

// SetObserver registers a callback invoked once per channel attempt
// with "ok" or "error".
func (d *Dispatcher) SetObserver(fn func(channel, status string)) {
	d.observe = fn
}

func (d *Dispatcher) record(channel, status string) {
	if d.observe != nil {
		d.observe(channel, status)
	}
}

// NewDispatcher assembles a dispatcher. Any sink may be nil, which
// disables its channel regardless of flags.
func NewDispatcher(channels Channels, baseURL string, synth *tts.Synthesizer, queue *AudioQueue, discord *DiscordNotifier, console *ConsoleNotifier, responses *ResponseStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		channels:  channels,
		baseURL:   baseURL,
		synth:     synth,
		queue:     queue,
		discord:   discord,
		console:   console,
		responses: responses,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Dispatch delivers req and reports which channels were attempted.
// Channel failures degrade the response but never error it: webhook
// and console errors are logged from their own goroutines.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *models.NotifyResponse {
	if req.Summary == nil {
		return &models.NotifyResponse{Error: "summary is required"}
	}

	enabled := d.enabledChannels(req.Prefs)
	resp := &models.NotifyResponse{Success: true}

	var audioPath string
	if enabled.TTS {
		resp.Channels.TTS = true
		audioPath = d.dispatchTTS(ctx, req, resp)
	}

	if d.responses != nil {
		id := d.responses.Add(StoredResponse{
			Project:       req.Project,
			Summary:       req.Summary,
			FullResponse:  req.FullResponse,
			AudioFilename: audioPath,
			UserPrompt:    req.UserPrompt,
			Metadata:      req.Metadata,
		})
		resp.ResponseURL = d.baseURL + "/response/" + id
	}

	if enabled.Discord {
		resp.Channels.Discord = true
		msg := DiscordMessage{
			Project:     req.Project,
			Summary:     req.Summary,
			DurationMs:  req.DurationMs,
			ToolsUsed:   req.ToolsUsed,
			ResponseURL: resp.ResponseURL,
			AudioPath:   audioPath,
			WebhookURL:  req.WebhookURL,
		}
		go func() {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := d.discord.Send(sendCtx, msg); err != nil {
				d.logger.Error("discord delivery failed", "project", req.Project, "error", err)
				d.record("discord", "error")
				return
			}
			d.record("discord", "ok")
		}()
	}

	if enabled.Console {
		resp.Channels.Console = true
		go func() {
			if err := d.console.Notify(req.Project, req.Summary); err != nil {
				d.logger.Error("console write failed", "error", err)
				d.record("console", "error")
				return
			}
			d.record("console", "ok")
		}()
	}

	return resp
}

// dispatchTTS synthesizes the summary and enqueues the clip, returning
// the clip path for downstream attachment use ("" on any failure).
func (d *Dispatcher) dispatchTTS(ctx context.Context, req Request, resp *models.NotifyResponse) string {
	clip, err := d.synth.Synthesize(ctx, req.Summary.TaskCompleted, req.VoiceID)
	if err != nil {
		d.logger.Warn("tts synthesis failed", "project", req.Project, "error", err)
		d.record("tts", "error")
		return ""
	}

	position, err := d.queue.Enqueue(clip.Path, req.Project, req.Priority)
	if err != nil {
		d.logger.Warn("audio enqueue failed", "file", clip.Path, "error", err)
		d.record("tts", "error")
	} else {
		resp.Queued = true
		resp.QueuePosition = position
		d.record("tts", "ok")
	}
	resp.AudioURL = d.baseURL + "/audio/" + clip.ID

	return clip.Path
}

// enabledChannels resolves the global flags against per-request
// overrides, then drops channels whose sink is missing.
func (d *Dispatcher) enabledChannels(prefs *models.ChannelPrefs) Channels {
	enabled := d.channels
	if prefs != nil {
		if prefs.TTS != nil {
			enabled.TTS = *prefs.TTS
		}
		if prefs.Discord != nil {
			enabled.Discord = *prefs.Discord
		}
		if prefs.Console != nil {
			enabled.Console = *prefs.Console
		}
	}
	if d.synth == nil || !d.synth.Enabled() || d.queue == nil {
		enabled.TTS = false
	}
	if d.discord == nil {
		enabled.Discord = false
	}
	if d.console == nil {
		enabled.Console = false
	}
	return enabled
}
