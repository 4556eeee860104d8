package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/trakhq/trak/internal/retry"
	"github.com/trakhq/trak/pkg/models"
)

// maxAttachmentBytes is Discord's webhook upload ceiling; larger audio
// files are dropped from the message rather than failing it.
const maxAttachmentBytes = 25 << 20

// Embed colors keyed to context-usage pressure.
const (
	colorGreen  = 0x2ECC71
	colorYellow = 0xF1C40F
	colorOrange = 0xE67E22
	colorRed    = 0xE74C3C
)

// ValidateWebhookURL accepts only HTTPS Discord webhook endpoints.
// Overrides arrive from remote clients, so anything else is rejected
// with a distinct reason.
func ValidateWebhookURL(raw string) error {
	if raw == "" {
		return errors.New("webhook URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("webhook URL is not a valid URL: %q", raw)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("webhook URL must use https, got scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	allowed := host == "discord.com" || host == "discordapp.com" ||
		strings.HasSuffix(host, ".discord.com") || strings.HasSuffix(host, ".discordapp.com")
	if !allowed {
		return fmt.Errorf("webhook host %q is not a Discord domain", host)
	}
	if !strings.HasPrefix(u.Path, "/api/webhooks/") {
		return fmt.Errorf("webhook path must begin with /api/webhooks/, got %q", u.Path)
	}
	return nil
}

// DiscordMessage is one notification bound for a webhook.
type DiscordMessage struct {
	Project     string
	Summary     *models.Summary
	DurationMs  int64
	ToolsUsed   []string
	ResponseURL string

	// AudioPath, when set and small enough, is attached to the message.
	AudioPath string

	// WebhookURL overrides the global webhook when it validates.
	WebhookURL string
}

// DiscordNotifier delivers messages to a Discord webhook with bounded
// retry.
type DiscordNotifier struct {
	globalURL string
	client    *http.Client
	logger    *slog.Logger
}

// NewDiscordNotifier builds a notifier posting to globalURL.
func NewDiscordNotifier(globalURL string, logger *slog.Logger) *DiscordNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordNotifier{
		globalURL: globalURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger.With("component", "discord"),
	}
}

// Send posts msg to the resolved webhook. Up to 3 attempts; 429
// honors Retry-After, other 4xx statuses stop immediately.
func (d *DiscordNotifier) Send(ctx context.Context, msg DiscordMessage) error {
	target := d.resolveURL(msg.WebhookURL)
	if target == "" {
		return errors.New("no webhook URL configured")
	}

	body, contentType, err := d.buildBody(msg)
	if err != nil {
		return err
	}

	cfg := retry.Exponential(3, time.Second, 8*time.Second)
	result := retry.Do(ctx, cfg, func() error {
		return d.post(ctx, target, contentType, body)
	})
	if result.Err != nil {
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", result.Attempts, result.Err)
	}
	d.logger.Debug("webhook delivered", "project", msg.Project, "attempts", result.Attempts)
	return nil
}

// resolveURL picks the per-request override when it validates, falling
// back to the global webhook otherwise.
func (d *DiscordNotifier) resolveURL(override string) string {
	if override == "" {
		return d.globalURL
	}
	if err := ValidateWebhookURL(override); err != nil {
		d.logger.Error("webhook override rejected, using global", "error", err)
		return d.globalURL
	}
	return override
}

func (d *DiscordNotifier) post(ctx context.Context, target, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10)) //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("webhook rate limited: %s", resp.Status)
		if secs, parseErr := strconv.Atoi(resp.Header.Get("Retry-After")); parseErr == nil && secs > 0 {
			return retry.WithDelayHint(err, time.Duration(secs)*time.Second)
		}
		return err
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("webhook rejected request: %s", resp.Status))
	default:
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
}

// buildBody renders the message as JSON, or as a multipart form when a
// small enough audio attachment is present.
func (d *DiscordNotifier) buildBody(msg DiscordMessage) ([]byte, string, error) {
	params := discordgo.WebhookParams{
		Username: "trak",
		Embeds:   []*discordgo.MessageEmbed{buildEmbed(msg)},
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, "", fmt.Errorf("marshal webhook payload: %w", err)
	}

	audio := attachableAudio(msg.AudioPath)
	if audio == "" {
		return payload, "application/json", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("payload_json", string(payload)); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("files[0]", filepath.Base(audio))
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(audio)
	if err != nil {
		return nil, "", err
	}
	_, copyErr := io.Copy(part, f)
	f.Close()
	if copyErr != nil {
		return nil, "", copyErr
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// attachableAudio returns path when the file exists and fits under the
// upload limit, "" otherwise.
func attachableAudio(path string) string {
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxAttachmentBytes {
		return ""
	}
	return path
}

func buildEmbed(msg DiscordMessage) *discordgo.MessageEmbed {
	description := ""
	contextPct := 0
	if msg.Summary != nil {
		description = msg.Summary.TaskCompleted
		contextPct = msg.Summary.ContextUsagePercent
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Task complete: %s", msg.Project),
		Description: description,
		Color:       embedColor(contextPct),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	addField := func(name, value string) {
		if value == "" || len(embed.Fields) >= 6 {
			return
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  value,
			Inline: true,
		})
	}

	if msg.DurationMs > 0 {
		addField("Duration", formatDurationMs(msg.DurationMs))
	}
	if msg.Summary != nil && len(msg.Summary.KeyOutcomes) > 0 {
		addField("Outcomes", strings.Join(msg.Summary.KeyOutcomes, "\n"))
	}
	if len(msg.ToolsUsed) > 0 {
		addField("Tools", strings.Join(msg.ToolsUsed, ", "))
	}
	if contextPct > 0 {
		addField("Context", fmt.Sprintf("%d%%", contextPct))
	}
	if msg.ResponseURL != "" {
		addField("Response", msg.ResponseURL)
	}
	return embed
}

// embedColor maps context-usage percent to the traffic-light palette.
func embedColor(contextPct int) int {
	switch {
	case contextPct < 30:
		return colorGreen
	case contextPct < 60:
		return colorYellow
	case contextPct < 80:
		return colorOrange
	default:
		return colorRed
	}
}

func formatDurationMs(ms int64) string {
	seconds := ms / 1000
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}
