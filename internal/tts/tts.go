// Package tts synthesizes speech through the ElevenLabs API and writes
// the resulting MP3 clips into the daemon's audio directory, where the
// web layer serves them by clip ID.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL      = "https://api.elevenlabs.io"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"
	defaultModelID      = "eleven_turbo_v2_5"
	defaultOutputFormat = "mp3_44100_128"
	defaultTimeout      = 30 * time.Second

	// maxTextLength caps the text sent per request; longer summaries are
	// truncated rather than rejected.
	maxTextLength = 4096
)

// Config holds synthesizer settings.
type Config struct {
	// APIKey is the ElevenLabs API key. Empty disables synthesis.
	APIKey string

	// VoiceID is the default voice. Per-request overrides win.
	VoiceID string

	// ModelID is the ElevenLabs model to use.
	ModelID string

	// OutputDir is where generated clips are written.
	OutputDir string

	// BaseURL overrides the API endpoint, used by tests.
	BaseURL string

	// Timeout bounds one synthesis request.
	Timeout time.Duration
}

// Clip is a generated audio file.
type Clip struct {
	// ID names the clip; the audio endpoint resolves it back to Path.
	ID string

	// Path is the absolute location of the MP3 on disk.
	Path string

	// LatencyMs is the synthesis round-trip time.
	LatencyMs int64
}

// Synthesizer turns text into MP3 clips.
type Synthesizer struct {
	cfg    Config
	client *http.Client
}

var ErrDisabled = errors.New("tts: no API key configured")

// New constructs a Synthesizer. The zero Timeout defaults to 30s.
func New(cfg Config) *Synthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = defaultModelID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether synthesis is configured.
func (s *Synthesizer) Enabled() bool {
	return s.cfg.APIKey != ""
}

// Synthesize converts text to an MP3 clip. voiceID overrides the
// configured default when non-empty.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string) (*Clip, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("tts: text is empty")
	}
	if len(text) > maxTextLength {
		text = text[:maxTextLength]
	}
	if voiceID == "" {
		voiceID = s.cfg.VoiceID
	}

	start := time.Now()

	requestBody := map[string]any{
		"text":     text,
		"model_id": s.cfg.ModelID,
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		s.cfg.BaseURL, voiceID, defaultOutputFormat)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("xi-api-key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("tts: API returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if err := os.MkdirAll(s.cfg.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("tts: create output dir: %w", err)
	}

	id := uuid.New().String()
	path := filepath.Join(s.cfg.OutputDir, id+".mp3")

	outFile, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("tts: create output file: %w", err)
	}
	if _, err := io.Copy(outFile, resp.Body); err != nil {
		outFile.Close()
		os.Remove(path)
		return nil, fmt.Errorf("tts: write audio: %w", err)
	}
	if err := outFile.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("tts: close output file: %w", err)
	}

	return &Clip{
		ID:        id,
		Path:      path,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Cleanup removes a generated clip from disk.
func Cleanup(clip *Clip) error {
	if clip == nil || clip.Path == "" {
		return nil
	}
	return os.Remove(clip.Path)
}
