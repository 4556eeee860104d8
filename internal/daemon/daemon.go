// Package daemon assembles and runs the trak server process: storage,
// transaction tracking, summarization, notification fan-out, the HTTP
// surface, and the background maintenance schedule.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trakhq/trak/internal/auth"
	"github.com/trakhq/trak/internal/bus"
	"github.com/trakhq/trak/internal/config"
	"github.com/trakhq/trak/internal/metrics"
	"github.com/trakhq/trak/internal/notify"
	"github.com/trakhq/trak/internal/store"
	"github.com/trakhq/trak/internal/summarizer"
	"github.com/trakhq/trak/internal/tracker"
	"github.com/trakhq/trak/internal/tts"
	"github.com/trakhq/trak/internal/web"
)

const shutdownTimeout = 10 * time.Second

// ErrAlreadyRunning is returned by Run when a healthy daemon already
// owns the PID file.
var ErrAlreadyRunning = errors.New("daemon already running")

// Daemon owns every long-lived component of the server process.
type Daemon struct {
	cfg       *config.Config
	store     *store.Store
	tracker   *tracker.Tracker
	queue     *notify.AudioQueue
	responses *notify.ResponseStore
	handler   http.Handler
	metrics   *metrics.Metrics
	cron      *cron.Cron
	logger    *slog.Logger

	stopTracing func(context.Context) error

	ready chan struct{} // closed once the listener is bound
	port  int
}

// New opens the store and wires the full component graph from cfg. The
// metrics handle may be nil.
func New(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.AudioDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating audio dir: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	tr := tracker.New(st, tracker.Config{
		NotifyThreshold: cfg.Tracker.NotifyThreshold,
		StaleAfter:      cfg.Tracker.StaleAfter,
	}, logger)
	hub := bus.NewHub(logger)
	sum := summarizer.New(summarizer.Config{
		APIKey:                cfg.Summarizer.APIKey,
		BaseURL:               cfg.Summarizer.BaseURL,
		Model:                 cfg.Summarizer.Model,
		Timeout:               cfg.Summarizer.Timeout,
		AllowedTranscriptDirs: cfg.Summarizer.AllowedTranscriptDirs,
	}, logger)

	var synth *tts.Synthesizer
	var queue *notify.AudioQueue
	if cfg.Channels.TTS {
		synth = tts.New(tts.Config{
			APIKey:    cfg.TTS.APIKey,
			VoiceID:   cfg.TTS.VoiceID,
			ModelID:   cfg.TTS.ModelID,
			OutputDir: cfg.AudioDir(),
		})
		queue = notify.NewAudioQueue(notify.NewExecPlayer(cfg.TTS.Player), logger)
	}
	var discord *notify.DiscordNotifier
	if cfg.Channels.Discord {
		discord = notify.NewDiscordNotifier(cfg.Channels.DiscordWebhookURL, logger)
	}
	var console *notify.ConsoleNotifier
	if cfg.Channels.Console {
		console = notify.NewConsoleNotifier(nil)
	}

	responses := notify.NewResponseStore(cfg.Responses.TTL, cfg.Responses.MaxEntries)
	disp := notify.NewDispatcher(notify.Channels{
		TTS:     cfg.Channels.TTS,
		Discord: cfg.Channels.Discord,
		Console: cfg.Channels.Console,
	}, cfg.BaseURL(), synth, queue, discord, console, responses, logger)
	if m != nil {
		sum.SetObserver(m.SummaryGenerated)
		disp.SetObserver(m.NotificationDispatched)
	}

	tracer, stopTracing := metrics.NewTracer(metrics.TraceConfig{
		ServiceName: "trak",
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})

	srv := web.New(web.Config{
		BaseURL:     cfg.BaseURL(),
		AudioDir:    cfg.AudioDir(),
		RequireAuth: cfg.RequireAuth(),
	}, st, tr, hub, sum, disp, queue, responses, auth.NewService(st, logger), m, tracer, logger)

	return &Daemon{
		cfg:         cfg,
		store:       st,
		tracker:     tr,
		queue:       queue,
		responses:   responses,
		handler:     srv.Handler(),
		metrics:     m,
		logger:      logger.With("component", "daemon"),
		ready:       make(chan struct{}),
		stopTracing: stopTracing,
	}, nil
}

// Run binds the listener, writes the PID file, starts the maintenance
// schedule, and serves until ctx is cancelled. Blocks until shutdown
// completes.
func (d *Daemon) Run(ctx context.Context) error {
	if pf, err := ReadPIDFile(d.cfg.PIDPath()); err == nil {
		if !IsPIDFileStale(pf) {
			return fmt.Errorf("%w (pid %d, port %d)", ErrAlreadyRunning, pf.PID, pf.Port)
		}
		d.logger.Warn("removing stale pid file", "pid", pf.PID)
		if err := RemovePIDFile(d.cfg.PIDPath()); err != nil {
			return err
		}
	}

	if restored, err := d.tracker.Recover(ctx); err != nil {
		d.logger.Error("transaction recovery failed", "error", err)
	} else if restored > 0 && d.metrics != nil {
		d.metrics.SetActiveTransactions(restored)
	}

	addr := net.JoinHostPort(d.cfg.Server.Host, fmt.Sprintf("%d", d.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	d.port = ln.Addr().(*net.TCPAddr).Port
	close(d.ready)

	if err := WritePIDFile(d.cfg.PIDPath(), d.port, d.cfg.Server.PublicURL); err != nil {
		ln.Close()
		return fmt.Errorf("writing pid file: %w", err)
	}

	if err := d.startCron(); err != nil {
		ln.Close()
		return err
	}

	server := &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.logger.Info("daemon listening", "addr", ln.Addr().String(), "baseUrl", d.cfg.BaseURL())

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		d.shutdown(server)
		return err
	}
	return d.shutdown(server)
}

// Port returns the bound port. Blocks until Run has bound the listener.
func (d *Daemon) Port() int {
	<-d.ready
	return d.port
}

func (d *Daemon) shutdown(server *http.Server) error {
	d.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(ctx)
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
	if d.queue != nil {
		// Let a clip that is already playing finish, bounded by the
		// shutdown deadline.
		if derr := d.queue.WaitForDrain(ctx); derr != nil {
			d.logger.Warn("audio queue not drained", "remaining", d.queue.Length())
		}
	}
	if terr := d.stopTracing(ctx); terr != nil {
		d.logger.Warn("trace export shutdown failed", "error", terr)
	}
	if cerr := d.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if rerr := RemovePIDFile(d.cfg.PIDPath()); rerr != nil {
		d.logger.Error("pid file cleanup failed", "error", rerr)
	}
	return err
}

// startCron registers the maintenance jobs: stale-transaction sweeps,
// response-store eviction, and daily event retention pruning.
func (d *Daemon) startCron() error {
	c := cron.New()

	jobs := []struct {
		spec string
		fn   func()
	}{
		{"@every 1m", d.sweepTransactions},
		{"@every 5m", d.evictResponses},
	}
	if d.cfg.Tracker.EventRetention > 0 {
		jobs = append(jobs, struct {
			spec string
			fn   func()
		}{"@daily", d.pruneEvents})
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("scheduling %q: %w", j.spec, err)
		}
	}
	c.Start()
	d.cron = c
	return nil
}

func (d *Daemon) sweepTransactions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := d.tracker.Sweep(ctx); err != nil {
		d.logger.Error("transaction sweep failed", "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.SetActiveTransactions(d.tracker.ActiveCount())
	}
}

func (d *Daemon) evictResponses() {
	if n := d.responses.Evict(); n > 0 {
		d.logger.Debug("evicted expired responses", "count", n)
	}
}

func (d *Daemon) pruneEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().Add(-d.cfg.Tracker.EventRetention)
	n, err := d.store.DeleteOldEvents(ctx, cutoff)
	if err != nil {
		d.logger.Error("event retention prune failed", "error", err)
		return
	}
	if n > 0 {
		d.logger.Info("pruned old events", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}

// Stop signals the daemon recorded in the PID file and waits for it to
// exit. A stale PID file is cleaned up and reported as an error.
func Stop(pidPath string, timeout time.Duration) error {
	pf, err := ReadPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("no running daemon: %w", err)
	}
	if !IsProcessAlive(pf.PID) {
		_ = RemovePIDFile(pidPath)
		return fmt.Errorf("daemon (pid %d) is not running; removed stale pid file", pf.PID)
	}
	if err := TerminateProcess(pf.PID); err != nil {
		return fmt.Errorf("signaling pid %d: %w", pf.PID, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(pf.PID) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %s", pf.PID, timeout)
}
