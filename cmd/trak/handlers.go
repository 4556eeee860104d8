// handlers.go contains the runXxx implementations behind each command.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/trakhq/trak/internal/auth"
	"github.com/trakhq/trak/internal/config"
	"github.com/trakhq/trak/internal/daemon"
	"github.com/trakhq/trak/internal/metrics"
	"github.com/trakhq/trak/internal/store"
)

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug = true
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	d, err := daemon.New(cfg, metrics.NewMetrics(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("%w; use `trak stop` first", err)
		}
		return err
	}
	return nil
}

func runStatus(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	pf, err := daemon.ReadPIDFile(cfg.PIDPath())
	if err != nil {
		return fmt.Errorf("daemon is not running")
	}
	if daemon.IsPIDFileStale(pf) {
		return fmt.Errorf("daemon is not running (stale pid file, pid %d)", pf.PID)
	}

	fmt.Printf("trak daemon running\n")
	fmt.Printf("  pid:     %d\n", pf.PID)
	fmt.Printf("  port:    %d\n", pf.Port)
	fmt.Printf("  started: %s (up %s)\n",
		pf.StartedAt.Format(time.RFC3339),
		time.Since(pf.StartedAt).Round(time.Second))
	if pf.PublicURL != "" {
		fmt.Printf("  url:     %s\n", pf.PublicURL)
	}
	return nil
}

func runStop(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := daemon.Stop(cfg.PIDPath(), 10*time.Second); err != nil {
		return err
	}
	fmt.Println("daemon stopped")
	return nil
}

// openAuth opens the daemon's database for key administration. The
// caller must invoke the returned closer.
func openAuth(configPath string) (*auth.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return auth.NewService(st, logger), func() { st.Close() }, nil
}

func runKeysCreate(ctx context.Context, configPath, name, projectID string) error {
	svc, closeStore, err := openAuth(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	plaintext, cred, err := svc.CreateKey(ctx, name, projectID)
	if err != nil {
		return err
	}
	fmt.Printf("Created key %d (%s)\n\n", cred.ID, cred.Name)
	fmt.Printf("  %s\n\n", plaintext)
	fmt.Println("Store this key now; it will not be shown again.")
	return nil
}

func runKeysList(ctx context.Context, configPath string, all bool) error {
	svc, closeStore, err := openAuth(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	creds, err := svc.List(ctx, !all)
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		fmt.Println("no keys")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROJECT\tCREATED\tLAST USED\tSTATUS")
	for _, c := range creds {
		lastUsed := "never"
		if c.LastUsedAt != nil {
			lastUsed = c.LastUsedAt.Format(time.RFC3339)
		}
		status := "active"
		if c.Revoked() {
			status = "revoked"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Name, c.ProjectID, c.CreatedAt.Format(time.RFC3339), lastUsed, status)
	}
	return w.Flush()
}

func runKeysRevoke(ctx context.Context, configPath, idArg string) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid key id %q", idArg)
	}
	svc, closeStore, err := openAuth(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := svc.Revoke(ctx, id); err != nil {
		return err
	}
	fmt.Printf("revoked key %d\n", id)
	return nil
}

func runEventsTail(ctx context.Context, configPath, project, apiKey string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if apiKey == "" {
		apiKey = os.Getenv("TRAK_API_KEY")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := cfg.BaseURL()
	// A running daemon may be on an OS-assigned port; the PID file has
	// the real one.
	if pf, err := daemon.ReadPIDFile(cfg.PIDPath()); err == nil && daemon.IsProcessAlive(pf.PID) {
		base = fmt.Sprintf("http://127.0.0.1:%d", pf.Port)
	}
	url := base + "/debug/" + project
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			fmt.Println(line)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
