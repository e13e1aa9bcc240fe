// Command dommark runs the highlight service: HTTP dashboard API plus
// the store watcher that pushes out-of-band writes into live sessions.
//
// Usage:
//
//	dommark -config dommark.yaml           # run with config file
//	dommark -db anchors.db                 # run with defaults
//	dommark -db anchors.db -export out.json  # dump snapshot and exit
//	dommark -db anchors.db -import in.json   # merge snapshot and exit
//	dommark -db anchors.db -repair           # one drift sweep and exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dommark"
	"github.com/hazyhaar/dommark/server"
	"github.com/hazyhaar/dommark/store"
)

func main() {
	configPath := flag.String("config", "", "path to dommark.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	exportPath := flag.String("export", "", "write a snapshot to FILE and exit")
	importPath := flag.String("import", "", "merge a snapshot from FILE and exit")
	runRepair := flag.Bool("repair", false, "run one drift sweep, print the report, and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *addr, *exportPath, *importPath, *runRepair); err != nil {
		logger.Error("dommark: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, addr, exportPath, importPath string, runRepair bool) error {
	cfg, err := dommark.LoadConfigFile(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if addr != "" {
		cfg.Addr = addr
	}

	svc, err := dommark.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	// One-shot: export.
	if exportPath != "" {
		snap, err := svc.Export(ctx)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportPath, data, 0o644); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		logger.Info("dommark: exported", "file", exportPath, "pages", len(snap.Pages))
		return nil
	}

	// One-shot: import.
	if importPath != "" {
		data, err := os.ReadFile(importPath)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		var snap store.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("parse snapshot: %w", err)
		}
		stats, err := svc.Import(ctx, &snap)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		logger.Info("dommark: imported", "file", importPath,
			"added", stats.AnchorsAdded, "skipped", stats.AnchorsSkipped)
		return nil
	}

	// One-shot: repair sweep.
	if runRepair {
		rep, err := svc.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("repair: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	// Daemon mode: HTTP API + watcher until SIGINT/SIGTERM.
	go svc.Run(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(svc, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("dommark: listening", "addr", cfg.Addr, "db", cfg.DBPath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("dommark: shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
