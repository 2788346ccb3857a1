package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/volume_agent/internal/api"
	"github.com/dgnsrekt/volume_agent/internal/badge"
	"github.com/dgnsrekt/volume_agent/internal/browser"
	"github.com/dgnsrekt/volume_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/volume_agent/internal/config"
	"github.com/dgnsrekt/volume_agent/internal/controller"
	"github.com/dgnsrekt/volume_agent/internal/coordinator"
	"github.com/dgnsrekt/volume_agent/internal/history"
	"github.com/dgnsrekt/volume_agent/internal/netutil"
	"github.com/dgnsrekt/volume_agent/internal/popup"
	"github.com/dgnsrekt/volume_agent/internal/prefstore"
	"github.com/dgnsrekt/volume_agent/internal/tabwatch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("volume agent config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"tab_sync_seconds", cfg.TabSyncSeconds,
		"store_path", cfg.StorePath,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
		})
		launchCtx, launchCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := launcher.Launch(launchCtx)
		launchCancel()
		if err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		if launcher.Running() {
			defer launcher.Stop()
		}
	}

	store, err := prefstore.Open(cfg.StorePath)
	if err != nil {
		slog.Error("failed to open preference store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}

	hist := history.NewLog(cfg.HistoryDir, cfg.HistoryBuffer, cfg.HistorySizeMB)
	defer func() { _ = hist.Close() }()

	badges := badge.NewRegistry()

	cdpClient := cdpcontrol.NewClient(cfg.CDPURL(), time.Duration(cfg.EvalTimeoutMS)*time.Millisecond)
	coord := coordinator.New(cdpClient, store, badges, hist, coordinator.Options{
		PropagateBatch: cfg.PropagateBatch,
		PropagateDelay: time.Duration(cfg.PropagateDelayMS) * time.Millisecond,
	})

	// A freshly installed interceptor starts at the neutral level; readiness
	// is the moment to push the stored domain volume into the new document.
	cdpClient.OnReady(func(tabID int, url string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		coord.OnTabNavigated(ctx, tabID, url)
	})

	if err := cdpClient.Connect(context.Background()); err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() { _ = cdpClient.Close() }()

	watcher := tabwatch.NewWatcher(cfg.CDPURL(),
		time.Duration(cfg.TabSyncSeconds)*time.Second, coord, cdpClient)
	if err := watcher.Start(context.Background()); err != nil {
		slog.Error("failed to start tab watcher", "error", err)
		os.Exit(1)
	}
	defer func() { _ = watcher.Close() }()

	pop := popup.NewController(coord, time.Duration(cfg.DebounceMS)*time.Millisecond)
	defer pop.Close()

	svc := controller.NewService(cdpClient, coord, pop, badges)
	h := api.NewServer(svc)

	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("volume agent listening",
			"addr", bindAddr,
			"docs", "http://"+bindAddr+"/docs",
			"popup", "http://"+bindAddr+"/popup",
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("agent server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("agent shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
