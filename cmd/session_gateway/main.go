package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/RemoteLoginCore/internal/api"
	"github.com/dgnsrekt/RemoteLoginCore/internal/audit"
	"github.com/dgnsrekt/RemoteLoginCore/internal/browser"
	"github.com/dgnsrekt/RemoteLoginCore/internal/config"
	"github.com/dgnsrekt/RemoteLoginCore/internal/credentials"
	"github.com/dgnsrekt/RemoteLoginCore/internal/driver"
	"github.com/dgnsrekt/RemoteLoginCore/internal/gateway"
	"github.com/dgnsrekt/RemoteLoginCore/internal/login"
	"github.com/dgnsrekt/RemoteLoginCore/internal/netutil"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
	"github.com/dgnsrekt/RemoteLoginCore/internal/relay"
	"github.com/dgnsrekt/RemoteLoginCore/internal/screencast"
	"github.com/dgnsrekt/RemoteLoginCore/internal/session"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load gateway config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("gateway config loaded",
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"driver_mode", cfg.DriverMode,
		"headless", cfg.Headless,
		"viewport", protocol.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight},
		"canvas", protocol.Size{Width: cfg.CanvasWidth, Height: cfg.CanvasHeight},
		"conflict_policy", cfg.ConflictPolicy,
		"idle_timeout", cfg.IdleTimeout,
		"grace_window", cfg.GraceWindow,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	rules, err := config.LoadDetectorRules(cfg.DetectorRulesPath)
	if err != nil {
		slog.Error("failed to load detector rules", "path", cfg.DetectorRulesPath, "error", err)
		os.Exit(1)
	}
	rules = cfg.ApplyCookieNames(rules)

	var launcher *browser.Launcher
	if cfg.DriverMode == driver.ModeRemote && cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ExecPath:   cfg.ChromePath,
			ProfileDir: filepath.Join(cfg.ProfileDir, "shared"),
			Headless:   cfg.Headless,
			UserAgent:  cfg.UserAgent,
		})
		launchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := launcher.Launch(launchCtx)
		cancel()
		if err != nil {
			slog.Error("failed to launch shared browser", "error", err)
			os.Exit(1)
		}
	}
	defer func() {
		if launcher != nil {
			launcher.Stop()
		}
	}()

	if err := os.MkdirAll(cfg.ProfileDir, 0o700); err != nil {
		slog.Error("failed to create profile dir", "dir", cfg.ProfileDir, "error", err)
		os.Exit(1)
	}
	viewport := protocol.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}
	alloc, err := driver.NewAllocator(driver.Options{
		Mode:          cfg.DriverMode,
		ExecPath:      cfg.ChromePath,
		Headless:      cfg.Headless,
		RemoteURL:     cfg.GetCDPURL(),
		ProfileRoot:   cfg.ProfileDir,
		Viewport:      viewport,
		UserAgent:     cfg.UserAgent,
		CookieURLs:    []string{cfg.CookieURL},
		ActionTimeout: cfg.InputTimeout,
	})
	if err != nil {
		slog.Error("failed to configure driver allocator", "error", err)
		os.Exit(1)
	}
	defer alloc.Close()

	auditLog, err := audit.Open(audit.Options{Dir: cfg.AuditDir})
	if err != nil {
		slog.Error("failed to open audit log", "dir", cfg.AuditDir, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := auditLog.Close(); err != nil {
			slog.Warn("audit log close failed", "error", err)
		}
	}()

	broker := relay.NewBroker()
	defer broker.Close()

	reg := session.NewRegistry(alloc, login.NewDetector(rules), session.RegistryOptions{
		Session: session.Options{
			Canvas: protocol.Size{Width: cfg.CanvasWidth, Height: cfg.CanvasHeight},
			Screencast: screencast.Options{
				Interval: cfg.FrameInterval(),
				Quality:  cfg.JPEGQuality,
			},
			NavigationTimeout: cfg.NavigationTimeout,
			InputTimeout:      cfg.InputTimeout,
			DetectInterval:    cfg.DetectInterval,
			InputQueue:        cfg.InputQueue,
			AutoCloseOnLogin:  cfg.AutoCloseOnLogin,
		},
		Policy:      session.ParsePolicy(cfg.ConflictPolicy),
		IdleTimeout: cfg.IdleTimeout,
		GraceWindow: cfg.GraceWindow,
		Viewport:    viewport,
	})
	reg.Observe(relay.Transitions(broker))
	reg.Observe(auditLog.Observer())

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go reg.Run(runCtx)

	var store credentials.Store
	if cfg.HandoffEndpoint != "" {
		store = &credentials.Forwarder{Endpoint: cfg.HandoffEndpoint, Client: &http.Client{Timeout: 10 * time.Second}}
	} else {
		fs, err := credentials.NewFileStore(cfg.CredentialsDir)
		if err != nil {
			slog.Error("failed to open credential store", "dir", cfg.CredentialsDir, "error", err)
			os.Exit(1)
		}
		store = fs
	}

	h := api.NewServer(api.Deps{
		Sessions:    reg,
		Gateway:     gateway.NewHandler(reg, gateway.Options{AllowedOrigins: cfg.AllowedOrigins}),
		Events:      broker,
		Credentials: store,
		Version:     version,
		AdminToken:  cfg.AdminToken,
	})

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to bind gateway listener", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	addr := ln.Addr().String()
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", addr, "ws", "ws://"+addr+"/ws", "viewer", "http://"+addr+"/viewer", "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		slog.Error("gateway server failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; closing the
	// sessions ends them.
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("gateway shutdown failed", "error", err)
	}
	stopRun()
	reg.Shutdown(session.ReasonShutdown)
	slog.Info("all sessions closed")
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
