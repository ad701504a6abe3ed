package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/RemoteLoginCore/internal/credentials"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
	"github.com/dgnsrekt/RemoteLoginCore/internal/viewer"
	"github.com/dgnsrekt/RemoteLoginCore/internal/viewer/tui"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	gatewayURL := flag.String("gateway", envOr("VIEWER_GATEWAY_URL", "http://127.0.0.1:8290"), "gateway base URL")
	userID := flag.String("user", envOr("VIEWER_USER_ID", ""), "user id to open the session for")
	token := flag.String("token", envOr("VIEWER_TOKEN", ""), "resume token from a previous connection")
	framePath := flag.String("frame", envOr("VIEWER_FRAME_PATH", "frames/latest.jpg"), "file the newest frame is written to (empty disables)")
	handoffURL := flag.String("handoff", envOr("VIEWER_HANDOFF_URL", ""), "credential endpoint; the user id is appended (empty disables)")
	autoStart := flag.Bool("start", true, "send startLogin as soon as the session is connected")
	logFile := flag.String("log", envOr("VIEWER_LOG_FILE", "logs/session_viewer.log"), "log file")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "a user id is required (-user or VIEWER_USER_ID)")
		os.Exit(2)
	}
	if err := setupLogger(*logFile); err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := viewer.Dial(ctx, *gatewayURL, *userID, *token)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()
	slog.Info("viewer connected", "gateway", *gatewayURL, "user_id", *userID)

	var handoff tui.Handoff
	if *handoffURL != "" {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		endpoint, user := *handoffURL, *userID
		handoff = func(ctx context.Context, b protocol.CredentialBundle) (credentials.Result, error) {
			return credentials.Send(ctx, httpClient, endpoint, user, b)
		}
	}

	m := tui.New(tui.Config{
		Conn:      client,
		UserID:    *userID,
		FramePath: *framePath,
		Handoff:   handoff,
		AutoStart: *autoStart,
	})
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger sends logs to a rotated file only; stdout belongs to the TUI.
func setupLogger(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	w := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})))
	return nil
}
