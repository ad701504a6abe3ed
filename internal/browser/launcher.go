package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Config describes the shared Chromium that session targets are opened on
// when the gateway runs in remote mode.
type Config struct {
	CDPAddress string
	CDPPort    int
	ExecPath   string
	ProfileDir string
	Headless   bool
	WindowSize string
	// ReadyTimeout bounds the wait for the DevTools endpoint.
	ReadyTimeout time.Duration
	UserAgent    string
}

// Launcher owns the shared browser process, if it started one.
type Launcher struct {
	cfg Config

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	running bool
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1920,1080"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg}
}

// detectBrowser finds an available Chrome/Chromium binary.
func detectBrowser(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("browser path %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", errors.New("no supported browser found (tried chromium-browser, chromium, google-chrome)")
}

func (l *Launcher) hostPort() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

// CDPURL is the HTTP DevTools endpoint handed to the remote allocator.
func (l *Launcher) CDPURL() string {
	return "http://" + l.hostPort()
}

func (l *Launcher) portInUse() bool {
	conn, err := net.DialTimeout("tcp", l.hostPort(), time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (l *Launcher) args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--user-data-dir=" + l.cfg.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--disable-breakpad",
		"--disable-crash-reporter",
		"--mute-audio",
		"--window-size=" + l.cfg.WindowSize,
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new")
	}
	if l.cfg.UserAgent != "" {
		args = append(args, "--user-agent="+l.cfg.UserAgent)
	}
	return append(args, "about:blank")
}

// Launch starts the shared browser unless something already answers on the
// DevTools port, then waits for the endpoint to come up.
func (l *Launcher) Launch(ctx context.Context) error {
	if l.portInUse() {
		slog.Info("shared browser already running, skipping launch", "cdp_url", l.CDPURL())
		return l.waitForCDP(ctx)
	}

	browserPath, err := detectBrowser(l.cfg.ExecPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	cmd := exec.Command(browserPath, l.args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	l.mu.Lock()
	l.cmd, l.exited, l.running = cmd, exited, true
	l.mu.Unlock()
	slog.Info("shared browser started", "path", browserPath, "pid", cmd.Process.Pid, "headless", l.cfg.Headless)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "cdp_url", l.CDPURL())
	return nil
}

// waitForCDP polls /json/version until it answers 200.
func (l *Launcher) waitForCDP(ctx context.Context) error {
	url := l.CDPURL() + "/json/version"
	deadline := time.NewTimer(l.cfg.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.exitedCh():
			return errors.New("browser exited before CDP became ready")
		case <-deadline.C:
			return fmt.Errorf("CDP did not become ready within %s at %s", l.cfg.ReadyTimeout, url)
		case <-ticker.C:
		}
	}
}

func (l *Launcher) exitedCh() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exited
}

// Running reports whether this launcher spawned a browser that is still up.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stop terminates the spawned browser with SIGTERM, falling back to SIGKILL.
// A browser the launcher did not start is left alone.
func (l *Launcher) Stop() {
	l.mu.Lock()
	cmd, exited := l.cmd, l.exited
	l.cmd, l.running = nil, false
	l.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	slog.Info("stopping shared browser", "pid", cmd.Process.Pid)
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
		slog.Info("shared browser stopped gracefully")
	case <-time.After(5 * time.Second):
		slog.Warn("shared browser did not exit, sending SIGKILL")
		_ = cmd.Process.Kill()
		<-exited
	}
}
