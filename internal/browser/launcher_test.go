package browser

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func launcherFor(t *testing.T, srv *httptest.Server, timeout time.Duration) *Launcher {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port)
	return NewLauncher(Config{CDPAddress: host, CDPPort: p, ReadyTimeout: timeout})
}

func TestLaunchReusesRunningBrowser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"Browser":"Chrome/126"}`))
	}))
	defer srv.Close()

	l := launcherFor(t, srv, 2*time.Second)
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if l.Running() {
		t.Fatal("launcher claims ownership of a browser it did not start")
	}
	l.Stop()
}

func TestWaitForCDPTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l := launcherFor(t, srv, 300*time.Millisecond)
	err := l.waitForCDP(context.Background())
	if err == nil || !strings.Contains(err.Error(), "did not become ready") {
		t.Fatalf("waitForCDP() error = %v", err)
	}
}

func TestWaitForCDPHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := launcherFor(t, srv, time.Minute).waitForCDP(ctx); err != context.Canceled {
		t.Fatalf("waitForCDP() error = %v, want context.Canceled", err)
	}
}

func TestArgs(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: 9230, ProfileDir: "/tmp/p", Headless: true})
	joined := strings.Join(l.args(), " ")
	for _, want := range []string{"--remote-debugging-port=9230", "--user-data-dir=/tmp/p", "--headless=new", "--window-size=1920,1080"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if l.CDPURL() != "http://127.0.0.1:9230" {
		t.Errorf("CDPURL() = %q", l.CDPURL())
	}
}

func TestDetectBrowserExplicitMissing(t *testing.T) {
	if _, err := detectBrowser("/nonexistent/chrome"); err == nil {
		t.Fatal("detectBrowser() accepted a missing path")
	}
}
