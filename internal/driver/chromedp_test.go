package driver

import (
	"testing"
	"time"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

func TestNewAllocatorDefaults(t *testing.T) {
	a, err := NewAllocator(Options{})
	if err != nil {
		t.Fatalf("NewAllocator() error = %v", err)
	}
	if a.opts.Mode != ModeExec {
		t.Fatalf("mode = %q; want %q", a.opts.Mode, ModeExec)
	}
	if a.opts.Viewport != (protocol.Size{Width: 1920, Height: 1080}) {
		t.Fatalf("viewport = %+v", a.opts.Viewport)
	}
	if a.opts.ActionTimeout != 10*time.Second {
		t.Fatalf("action timeout = %v", a.opts.ActionTimeout)
	}
}

func TestNewAllocatorRejectsBadOptions(t *testing.T) {
	if _, err := NewAllocator(Options{Mode: "pooled"}); err == nil {
		t.Fatal("NewAllocator(pooled) = nil; want error")
	}
	if _, err := NewAllocator(Options{Mode: ModeRemote}); err == nil {
		t.Fatal("NewAllocator(remote without URL) = nil; want error")
	}
}

func TestChromeDriverNavigationNotifyDoesNotBlock(t *testing.T) {
	d := &chromeDriver{navigations: make(chan string, 1), crashed: make(chan struct{})}
	d.notifyNavigation("https://www.linkedin.com/login")
	d.notifyNavigation("https://www.linkedin.com/feed/")
	if got := <-d.Navigations(); got != "https://www.linkedin.com/login" {
		t.Fatalf("navigation = %q", got)
	}

	d.markCrashed()
	d.markCrashed()
	select {
	case <-d.Crashed():
	default:
		t.Fatal("Crashed() not closed after markCrashed")
	}
}
