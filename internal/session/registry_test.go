package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/RemoteLoginCore/internal/driver"
	"github.com/dgnsrekt/RemoteLoginCore/internal/driver/drivertest"
	"github.com/dgnsrekt/RemoteLoginCore/internal/login"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

func TestAttachRequiresUser(t *testing.T) {
	r := newTestRegistry(t, testOptions())
	if _, _, err := r.Attach("", "", newRecorder()); protocol.CodeOf(err) != protocol.CodeValidation {
		t.Fatalf("Attach(\"\") error = %v; want VALIDATION", err)
	}
}

func TestConnectedCarriesToken(t *testing.T) {
	r := newTestRegistry(t, testOptions())
	rec := newRecorder()
	s, resumed, err := r.Attach("u1", "", rec)
	if err != nil || resumed {
		t.Fatalf("Attach() = resumed %v, err %v", resumed, err)
	}
	hello := rec.waitFor(t, protocol.TypeConnected).Payload.(protocol.Connected)
	if hello.SessionID != s.ID() || hello.Token == "" || hello.Token != s.Token() {
		t.Fatalf("connected = %+v", hello)
	}
	if hello.Viewport != viewport1080 || hello.Canvas.Width != 1280 {
		t.Fatalf("connected sizes = %+v / %+v", hello.Canvas, hello.Viewport)
	}
	if hello.State != string(Idle) {
		t.Fatalf("state = %q", hello.State)
	}
}

func TestReplacePolicyKeepsOneSessionPerUser(t *testing.T) {
	f1 := drivertest.New(viewport1080)
	f2 := drivertest.New(viewport1080)
	r := newTestRegistry(t, testOptions(), f1, f2)
	first, rec1 := startedSession(t, r)

	rec2 := newRecorder()
	second, resumed, err := r.Attach("u1", "", rec2)
	if err != nil || resumed {
		t.Fatalf("second Attach() = resumed %v, err %v", resumed, err)
	}
	if second == first {
		t.Fatal("replace policy reused the old session")
	}
	got := rec1.waitFor(t, protocol.TypeSessionClosed).Payload.(protocol.SessionClosed)
	if got.Reason != ReasonReplaced {
		t.Fatalf("old session reason = %q; want replaced", got.Reason)
	}
	if f1.ReleaseCount() != 1 {
		t.Fatalf("old driver ReleaseCount() = %d; want 1", f1.ReleaseCount())
	}
	if r.Len() != 1 || r.Get("u1") != second {
		t.Fatalf("registry = %d sessions; want only the replacement", r.Len())
	}
	if f2.ReleaseCount() != 0 {
		t.Fatal("replacement allocated and released a driver before startLogin")
	}
}

func TestRejectPolicy(t *testing.T) {
	opts := testOptions()
	opts.Policy = PolicyReject
	r := newTestRegistry(t, opts)
	first, _, _ := r.Attach("u1", "", newRecorder())

	_, _, err := r.Attach("u1", "", newRecorder())
	if protocol.CodeOf(err) != protocol.CodeSessionConflict {
		t.Fatalf("second Attach() error = %v; want SESSION_CONFLICT", err)
	}
	if r.Get("u1") != first || first.State() == Closed {
		t.Fatal("reject policy disturbed the existing session")
	}
}

func TestResumeWithToken(t *testing.T) {
	opts := testOptions()
	opts.Policy = PolicyReject
	f := drivertest.New(viewport1080)
	r := newTestRegistry(t, opts, f)
	s, rec1 := startedSession(t, r)

	r.Detach(s, rec1)
	if s.Snapshot().Connected {
		t.Fatal("session still reports a client after detach")
	}

	rec2 := newRecorder()
	got, resumed, err := r.Attach("u1", s.Token(), rec2)
	if err != nil || !resumed || got != s {
		t.Fatalf("Attach(token) = %v, resumed %v, err %v", got, resumed, err)
	}
	hello := rec2.waitFor(t, protocol.TypeConnected).Payload.(protocol.Connected)
	if !hello.Resumed || hello.State != string(AwaitingLogin) {
		t.Fatalf("connected = %+v", hello)
	}

	// Frames now flow to the new socket and the grace timer is disarmed.
	waitUntil(t, "frames on resumed socket", func() bool { return rec2.frameCount() > 0 })
	if f.ReleaseCount() != 0 {
		t.Fatal("driver released across resume")
	}
}

func TestResumeEvictsLiveConnection(t *testing.T) {
	f := drivertest.New(viewport1080)
	r := newTestRegistry(t, testOptions(), f)
	s, rec1 := startedSession(t, r)

	rec2 := newRecorder()
	if _, resumed, _ := r.Attach("u1", s.Token(), rec2); !resumed {
		t.Fatal("Attach(token) did not resume")
	}
	e := rec1.waitFor(t, protocol.TypeError).Payload.(protocol.Error)
	if e.Code != protocol.CodeSessionConflict || !rec1.isClosed() {
		t.Fatalf("evicted client got %+v closed=%v", e, rec1.isClosed())
	}

	s.Handle(rec1, protocol.Inbound{Type: protocol.TypeCloseSession})
	if s.State() == Closed {
		t.Fatal("evicted connection was able to close the session")
	}
}

func TestWrongTokenFollowsPolicy(t *testing.T) {
	r := newTestRegistry(t, testOptions())
	first, _, _ := r.Attach("u1", "", newRecorder())
	second, resumed, err := r.Attach("u1", "not-the-token", newRecorder())
	if err != nil || resumed || second == first {
		t.Fatalf("Attach(bad token) = resumed %v, err %v", resumed, err)
	}
	<-first.Done()
}

func TestGraceWindowExpiryCloses(t *testing.T) {
	opts := testOptions()
	opts.GraceWindow = 20 * time.Millisecond
	f := drivertest.New(viewport1080)
	r := newTestRegistry(t, opts, f)
	s, rec := startedSession(t, r)

	r.Detach(s, rec)
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session outlived its grace window")
	}
	if s.Snapshot().CloseReason != ReasonDisconnected {
		t.Fatalf("reason = %q", s.Snapshot().CloseReason)
	}
	if f.ReleaseCount() != 1 || r.Len() != 0 {
		t.Fatalf("release=%d len=%d", f.ReleaseCount(), r.Len())
	}
}

func TestDetachWithoutGraceClosesImmediately(t *testing.T) {
	opts := testOptions()
	opts.GraceWindow = 0
	r := newTestRegistry(t, opts)
	rec := newRecorder()
	s, _, _ := r.Attach("u1", "", rec)
	r.Detach(s, rec)
	if s.State() != Closed {
		t.Fatalf("state = %s; want closed", s.State())
	}
}

func TestReapClosesIdleSessions(t *testing.T) {
	r := newTestRegistry(t, testOptions())
	s, _, _ := r.Attach("u1", "", newRecorder())
	other, _, _ := r.Attach("u2", "", newRecorder())

	if n := r.Reap(time.Now()); n != 0 {
		t.Fatalf("Reap(now) = %d; want 0", n)
	}
	if n := r.Reap(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Fatalf("Reap(later) = %d; want 2", n)
	}
	if s.Snapshot().CloseReason != ReasonIdleTimeout || other.State() != Closed {
		t.Fatal("idle sessions not closed")
	}
}

func TestCloseUserAndList(t *testing.T) {
	r := newTestRegistry(t, testOptions())
	r.Attach("bob", "", newRecorder())
	r.Attach("alice", "", newRecorder())

	list := r.List()
	if len(list) != 2 || list[0].UserID != "alice" || list[1].UserID != "bob" {
		t.Fatalf("List() = %+v", list)
	}
	if err := r.CloseUser("alice", ReasonAdmin); err != nil {
		t.Fatalf("CloseUser() error = %v", err)
	}
	if err := r.CloseUser("alice", ReasonAdmin); protocol.CodeOf(err) != protocol.CodeSessionNotFound {
		t.Fatalf("CloseUser(twice) error = %v; want SESSION_NOT_FOUND", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", r.Len())
	}
}

func TestTransitionsObservedInOrder(t *testing.T) {
	f := drivertest.New(viewport1080)
	r := newTestRegistry(t, testOptions(), f)
	var got []State
	done := make(chan struct{})
	r.Observe(func(tr Transition) {
		got = append(got, tr.To)
		if tr.To == Closed {
			close(done)
		}
	})
	s, rec := startedSession(t, r)
	s.Handle(rec, protocol.Inbound{Type: protocol.TypeScroll, Scroll: &protocol.Scroll{DeltaY: -40}})
	s.Handle(rec, protocol.Inbound{Type: protocol.TypeCloseSession})
	<-done

	want := []State{Idle, AwaitingLogin, LoginInProgress, Closed}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v; want %v", got, want)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	if ParsePolicy("reject") != PolicyReject || ParsePolicy("replace") != PolicyReplace || ParsePolicy("bogus") != PolicyReplace {
		t.Fatal("ParsePolicy mapping wrong")
	}
}

func TestConcurrentReconnectsKeepOneDriver(t *testing.T) {
	var mu sync.Mutex
	var allocated []*drivertest.Fake
	factory := driver.FactoryFunc(func(ctx context.Context) (driver.Driver, error) {
		f := drivertest.New(viewport1080)
		mu.Lock()
		allocated = append(allocated, f)
		mu.Unlock()
		return f, nil
	})
	live := func() int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, f := range allocated {
			if f.ReleaseCount() == 0 {
				n++
			}
		}
		return n
	}

	r := NewRegistry(factory, login.NewDetector(login.DefaultRules()), testOptions())
	t.Cleanup(func() { r.Shutdown(ReasonShutdown) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := newRecorder()
			s, _, err := r.Attach("u1", "", rec)
			if err != nil {
				t.Errorf("Attach() error = %v", err)
				return
			}
			s.Handle(rec, protocol.Inbound{Type: protocol.TypeStartLogin, StartLogin: &protocol.StartLogin{}})
		}()
	}
	wg.Wait()

	if r.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", r.Len())
	}
	waitUntil(t, "at most one live driver", func() bool { return live() <= 1 })
	time.Sleep(30 * time.Millisecond)
	if n := live(); n > 1 {
		t.Fatalf("%d live drivers for one user", n)
	}

	r.Shutdown(ReasonShutdown)
	waitUntil(t, "all drivers released", func() bool { return live() == 0 })
}
