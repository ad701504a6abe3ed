package screencast

import (
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one self-contained encoded still image.
type Frame struct {
	Seq        int64
	Data       []byte
	Format     string
	CapturedAt time.Time
}

// Latest is a bounded queue of size one where the newest frame wins.
// Producers never block; a consumer that falls behind only ever sees the
// most recent frame.
type Latest struct {
	ch      chan Frame
	mu      sync.Mutex
	last    Frame
	hasLast bool
	dropped atomic.Int64
}

func NewLatest() *Latest {
	return &Latest{ch: make(chan Frame, 1)}
}

// Put replaces any undelivered frame with f.
func (l *Latest) Put(f Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
		l.dropped.Add(1)
	default:
	}
	l.ch <- f
	l.last = f
	l.hasLast = true
}

// C delivers frames to the single consumer.
func (l *Latest) C() <-chan Frame { return l.ch }

// Last returns the most recently put frame, delivered or not.
func (l *Latest) Last() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.hasLast
}

// Dropped counts frames replaced before delivery.
func (l *Latest) Dropped() int64 { return l.dropped.Load() }
