// Package audit appends session lifecycle records to date-organized JSONL
// files. Records carry ids, states and reasons; never keystrokes or cookies.
package audit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/RemoteLoginCore/internal/session"
)

const fileName = "sessions.jsonl"

var (
	ErrClosed     = errors.New("audit log is closed")
	ErrBufferFull = errors.New("audit buffer full")
)

// Record is one audit line.
type Record struct {
	Event     string        `json:"event"`
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	From      session.State `json:"from,omitempty"`
	To        session.State `json:"to"`
	Reason    string        `json:"reason,omitempty"`
	At        time.Time     `json:"at"`
}

// Options controls file layout and rotation.
type Options struct {
	Dir        string
	BufferSize int
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// now is overridable in tests.
	now func() time.Time
}

// Log writes records asynchronously to Dir/<date>/sessions.jsonl, rotating
// by UTC date and by size.
type Log struct {
	opts    Options
	writeCh chan Record
	wg      sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	mu          sync.Mutex // protects: currentDate, logger
	currentDate string
	logger      *lumberjack.Logger
}

func Open(opts Options) (*Log, error) {
	if opts.Dir == "" {
		return nil, errors.New("audit: dir is required")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 25
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 30
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = 90
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	l := &Log{opts: opts, writeCh: make(chan Record, opts.BufferSize)}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Write queues a record without blocking.
func (l *Log) Write(r Record) error {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.writeCh <- r:
		return nil
	default:
		slog.Warn("audit buffer full, dropping record", "event", r.Event, "session_id", r.SessionID)
		return ErrBufferFull
	}
}

// Observer records every session transition.
func (l *Log) Observer() session.Observer {
	return func(t session.Transition) {
		_ = l.Write(Record{
			Event:     "session.transition",
			UserID:    t.UserID,
			SessionID: t.SessionID,
			From:      t.From,
			To:        t.To,
			Reason:    t.Reason,
			At:        t.At.UTC(),
		})
	}
}

// Close flushes queued records and closes the current file.
func (l *Log) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.writeCh)
	l.closeMu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logger != nil {
		return l.logger.Close()
	}
	return nil
}

func (l *Log) writeLoop() {
	defer l.wg.Done()
	for r := range l.writeCh {
		l.writeRecord(r)
	}
}

func (l *Log) writeRecord(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		slog.Error("marshal audit record", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	date := l.opts.now().UTC().Format("2006-01-02")
	if date != l.currentDate || l.logger == nil {
		if err := l.rotateForDate(date); err != nil {
			slog.Error("open audit file", "error", err, "date", date)
			return
		}
	}
	if _, err := l.logger.Write(append(data, '\n')); err != nil {
		slog.Error("write audit record", "error", err)
	}
}

func (l *Log) rotateForDate(date string) error {
	if l.logger != nil {
		_ = l.logger.Close()
		l.logger = nil
	}
	dir := filepath.Join(l.opts.Dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	l.logger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    l.opts.MaxSizeMB,
		MaxBackups: l.opts.MaxBackups,
		MaxAge:     l.opts.MaxAgeDays,
		Compress:   true,
		LocalTime:  false,
	}
	l.currentDate = date
	slog.Info("opened audit file", "file", l.logger.Filename)
	return nil
}
