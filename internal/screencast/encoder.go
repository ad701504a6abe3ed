package screencast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

const FormatJPEG = "jpeg"

// Source is the part of a driver the encoder samples.
type Source interface {
	CaptureFrame(ctx context.Context, quality int) ([]byte, error)
}

// Options controls sampling cadence and quality.
type Options struct {
	Interval    time.Duration
	Quality     int
	MaxFailures int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 200 * time.Millisecond
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 70
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = 3
	}
	return o
}

// Info is a point-in-time view of an encoder.
type Info struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Format     string     `json:"format"`
	IntervalMS int64      `json:"interval_ms"`
	Quality    int        `json:"quality"`
	FrameCount int64      `json:"frame_count"`
	Failures   int64      `json:"failures"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
}

// Encoder samples a Source on a fixed cadence, independent of input activity,
// and hands each frame to sink. The sink is only called from the encoder's own
// goroutine and never after Stop returns.
type Encoder struct {
	id   string
	src  Source
	opts Options
	sink func(Frame)
	// onFatal runs on its own goroutine so it may call Stop.
	onFatal func(error)

	frameCount atomic.Int64
	failures   atomic.Int64

	mu        sync.Mutex // protects: status, stoppedAt
	status    string     // "active" | "stopped"
	startedAt time.Time
	stoppedAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start launches the sampling loop.
func Start(parent context.Context, id string, src Source, opts Options, sink func(Frame), onFatal func(error)) *Encoder {
	ctx, cancel := context.WithCancel(parent)
	e := &Encoder{
		id:        id,
		src:       src,
		opts:      opts.withDefaults(),
		sink:      sink,
		onFatal:   onFatal,
		status:    "active",
		startedAt: time.Now(),
		cancel:    cancel,
	}
	e.wg.Add(1)
	go e.loop(ctx)
	slog.Debug("screencast started", "id", id, "interval_ms", e.opts.Interval.Milliseconds(), "quality", e.opts.Quality)
	return e
}

func (e *Encoder) loop(ctx context.Context) {
	defer e.wg.Done()
	defer e.markStopped()

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	consecutive := 0
	for {
		if err := e.captureOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutive++
			e.failures.Add(1)
			slog.Warn("screencast capture failed", "id", e.id, "consecutive", consecutive, "error", err)
			if protocol.CodeOf(err) == protocol.CodeDriverCrashed || consecutive >= e.opts.MaxFailures {
				e.fatal(ctx, err)
				return
			}
		} else {
			consecutive = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Encoder) captureOnce(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, captureTimeout(e.opts.Interval))
	defer cancel()
	data, err := e.src.CaptureFrame(cctx, e.opts.Quality)
	if err != nil {
		return err
	}
	// A close that raced with the capture wins; the frame is discarded.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	n := e.frameCount.Add(1)
	e.sink(Frame{Seq: n, Data: data, Format: FormatJPEG, CapturedAt: time.Now()})
	return nil
}

func (e *Encoder) fatal(ctx context.Context, err error) {
	if e.onFatal == nil || ctx.Err() != nil {
		return
	}
	if protocol.CodeOf(err) == "" {
		err = protocol.NewError(protocol.CodeDriverCrashed, "screencast capture failed repeatedly", err)
	}
	go e.onFatal(err)
}

func captureTimeout(interval time.Duration) time.Duration {
	t := 5 * interval
	if t < 2*time.Second {
		t = 2 * time.Second
	}
	return t
}

func (e *Encoder) markStopped() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == "active" {
		e.status = "stopped"
		e.stoppedAt = time.Now()
	}
}

// Stop cancels sampling and waits for the loop to exit.
func (e *Encoder) Stop() Info {
	e.cancel()
	e.wg.Wait()
	return e.Info()
}

// Info returns a thread-safe snapshot of the encoder state.
func (e *Encoder) Info() Info {
	e.mu.Lock()
	status, stopped := e.status, e.stoppedAt
	e.mu.Unlock()
	out := Info{
		ID:         e.id,
		Status:     status,
		Format:     FormatJPEG,
		IntervalMS: e.opts.Interval.Milliseconds(),
		Quality:    e.opts.Quality,
		FrameCount: e.frameCount.Load(),
		Failures:   e.failures.Load(),
		StartedAt:  e.startedAt,
	}
	if !stopped.IsZero() {
		t := stopped
		out.StoppedAt = &t
	}
	return out
}
