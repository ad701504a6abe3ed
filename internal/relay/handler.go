package relay

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	keepAliveInterval = 25 * time.Second
	// retryMillis tells EventSource clients how long to wait before reconnecting.
	retryMillis = 3000
)

// filter narrows a stream to some feeds and optionally one user.
type filter struct {
	feeds map[string]bool
	user  string
}

func parseFilter(r *http.Request) filter {
	q := r.URL.Query()
	f := filter{user: q.Get("user_id")}
	if raw := q.Get("feeds"); raw != "" {
		f.feeds = make(map[string]bool)
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				f.feeds[name] = true
			}
		}
	}
	return f
}

func (f filter) matches(evt Event) bool {
	if f.feeds != nil && !f.feeds[evt.Feed] {
		return false
	}
	return f.user == "" || f.user == evt.User
}

// SSEHandler streams broker events as server-sent events. Query parameters
// feeds=a,b and user_id=u narrow the stream. A Last-Event-ID header replays
// the broker backlog past that id.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		f := parseFilter(r)

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
		flusher.Flush()

		// Browsers resend the last seen id on reconnect.
		after, _ := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64)
		id, ch := broker.Subscribe(after)
		defer broker.Unsubscribe(id)

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !f.matches(evt) {
					continue
				}
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Feed, evt.Payload)
				flusher.Flush()
			}
		}
	}
}
