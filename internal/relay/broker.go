package relay

import (
	"encoding/json"
	"sync"
)

const (
	subscriberBufSize = 256
	// historySize bounds the backlog replayed to clients that reconnect
	// with Last-Event-ID.
	historySize = 128
)

// Event is one SSE message. User scopes it to a single user's stream.
type Event struct {
	ID      int64
	Feed    string
	User    string
	Payload string
}

// Broker fans events out to SSE subscribers and keeps a short backlog so a
// reconnecting client can catch up on transitions it missed.
type Broker struct {
	mu      sync.Mutex
	subs    map[int64]chan Event
	history []Event
	lastSub int64
	lastEvt int64
	dropped int64
	closed  bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int64]chan Event)}
}

// Subscribe registers a client. Backlogged events with an ID greater than
// after are queued first; pass 0 for live events only. Slow consumers lose
// events instead of stalling publishers.
func (b *Broker) Subscribe(after int64) (int64, <-chan Event) {
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSub++
	if b.closed {
		close(ch)
		return b.lastSub, ch
	}
	if after > 0 {
		for _, evt := range b.history {
			if evt.ID > after {
				ch <- evt
			}
		}
	}
	b.subs[b.lastSub] = ch
	return b.lastSub, ch
}

func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish assigns the next event ID and delivers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.lastEvt++
	evt.ID = b.lastEvt
	if len(b.history) == historySize {
		copy(b.history, b.history[1:])
		b.history = b.history[:historySize-1]
	}
	b.history = append(b.history, evt)
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped++
		}
	}
}

// PublishJSON marshals v as the payload of a feed event for user.
func (b *Broker) PublishJSON(feed, user string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Publish(Event{Feed: feed, User: user, Payload: string(data)})
	return nil
}

// Close ends every stream. Later publishes are discarded.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Broker) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
