// Package notify fans out document change events to event-stream
// subscribers, either inside one process or across processes through Redis.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const EventContentUpdated = "content.updated"

// Event announces that the stored document changed.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Fingerprint string    `json:"fingerprint"`
	Items       int       `json:"items"`
	At          time.Time `json:"at"`
}

// NewContentUpdated builds an event for a saved document.
func NewContentUpdated(fingerprint string, items int) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        EventContentUpdated,
		Fingerprint: fingerprint,
		Items:       items,
		At:          time.Now().UTC(),
	}
}

type Broker interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of events and a cleanup func. The channel
	// is closed after cleanup or when ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
	// Last returns the most recently published event, if any.
	Last(ctx context.Context) (Event, bool, error)
	Kind() string
	Close() error
}

const subscriberBuffer = 16

// LocalBroker delivers events to subscribers in the same process. Slow
// subscribers miss events rather than block publishers.
type LocalBroker struct {
	mu      sync.Mutex
	subs    map[string]chan Event
	last    Event
	hasLast bool
	closed  bool
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]chan Event)}
}

func (b *LocalBroker) Kind() string {
	return "local"
}

func (b *LocalBroker) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = event
	b.hasLast = true
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return ch, cleanup, nil
}

func (b *LocalBroker) Last(ctx context.Context) (Event, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast, nil
}

// Subscribers reports the number of open subscriptions.
func (b *LocalBroker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
