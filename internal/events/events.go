// Package events is the typed notification bus consumed by UI and indexing
// layers. Payload structs are part of the external contract: fields may be
// added but never renamed, since multiple unrelated consumers subscribe.
package events

import (
	"sync"
	"time"
)

// Type names one notification kind. AnyEvent is an explicit subscription
// variant, not a string wildcard, so payload handling stays type-checkable.
type Type string

const (
	AnyEvent Type = "*"

	DownloadCompleted Type = "download.completed"
	DownloadFailed    Type = "download.failed"
	ScanCompleted     Type = "scan.completed"
	RepairCompleted   Type = "repair.completed"
)

// Event is one typed notification.
type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   any
}

// DownloadPayload accompanies DownloadCompleted and DownloadFailed.
type DownloadPayload struct {
	RecordingID string
	DeviceName  string
	LocalPath   string
	Size        int64
	Error       string
}

// ScanPayload accompanies ScanCompleted.
type ScanPayload struct {
	IssueCount int
	ByType     map[string]int
}

// RepairPayload accompanies RepairCompleted.
type RepairPayload struct {
	IssueID string
	OK      bool
	Action  string
	Error   string
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Bus is a small in-process publish/subscribe hub. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Type]map[int]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Type]map[int]Handler)}
}

// Subscribe registers a handler for one event type. The returned function
// removes the subscription.
func (b *Bus) Subscribe(t Type, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[t] == nil {
		b.subs[t] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[t][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[t], id)
	}
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	return b.Subscribe(AnyEvent, h)
}

// Publish delivers the event to type subscribers and AnyEvent subscribers.
// A zero Timestamp is filled with the current time.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Type])+len(b.subs[AnyEvent]))
	for _, h := range b.subs[e.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.subs[AnyEvent] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
