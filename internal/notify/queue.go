// Package notify holds short-lived user-facing messages.
//
// Notifications are kept in insertion order and each one removes itself after
// a fixed time to live. They carry no reference to the download that caused
// them; a title is only ever part of the message text.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 5 * time.Second

// Type classifies a notification for display.
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeInfo    Type = "info"
)

// Notification is a single message.
type Notification struct {
	ID        string
	Message   string
	Type      Type
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Queue is an ordered set of self-expiring notifications. It is safe for
// concurrent use.
type Queue struct {
	ttl time.Duration

	mu       sync.Mutex
	items    []Notification
	timers   map[string]*time.Timer
	onChange func()
	closed   bool
}

// NewQueue creates a queue whose entries expire after ttl (DefaultTTL if zero).
func NewQueue(ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{
		ttl:    ttl,
		timers: make(map[string]*time.Timer),
	}
}

// OnChange registers a callback invoked after every add or removal.
func (q *Queue) OnChange(fn func()) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

// Add appends a notification and schedules its removal. Identical messages
// are not merged.
func (q *Queue) Add(message string, typ Type) Notification {
	now := time.Now()
	n := Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Type:      typ,
		CreatedAt: now,
		ExpiresAt: now.Add(q.ttl),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return n
	}
	next := make([]Notification, len(q.items), len(q.items)+1)
	copy(next, q.items)
	q.items = append(next, n)
	q.timers[n.ID] = time.AfterFunc(q.ttl, func() { q.remove(n.ID) })
	fn := q.onChange
	q.mu.Unlock()

	if fn != nil {
		fn()
	}
	return n
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	delete(q.timers, id)
	next := make([]Notification, 0, len(q.items))
	for _, n := range q.items {
		if n.ID != id {
			next = append(next, n)
		}
	}
	removed := len(next) != len(q.items)
	q.items = next
	fn := q.onChange
	q.mu.Unlock()

	if removed && fn != nil {
		fn()
	}
}

// List returns the current notifications in insertion order.
func (q *Queue) List() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Notification, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of visible notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops all pending expiry timers and rejects further additions.
// Visible notifications are kept.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}
