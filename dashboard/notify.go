package dashboard

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type NotificationLevel string

const (
	LevelInfo  NotificationLevel = "info"
	LevelError NotificationLevel = "error"
)

// Notification is a user-visible, non-blocking message such as a failed
// upstream push.
type Notification struct {
	ID        string            `json:"id"`
	Level     NotificationLevel `json:"level"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"createdAt"`
}

const defaultNotificationCapacity = 100

// Notifications is a bounded queue; when full the oldest message is dropped.
type Notifications struct {
	mu    sync.Mutex
	items []Notification
	cap   int
	now   func() time.Time
}

func NewNotifications(capacity int, now func() time.Time) *Notifications {
	if capacity <= 0 {
		capacity = defaultNotificationCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Notifications{cap: capacity, now: now}
}

func (n *Notifications) Push(level NotificationLevel, msg string) Notification {
	item := Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   msg,
		CreatedAt: n.now(),
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.items) == n.cap {
		n.items = n.items[1:]
	}
	n.items = append(n.items, item)
	return item
}

// Drain returns every pending notification, oldest first, and empties the
// queue.
func (n *Notifications) Drain() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.items
	n.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

// Peek returns the pending notifications without consuming them.
func (n *Notifications) Peek() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification{}, n.items...)
}
