// Package match implements the waiting queues and the partner-selection
// algorithm. There is one ordered queue per chat type; a connection appears
// in at most one queue, at most once. All state is process-local.
package match

import (
	"sync"
	"time"
)

// User is the ephemeral per-connection matching state. It is created on the
// first partner request and discarded on disconnect. Queues and rooms hold
// references only; ownership stays with the connection handler.
type User struct {
	ConnID      string
	AuthID      string   // optional external identity id
	ChatType    string   // "text" or "video"
	Interests   []string // insertion order preserved
	Username    string   // filled in asynchronously after identity lookup
	DisplayName string
	AvatarURL   string
	EnqueuedAt  time.Time
}

// SharesInterest reports whether u and other have at least one interest tag
// in common.
func (u *User) SharesInterest(other *User) bool {
	if len(u.Interests) == 0 || len(other.Interests) == 0 {
		return false
	}
	tags := make(map[string]struct{}, len(u.Interests))
	for _, t := range u.Interests {
		tags[t] = struct{}{}
	}
	for _, t := range other.Interests {
		if _, ok := tags[t]; ok {
			return true
		}
	}
	return false
}

// Queue holds the per-chat-type waiting lists. All operations are
// goroutine-safe; compound select-then-remove sequences are made safe by
// Remove's atomic presence check.
type Queue struct {
	mu     sync.Mutex
	byType map[string][]*User
	index  map[string]string // connID -> chatType it is queued under
}

// NewQueue creates an empty waiting queue set.
func NewQueue() *Queue {
	return &Queue{
		byType: make(map[string][]*User),
		index:  make(map[string]string),
	}
}

// Enqueue appends the user to the tail of its chat-type queue. Any existing
// entry for the same connection — in either queue — is removed first, so a
// connection is never queued twice and a chat-type switch drops the old
// entry.
func (q *Queue) Enqueue(u *User) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(u.ConnID)

	u.EnqueuedAt = time.Now()
	q.byType[u.ChatType] = append(q.byType[u.ChatType], u)
	q.index[u.ConnID] = u.ChatType
}

// Remove deletes the connection's queue entry if present. It returns true
// only if an entry was actually removed, which lets callers re-validate a
// previously selected candidate and claim it in one atomic step.
func (q *Queue) Remove(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(connID)
}

func (q *Queue) removeLocked(connID string) bool {
	chatType, ok := q.index[connID]
	if !ok {
		return false
	}
	delete(q.index, connID)

	list := q.byType[chatType]
	for i, u := range list {
		if u.ConnID == connID {
			q.byType[chatType] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether the connection is currently queued.
func (q *Queue) Contains(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[connID]
	return ok
}

// Snapshot returns the queue for a chat type in insertion order. The slice
// is a copy and safe to iterate without the lock; entries may be claimed by
// other callers in the meantime, so selections must be re-validated through
// Remove.
func (q *Queue) Snapshot(chatType string) []*User {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.byType[chatType]
	out := make([]*User, len(list))
	copy(out, list)
	return out
}

// Len returns the number of users waiting for the given chat type.
func (q *Queue) Len(chatType string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byType[chatType])
}

// Sizes returns the current queue length per chat type. Chat types with no
// waiters are reported as zero.
func (q *Queue) Sizes() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	sizes := map[string]int{"text": 0, "video": 0}
	for chatType, list := range q.byType {
		sizes[chatType] = len(list)
	}
	return sizes
}
