package match

import (
	"math/rand"
)

// Engine selects a partner for a requesting user from the waiting queue.
//
// Selection policy: if the requester has interests and at least one waiting
// candidate shares one, the earliest-enqueued sharing candidate wins (users
// who waited longest are favored). Otherwise the partner is picked uniformly
// at random among all candidates via a fair shuffle.
type Engine struct {
	queue *Queue
}

// NewEngine creates an Engine over the given queue.
func NewEngine(queue *Queue) *Engine {
	return &Engine{queue: queue}
}

// FindMatch returns a partner for u, or nil if none is available. The
// returned candidate has been removed from the queue; the requester itself
// is never enqueued by this call.
//
// The selected candidate is re-validated at removal time: if it was claimed
// or dropped between selection and removal, FindMatch reports no match and
// the caller may retry.
func (e *Engine) FindMatch(u *User) *User {
	candidates := e.candidatesFor(u)
	if len(candidates) == 0 {
		return nil
	}

	var selected *User
	if len(u.Interests) > 0 {
		// Scan in insertion order so ties go to the longest waiter.
		for _, c := range candidates {
			if u.SharesInterest(c) {
				selected = c
				break
			}
		}
	}

	if selected == nil {
		shuffled := make([]*User, len(candidates))
		copy(shuffled, candidates)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		selected = shuffled[0]
	}

	// Claim the candidate. A false return means it was dequeued concurrently
	// (matched by someone else or disconnected): treat as no match.
	if !e.queue.Remove(selected.ConnID) {
		return nil
	}
	return selected
}

// candidatesFor returns the waiting users of u's chat type, excluding u
// itself, in insertion order.
func (e *Engine) candidatesFor(u *User) []*User {
	snapshot := e.queue.Snapshot(u.ChatType)
	candidates := snapshot[:0]
	for _, c := range snapshot {
		if c.ConnID != u.ConnID {
			candidates = append(candidates, c)
		}
	}
	return candidates
}
