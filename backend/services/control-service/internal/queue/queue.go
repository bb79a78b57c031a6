package queue

import (
	"time"

	"prepaidgrid/backend/services/control-service/internal/models"
)

// Queue is a FIFO outbox. Delivery is at-most-once: a dequeued command is gone whether or
// not the device acted on it. Not safe for concurrent use.
type Queue struct {
	items []Command
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends a command at the tail.
func (q *Queue) Enqueue(relayID int64, action models.State, now time.Time) Command {
	cmd := Command{RelayID: relayID, Action: action, EnqueuedAt: now}
	q.items = append(q.items, cmd)
	return cmd
}

// Dequeue removes and returns the head. ok is false when the queue is empty.
func (q *Queue) Dequeue() (cmd Command, ok bool) {
	if len(q.items) == 0 {
		return Command{}, false
	}
	cmd = q.items[0]
	q.items[0] = Command{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return cmd, true
}

// Len reports the number of pending commands.
func (q *Queue) Len() int {
	return len(q.items)
}

// Pending lists the queued commands without consuming them.
func (q *Queue) Pending() []Command {
	out := make([]Command, len(q.items))
	copy(out, q.items)
	return out
}

// PurgeRelay drops every pending command for relayID and returns how many were removed.
func (q *Queue) PurgeRelay(relayID int64) int {
	kept := q.items[:0]
	removed := 0
	for _, cmd := range q.items {
		if cmd.RelayID == relayID {
			removed++
			continue
		}
		kept = append(kept, cmd)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = Command{}
	}
	q.items = kept
	return removed
}
