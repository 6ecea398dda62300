// Package queue provides an in-memory priority buffer that decouples
// submitting work from performing it. Items drain against registered
// per-type handlers with a processing timeout and bounded retries; failures
// surface as notifications, never as errors to the enqueuer.
//
// Priority ordering applies to buffered items: the drain loop picks the
// highest-priority item pending at each pop, but an item already handed to
// its handler is not preempted by later, higher-priority arrivals.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Handler performs one work item. A non-nil error (or overrunning the
// processing timeout) counts as a failed attempt.
type Handler func(ctx context.Context, payload interface{}) error

// Config holds the queue's tunables.
type Config struct {
	MaxSize        int           // buffered item ceiling
	ProcessTimeout time.Duration // per-attempt handler deadline
	RetryAttempts  int           // total attempts before an item is dropped
	RetryDelay     time.Duration // pause between attempts
}

// DefaultConfig returns the defaults used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		MaxSize:        1000,
		ProcessTimeout: 30 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSize <= 0 {
		c.MaxSize = d.MaxSize
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = d.ProcessTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	return c
}

// Item is one unit of queued work.
type Item struct {
	ID         string
	Type       string
	Payload    interface{}
	Priority   int
	EnqueuedAt time.Time
	Attempts   int

	seq uint64 // arrival order, ties in Priority drain oldest first
}

// NotificationKind distinguishes drain-loop outcomes.
type NotificationKind string

const (
	NotifyProcessed NotificationKind = "processed"
	NotifyFailed    NotificationKind = "failed"
)

// Notification reports the terminal outcome of one item.
type Notification struct {
	Kind   NotificationKind
	ItemID string
	Type   string
	Err    error // last attempt's error for NotifyFailed
}

// Status is a point-in-time snapshot for backpressure observation.
type Status struct {
	Size       int
	Processing bool
	OldestItem time.Time // zero when the queue is empty
}

// Queue is a priority-ordered retry buffer. Enqueue returns immediately;
// a single drain goroutine works items in descending priority order.
type Queue struct {
	cfg Config

	mu         sync.Mutex
	handlers   map[string]Handler
	items      []*Item
	running    bool
	generation uint64 // bumped by Clear, invalidates in-flight results
	nextSeq    uint64

	notifications chan Notification
}

// New creates a queue. The drain loop starts lazily on first enqueue.
func New(cfg Config) *Queue {
	return &Queue{
		cfg:           cfg.withDefaults(),
		handlers:      make(map[string]Handler),
		notifications: make(chan Notification, 64),
	}
}

// RegisterHandler binds a handler to a work-item type. Registering the same
// type twice replaces the handler.
func (q *Queue) RegisterHandler(itemType string, h Handler) {
	q.mu.Lock()
	q.handlers[itemType] = h
	q.mu.Unlock()
}

// Notifications delivers processed/failed outcomes. The channel is buffered;
// when no one is draining it, outcomes are dropped rather than blocking the
// queue.
func (q *Queue) Notifications() <-chan Notification {
	return q.notifications
}

// Enqueue inserts an item and returns its id without waiting for
// processing. Unregistered types are rejected with ErrInvalidMessageType,
// a full buffer with ErrQueueFull.
func (q *Queue) Enqueue(itemType string, payload interface{}, priority int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.handlers[itemType]; !ok {
		return "", &Error{Code: CodeInvalidMessageType, Type: itemType}
	}
	if len(q.items) >= q.cfg.MaxSize {
		return "", &Error{Code: CodeQueueFull, Type: itemType}
	}

	q.nextSeq++
	item := &Item{
		ID:         newItemID(),
		Type:       itemType,
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		seq:        q.nextSeq,
	}
	q.items = append(q.items, item)
	q.sortLocked()

	if !q.running {
		q.running = true
		go q.drain()
	}
	return item.ID, nil
}

// Status reports current size, whether the drain loop is active, and the
// enqueue time of the oldest pending item.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{Size: len(q.items), Processing: q.running}
	for _, item := range q.items {
		if st.OldestItem.IsZero() || item.EnqueuedAt.Before(st.OldestItem) {
			st.OldestItem = item.EnqueuedAt
		}
	}
	return st
}

// Clear discards all pending items and resets drain state. In-flight
// handler invocations are not cancelled; their results are ignored.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.generation++
	q.mu.Unlock()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		handler := q.handlers[item.Type]
		gen := q.generation
		q.mu.Unlock()

		err := q.runHandler(handler, item.Payload)

		q.mu.Lock()
		if gen != q.generation {
			// queue was cleared mid-flight, the result no longer applies
			q.mu.Unlock()
			continue
		}
		if err == nil {
			q.removeLocked(item.ID)
			q.mu.Unlock()
			q.notify(Notification{Kind: NotifyProcessed, ItemID: item.ID, Type: item.Type})
			continue
		}

		item.Attempts++
		if item.Attempts >= q.cfg.RetryAttempts {
			q.removeLocked(item.ID)
			q.mu.Unlock()
			slog.Debug("queue: item dropped after retries",
				"id", item.ID, "type", item.Type, "attempts", item.Attempts, "error", err)
			q.notify(Notification{Kind: NotifyFailed, ItemID: item.ID, Type: item.Type, Err: err})
			continue
		}

		// send it to the back of its priority class and wait out the delay
		q.nextSeq++
		item.seq = q.nextSeq
		q.sortLocked()
		q.mu.Unlock()

		time.Sleep(q.cfg.RetryDelay)
	}
}

// runHandler races the handler against the processing timeout. A timed-out
// handler keeps running but its eventual result is discarded.
func (q *Queue) runHandler(h Handler, payload interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.ProcessTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h(ctx, payload)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &Error{Code: CodeProcessTimeout}
	}
}

func (q *Queue) notify(n Notification) {
	select {
	case q.notifications <- n:
	default:
		slog.Debug("queue: notification dropped, channel full", "id", n.ItemID)
	}
}

// sortLocked orders by descending priority, ties broken by arrival order.
func (q *Queue) sortLocked() {
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority > q.items[j].Priority
		}
		return q.items[i].seq < q.items[j].seq
	})
}

func (q *Queue) removeLocked(id string) {
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func newItemID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
