// Package notifications delivers post change events from writers to live feeds.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// EventType is the kind of row change carried by a ChangeEvent.
type EventType string

// Row changes a feed can observe.
const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// PostsTable is the table name carried on post change events.
const PostsTable = "posts"

var (
	// ErrFeedClosed is returned when subscribing to, or reported by, a feed that was shut down.
	ErrFeedClosed = errors.New("change feed closed")
	// ErrNotConnected is returned when the transport has no live connection.
	ErrNotConnected = errors.New("change feed not connected")
)

// ChangeEvent is a notification that a row owned by OwnerID changed.
type ChangeEvent struct {
	Type            EventType `json:"eventType"`
	Table           string    `json:"table"`
	OwnerID         string    `json:"owner_id"`
	PostID          string    `json:"post_id,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

// NewPostEvent builds a change event for the posts table.
func NewPostEvent(t EventType, ownerID, postID string) ChangeEvent {
	return ChangeEvent{
		Type:            t,
		Table:           PostsTable,
		OwnerID:         ownerID,
		PostID:          postID,
		CommitTimestamp: time.Now().UTC(),
	}
}

// Encode renders the event as the JSON payload sent over the wire.
func (e ChangeEvent) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal change event: %w", err)
	}
	return string(b), nil
}

// DecodeChangeEvent parses a wire payload.
func DecodeChangeEvent(payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal change event: %w", err)
	}
	if ev.OwnerID == "" {
		return ChangeEvent{}, errors.New("change event without owner")
	}
	return ev, nil
}

// Handlers receive the events and channel status of one subscription.
// OnStatus is called with a non-nil error when the channel drops and with
// nil when it is restored.
type Handlers struct {
	OnEvent  func(ChangeEvent)
	OnStatus func(err error)
}

func (h Handlers) event(log *slog.Logger, ev ChangeEvent) {
	if h.OnEvent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("PANIC in change event handler", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h.OnEvent(ev)
}

func (h Handlers) status(log *slog.Logger, err error) {
	if h.OnStatus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("PANIC in change status handler", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h.OnStatus(err)
}

// Subscription is an open live channel for one owner.
type Subscription interface {
	Unsubscribe() error
}

// ChangeFeed publishes change events and fans them out to per-owner subscribers.
type ChangeFeed interface {
	// Name identifies the transport in logs and metrics.
	Name() string
	Publish(ctx context.Context, ev ChangeEvent) error
	// Subscribe returns once the channel is established. ctx bounds the
	// handshake only; the subscription lives until Unsubscribe or Close.
	// Only events whose OwnerID equals ownerID are delivered.
	Subscribe(ctx context.Context, ownerID string, h Handlers) (Subscription, error)
	Close() error
}

// UserChannel returns the Redis channel name for an owner's post changes.
func UserChannel(ownerID string) string {
	return "posts:user:" + ownerID
}

const defaultQueueSize = 16

// mailbox serializes handler calls for one subscriber on its own goroutine
// so a slow consumer never blocks the transport.
type mailbox struct {
	h        Handlers
	log      *slog.Logger
	events   chan ChangeEvent
	status   chan error
	statusMu sync.Mutex
	done     chan struct{}
	once     sync.Once
}

func newMailbox(h Handlers, size int, log *slog.Logger) *mailbox {
	if size <= 0 {
		size = defaultQueueSize
	}
	m := &mailbox{
		h:      h,
		log:    log,
		events: make(chan ChangeEvent, size),
		status: make(chan error, 1),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// offer queues an event without blocking. A full queue already holds
// events that will cause the subscriber to re-read, so dropping is safe.
func (m *mailbox) offer(ev ChangeEvent) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	default:
		m.log.Warn("subscriber queue full, dropping change event",
			"owner_id", ev.OwnerID, "post_id", ev.PostID)
		return false
	}
}

// report queues a status change, replacing one not yet delivered.
func (m *mailbox) report(err error) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	select {
	case <-m.status:
	default:
	}
	select {
	case m.status <- err:
	default:
	}
}

func (m *mailbox) stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.h.event(m.log, ev)
		case err := <-m.status:
			m.h.status(m.log, err)
		}
	}
}
