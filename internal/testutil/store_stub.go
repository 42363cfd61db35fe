package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"postsync/internal/models"
	"postsync/internal/notifications"
)

// ErrStubClosed is returned by pending stub calls once the stub is closed.
var ErrStubClosed = errors.New("store stub closed")

// QueryCall is a Query waiting for the test to answer it.
type QueryCall struct {
	Ctx     context.Context
	OwnerID string
	reply   chan queryReply
}

type queryReply struct {
	posts []models.Post
	err   error
}

// Respond resolves the call. The reply is delivered even if the caller's
// context was cancelled, like a response already on the wire.
func (c *QueryCall) Respond(posts []models.Post, err error) {
	c.reply <- queryReply{posts: posts, err: err}
}

// InsertCall is an Insert waiting for the test to answer it.
type InsertCall struct {
	Ctx   context.Context
	Input models.NewPost
	reply chan insertReply
}

type insertReply struct {
	post *models.Post
	err  error
}

// Respond resolves the call.
func (c *InsertCall) Respond(post *models.Post, err error) {
	c.reply <- insertReply{post: post, err: err}
}

// StoreStub is a gated store: every Query and Insert blocks until the test
// picks it up from Queries/Inserts and responds.
type StoreStub struct {
	Queries chan *QueryCall
	Inserts chan *InsertCall

	mu           sync.Mutex
	subscribeErr error
	subscribers  map[*stubSubscription]struct{}
	subscribes   int
	closed       chan struct{}
	closeOnce    sync.Once
}

// NewStoreStub creates a gated store stub.
func NewStoreStub() *StoreStub {
	return &StoreStub{
		Queries:     make(chan *QueryCall),
		Inserts:     make(chan *InsertCall),
		subscribers: make(map[*stubSubscription]struct{}),
		closed:      make(chan struct{}),
	}
}

// Close releases every pending call with ErrStubClosed.
func (s *StoreStub) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Query implements the store query.
func (s *StoreStub) Query(ctx context.Context, ownerID string) ([]models.Post, error) {
	call := &QueryCall{Ctx: ctx, OwnerID: ownerID, reply: make(chan queryReply, 1)}
	select {
	case s.Queries <- call:
	case <-s.closed:
		return nil, ErrStubClosed
	}
	select {
	case r := <-call.reply:
		return r.posts, r.err
	case <-s.closed:
		return nil, ErrStubClosed
	}
}

// Insert implements the store insert.
func (s *StoreStub) Insert(ctx context.Context, in models.NewPost) (*models.Post, error) {
	call := &InsertCall{Ctx: ctx, Input: in, reply: make(chan insertReply, 1)}
	select {
	case s.Inserts <- call:
	case <-s.closed:
		return nil, ErrStubClosed
	}
	select {
	case r := <-call.reply:
		return r.post, r.err
	case <-s.closed:
		return nil, ErrStubClosed
	}
}

// FailSubscribe makes subsequent Subscribe calls fail with err.
func (s *StoreStub) FailSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErr = err
}

// Subscribe registers handlers that Emit and SetStatus drive.
func (s *StoreStub) Subscribe(_ context.Context, _ string, h notifications.Handlers) (notifications.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	if s.subscribeErr != nil {
		return nil, models.NewSubscriptionError(s.subscribeErr)
	}
	sub := &stubSubscription{stub: s, h: h}
	s.subscribers[sub] = struct{}{}
	return sub, nil
}

// Subscribes returns how many times Subscribe was called.
func (s *StoreStub) Subscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

// ActiveSubscriptions returns the number of subscriptions not yet cancelled.
func (s *StoreStub) ActiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Emit delivers ev synchronously to every open subscription.
func (s *StoreStub) Emit(ev notifications.ChangeEvent) {
	for _, h := range s.handlers() {
		if h.OnEvent != nil {
			h.OnEvent(ev)
		}
	}
}

// SetStatus reports a channel drop (non-nil) or restore (nil) to every subscription.
func (s *StoreStub) SetStatus(err error) {
	for _, h := range s.handlers() {
		if h.OnStatus != nil {
			h.OnStatus(err)
		}
	}
}

func (s *StoreStub) handlers() []notifications.Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := make([]notifications.Handlers, 0, len(s.subscribers))
	for sub := range s.subscribers {
		hs = append(hs, sub.h)
	}
	return hs
}

type stubSubscription struct {
	stub *StoreStub
	h    notifications.Handlers
}

func (s *stubSubscription) Unsubscribe() error {
	s.stub.mu.Lock()
	defer s.stub.mu.Unlock()
	delete(s.stub.subscribers, s)
	return nil
}

// Post builds a post owned by ownerID created at the given offset from a fixed base time.
func Post(id, ownerID, content string, offset time.Duration) models.Post {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.Post{
		ID:        id,
		UserID:    ownerID,
		Content:   content,
		CreatedAt: base.Add(offset),
		UpdatedAt: base.Add(offset),
	}
}
