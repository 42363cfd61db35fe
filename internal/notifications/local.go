package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"postsync/internal/observability"
)

const maxLocalSubscribers = 10000

// LocalFeed is an in-process ChangeFeed that maps ownerID -> subscribers.
// It only reaches subscribers in the same process.
type LocalFeed struct {
	mu        sync.RWMutex
	subs      map[string]map[*localSubscription]struct{}
	total     int
	closed    bool
	queueSize int
	log       *slog.Logger
}

var _ ChangeFeed = (*LocalFeed)(nil)

// NewLocalFeed creates an empty in-process feed. queueSize bounds the
// per-subscriber backlog; zero picks a default.
func NewLocalFeed(queueSize int) *LocalFeed {
	return &LocalFeed{
		subs:      make(map[string]map[*localSubscription]struct{}),
		queueSize: queueSize,
		log:       observability.Logger.With("transport", "local"),
	}
}

// Name implements ChangeFeed.
func (f *LocalFeed) Name() string { return "local" }

// Publish fans the event out to the owner's subscribers without blocking.
func (f *LocalFeed) Publish(_ context.Context, ev ChangeEvent) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrFeedClosed
	}
	for s := range f.subs[ev.OwnerID] {
		s.box.offer(ev)
	}
	return nil
}

// Subscribe registers h for the owner's events.
func (f *LocalFeed) Subscribe(ctx context.Context, ownerID string, h Handlers) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrFeedClosed
	}
	if f.total >= maxLocalSubscribers {
		return nil, errors.New("subscriber limit reached")
	}

	m, ok := f.subs[ownerID]
	if !ok {
		m = make(map[*localSubscription]struct{})
		f.subs[ownerID] = m
	}
	s := &localSubscription{
		feed:    f,
		ownerID: ownerID,
		box:     newMailbox(h, f.queueSize, f.log.With("owner_id", ownerID)),
	}
	m[s] = struct{}{}
	f.total++
	return s, nil
}

// Subscribers returns the number of open subscriptions for ownerID.
func (f *LocalFeed) Subscribers(ownerID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[ownerID])
}

// Close reports the channel as dropped to every subscriber and rejects new ones.
func (f *LocalFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := f.subs
	f.subs = make(map[string]map[*localSubscription]struct{})
	f.total = 0
	f.mu.Unlock()

	for _, m := range subs {
		for s := range m {
			s.box.report(ErrFeedClosed)
		}
	}
	return nil
}

func (f *LocalFeed) remove(s *localSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.subs[s.ownerID]; ok {
		if _, exists := m[s]; exists {
			delete(m, s)
			f.total--
		}
		if len(m) == 0 {
			delete(f.subs, s.ownerID)
		}
	}
}

type localSubscription struct {
	feed    *LocalFeed
	ownerID string
	box     *mailbox
}

func (s *localSubscription) Unsubscribe() error {
	s.feed.remove(s)
	s.box.stop()
	return nil
}
