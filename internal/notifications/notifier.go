package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"postsync/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Notifier is a ChangeFeed over Redis pub/sub, one channel per owner.
type Notifier struct {
	rdb *redis.Client
	log *slog.Logger

	mu   sync.Mutex
	subs map[*redisSubscription]struct{}
}

var _ ChangeFeed = (*Notifier)(nil)

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client publishes nothing and refuses subscriptions.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{
		rdb:  rdb,
		log:  observability.Logger.With("transport", "redis"),
		subs: make(map[*redisSubscription]struct{}),
	}
}

// Name implements ChangeFeed.
func (n *Notifier) Name() string { return "redis" }

// Publish sends the event to its owner's channel.
func (n *Notifier) Publish(ctx context.Context, ev ChangeEvent) error {
	if n.rdb == nil {
		return nil
	}
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, UserChannel(ev.OwnerID), payload).Err()
}

// Subscribe opens the owner's channel and waits for the server to confirm it.
func (n *Notifier) Subscribe(ctx context.Context, ownerID string, h Handlers) (Subscription, error) {
	if n.rdb == nil {
		return nil, ErrNotConnected
	}

	pubsub := n.rdb.Subscribe(ctx, UserChannel(ownerID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &redisSubscription{
		notifier: n,
		pubsub:   pubsub,
		cancel:   cancel,
		ownerID:  ownerID,
	}

	n.mu.Lock()
	n.subs[s] = struct{}{}
	n.mu.Unlock()

	go s.loop(subCtx, h)
	return s, nil
}

// Close ends every open subscription. The Redis client is owned by the caller.
func (n *Notifier) Close() error {
	n.mu.Lock()
	subs := make([]*redisSubscription, 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) forget(s *redisSubscription) {
	n.mu.Lock()
	delete(n.subs, s)
	n.mu.Unlock()
}

type redisSubscription struct {
	notifier *Notifier
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	ownerID  string
	closed   atomic.Bool
	once     sync.Once
}

// loop delivers messages until the subscription is closed. go-redis
// resubscribes after a reconnect and confirms with a new subscription
// message, which is reported as a restored channel.
func (s *redisSubscription) loop(ctx context.Context, h Handlers) {
	log := s.notifier.log.With("owner_id", s.ownerID)
	defer s.shutdown()

	ch := s.pubsub.ChannelWithSubscriptions()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				if !s.closed.Load() {
					log.Warn("redis subscription channel closed")
					h.status(log, ErrFeedClosed)
				}
				return
			}
			switch m := msg.(type) {
			case *redis.Subscription:
				if m.Kind == "subscribe" {
					log.Info("redis subscription restored")
					h.status(log, nil)
				}
			case *redis.Message:
				ev, err := DecodeChangeEvent([]byte(m.Payload))
				if err != nil {
					log.Warn("dropping malformed change event", "error", err)
					continue
				}
				if ev.OwnerID != s.ownerID {
					continue
				}
				h.event(log, ev)
			}
		}
	}
}

func (s *redisSubscription) shutdown() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.pubsub.Close()
		s.notifier.forget(s)
	})
}

// Unsubscribe closes the channel. It is safe to call more than once.
func (s *redisSubscription) Unsubscribe() error {
	s.closed.Store(true)
	s.shutdown()
	return nil
}
