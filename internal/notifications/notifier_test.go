package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu       sync.Mutex
	events   []ChangeEvent
	statuses []error
}

func (r *eventRecorder) handlers() Handlers {
	return Handlers{
		OnEvent: func(ev ChangeEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		},
		OnStatus: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, err)
		},
	}
}

func (r *eventRecorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) lastEvent() ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *eventRecorder) statusCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

func (r *eventRecorder) lastStatus() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[len(r.statuses)-1]
}

func setupRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNotifier_NilClient(t *testing.T) {
	n := NewNotifier(nil)

	err := n.Publish(context.Background(), NewPostEvent(EventInsert, "u1", "p1"))
	assert.NoError(t, err)

	sub, err := n.Subscribe(context.Background(), "u1", Handlers{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, sub)
}

func TestUserChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ownerID  string
		expected string
	}{
		{"u1", "posts:user:u1"},
		{"3f1c", "posts:user:3f1c"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, UserChannel(tt.ownerID))
	}
}

func TestNotifier_PublishSubscribe(t *testing.T) {
	rdb := setupRedis(t)
	n := NewNotifier(rdb)
	defer func() { _ = n.Close() }()

	rec := &eventRecorder{}
	sub, err := n.Subscribe(context.Background(), "u1", rec.handlers())
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	require.NoError(t, n.Publish(context.Background(), NewPostEvent(EventInsert, "u1", "p1")))

	assert.Eventually(t, func() bool { return rec.eventCount() == 1 }, time.Second, 10*time.Millisecond)
	ev := rec.lastEvent()
	assert.Equal(t, EventInsert, ev.Type)
	assert.Equal(t, PostsTable, ev.Table)
	assert.Equal(t, "p1", ev.PostID)
}

func TestNotifier_IgnoresOtherOwners(t *testing.T) {
	rdb := setupRedis(t)
	n := NewNotifier(rdb)
	defer func() { _ = n.Close() }()

	rec := &eventRecorder{}
	_, err := n.Subscribe(context.Background(), "u1", rec.handlers())
	require.NoError(t, err)

	require.NoError(t, n.Publish(context.Background(), NewPostEvent(EventInsert, "u2", "p9")))

	// A payload for another owner on this owner's channel is dropped too.
	foreign, err := NewPostEvent(EventDelete, "u2", "p9").Encode()
	require.NoError(t, err)
	require.NoError(t, rdb.Publish(context.Background(), UserChannel("u1"), foreign).Err())
	require.NoError(t, rdb.Publish(context.Background(), UserChannel("u1"), "not json").Err())

	assert.Never(t, func() bool { return rec.eventCount() > 0 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestNotifier_UnsubscribeStopsDelivery(t *testing.T) {
	rdb := setupRedis(t)
	n := NewNotifier(rdb)

	rec := &eventRecorder{}
	sub, err := n.Subscribe(context.Background(), "u1", rec.handlers())
	require.NoError(t, err)

	require.NoError(t, n.Publish(context.Background(), NewPostEvent(EventInsert, "u1", "p1")))
	assert.Eventually(t, func() bool { return rec.eventCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, n.Publish(context.Background(), NewPostEvent(EventInsert, "u1", "p2")))
	assert.Never(t, func() bool { return rec.eventCount() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
	assert.Zero(t, rec.statusCount(), "a requested unsubscribe is not a dropped channel")
}

func TestNotifier_SubscriptionOutlivesHandshakeContext(t *testing.T) {
	rdb := setupRedis(t)
	n := NewNotifier(rdb)
	defer func() { _ = n.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	rec := &eventRecorder{}
	_, err := n.Subscribe(ctx, "u1", rec.handlers())
	require.NoError(t, err)
	cancel()

	require.NoError(t, n.Publish(context.Background(), NewPostEvent(EventUpdate, "u1", "p1")))
	assert.Eventually(t, func() bool { return rec.eventCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestNotifier_HandlerPanicDoesNotKillSubscription(t *testing.T) {
	rdb := setupRedis(t)
	n := NewNotifier(rdb)
	defer func() { _ = n.Close() }()

	var mu sync.Mutex
	calls := 0
	_, err := n.Subscribe(context.Background(), "u1", Handlers{
		OnEvent: func(ChangeEvent) {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				panic("boom")
			}
		},
	})
	require.NoError(t, err)

	require.NoError(t, n.Publish(context.Background(), NewPostEvent(EventInsert, "u1", "p1")))
	require.NoError(t, n.Publish(context.Background(), NewPostEvent(EventInsert, "u1", "p2")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 10*time.Millisecond)
}

func TestDecodeChangeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"eventType":"DELETE","table":"posts","owner_id":"u1","post_id":"p1","commit_timestamp":"2024-01-01T00:00:00Z"}`, false},
		{"missing owner", `{"eventType":"DELETE","table":"posts"}`, true},
		{"garbage", `{`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeChangeEvent([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, EventDelete, ev.Type)
			assert.Equal(t, "u1", ev.OwnerID)
		})
	}
}
