package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"postsync/internal/models"
	"postsync/internal/notifications"
	"postsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "u1"

func newTestManager(t *testing.T) (*Manager, *testutil.StoreStub) {
	t.Helper()
	stub := testutil.NewStoreStub()
	m := NewManager(stub, owner)
	t.Cleanup(func() {
		m.Dispose()
		stub.Close()
	})
	return m, stub
}

func nextQuery(t *testing.T, stub *testutil.StoreStub) *testutil.QueryCall {
	t.Helper()
	select {
	case q := <-stub.Queries:
		return q
	case <-time.After(time.Second):
		t.Fatal("expected a store query")
		return nil
	}
}

func assertNoQuery(t *testing.T, stub *testutil.StoreStub) {
	t.Helper()
	select {
	case q := <-stub.Queries:
		t.Fatalf("unexpected store query for %s", q.OwnerID)
	case <-time.After(100 * time.Millisecond):
	}
}

func loadAsync(m *Manager) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- m.Load(context.Background()) }()
	return errCh
}

func ids(posts []models.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func waitFor(t *testing.T, m *Manager, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = m.Snapshot()
		return cond(snap)
	}, time.Second, 5*time.Millisecond)
	return snap
}

func TestManager_InitialState(t *testing.T) {
	m, _ := newTestManager(t)

	snap := m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Posts)
	assert.False(t, snap.Live)
	assert.Equal(t, owner, m.OwnerID())
}

func TestManager_LoadReplacesCollection(t *testing.T) {
	m, stub := newTestManager(t)

	errCh := loadAsync(m)
	q := nextQuery(t, stub)
	assert.Equal(t, owner, q.OwnerID)
	assert.True(t, m.Snapshot().Loading)
	q.Respond([]models.Post{
		testutil.Post("a", owner, "first", 0),
		testutil.Post("b", owner, "second", time.Minute),
	}, nil)
	require.NoError(t, <-errCh)

	snap := m.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, []string{"b", "a"}, ids(snap.Posts))

	// A later response without "a" removes it: the result replaces, never merges.
	errCh = loadAsync(m)
	nextQuery(t, stub).Respond([]models.Post{
		testutil.Post("b", owner, "second", time.Minute),
		testutil.Post("c", owner, "third", 2*time.Minute),
	}, nil)
	require.NoError(t, <-errCh)

	snap = m.Snapshot()
	assert.Equal(t, []string{"c", "b"}, ids(snap.Posts))
	assert.Equal(t, 2, snap.Count)
	assert.Equal(t, uint64(2), snap.Version)
}

func TestManager_EmptyFeedIsNotLoading(t *testing.T) {
	m, stub := newTestManager(t)

	errCh := loadAsync(m)
	nextQuery(t, stub).Respond(nil, nil)
	require.NoError(t, <-errCh)

	snap := m.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.False(t, snap.Loading)
	assert.NotNil(t, snap.Posts)
	assert.Zero(t, snap.Count)
	assert.False(t, snap.RefreshedAt.IsZero())
}

func TestManager_RefreshedAtUsesClock(t *testing.T) {
	stub := testutil.NewStoreStub()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(stub, owner, WithClock(func() time.Time { return now }))
	t.Cleanup(func() {
		m.Dispose()
		stub.Close()
	})

	errCh := loadAsync(m)
	nextQuery(t, stub).Respond(nil, nil)
	require.NoError(t, <-errCh)
	assert.Equal(t, now, m.Snapshot().RefreshedAt)

	// A failed query leaves the last success time alone.
	now = now.Add(time.Hour)
	errCh = loadAsync(m)
	nextQuery(t, stub).Respond(nil, errors.New("timeout"))
	require.Error(t, <-errCh)
	assert.Equal(t, now.Add(-time.Hour), m.Snapshot().RefreshedAt)

	errCh = loadAsync(m)
	nextQuery(t, stub).Respond(nil, nil)
	require.NoError(t, <-errCh)
	assert.Equal(t, now, m.Snapshot().RefreshedAt)
}

func TestManager_RefreshCoalescesWhileInFlight(t *testing.T) {
	m, stub := newTestManager(t)

	errCh := loadAsync(m)
	first := nextQuery(t, stub)

	for i := 0; i < 5; i++ {
		m.Refresh()
	}

	first.Respond([]models.Post{testutil.Post("a", owner, "stale", 0)}, nil)
	require.NoError(t, <-errCh)

	second := nextQuery(t, stub)
	second.Respond([]models.Post{
		testutil.Post("a", owner, "stale", 0),
		testutil.Post("b", owner, "fresh", time.Minute),
	}, nil)

	snap := waitFor(t, m, func(s Snapshot) bool { return s.Version == 2 && !s.Loading })
	assert.Equal(t, []string{"b", "a"}, ids(snap.Posts))
	assertNoQuery(t, stub)
}

func TestManager_LoadWaitsForCoveringQuery(t *testing.T) {
	m, stub := newTestManager(t)

	m.Refresh()
	inFlight := nextQuery(t, stub)

	// Issued while a query is in flight, so only the follow-up covers it.
	errCh := loadAsync(m)
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.pending
	}, time.Second, 5*time.Millisecond)

	inFlight.Respond(nil, nil)
	select {
	case <-errCh:
		t.Fatal("Load returned before the follow-up query settled")
	case <-time.After(50 * time.Millisecond):
	}

	nextQuery(t, stub).Respond(nil, errors.New("timeout"))
	err := <-errCh
	assert.True(t, models.HasCode(err, models.CodeStoreQuery))
}

func TestManager_LoadFailureKeepsPreviousCollection(t *testing.T) {
	m, stub := newTestManager(t)

	errCh := loadAsync(m)
	nextQuery(t, stub).Respond([]models.Post{testutil.Post("a", owner, "kept", 0)}, nil)
	require.NoError(t, <-errCh)

	errCh = loadAsync(m)
	nextQuery(t, stub).Respond(nil, errors.New("network down"))
	err := <-errCh
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeStoreQuery))

	snap := m.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, []string{"a"}, ids(snap.Posts))
	assert.Equal(t, err, snap.Err)
	assert.False(t, snap.Loading)

	// The next success clears the error.
	m.Refresh()
	nextQuery(t, stub).Respond(nil, nil)
	snap = waitFor(t, m, func(s Snapshot) bool { return s.State == StateReady })
	assert.NoError(t, snap.Err)
	assert.Empty(t, snap.Posts)
}

func TestManager_LoadHonoursContext(t *testing.T) {
	m, stub := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Load(ctx) }()

	q := nextQuery(t, stub)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	q.Respond(nil, nil)
	waitFor(t, m, func(s Snapshot) bool { return s.State == StateReady })
}

func TestManager_DisposeDiscardsLateResponse(t *testing.T) {
	m, stub := newTestManager(t)
	updates, _ := m.Watch()

	m.Refresh()
	q := nextQuery(t, stub)

	m.Dispose()
	assert.Error(t, q.Ctx.Err(), "in-flight query is cancelled")
	q.Respond([]models.Post{testutil.Post("late", owner, "too late", 0)}, nil)

	assert.Never(t, func() bool { return len(m.Snapshot().Posts) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	snap := m.Snapshot()
	assert.Equal(t, StateDisposed, snap.State)
	assert.False(t, snap.Loading)

	// The watcher sees the final snapshot, then the channel closes.
	var last Snapshot
	for s := range updates {
		last = s
	}
	assert.Equal(t, StateDisposed, last.State)
}

func TestManager_OperationsAfterDispose(t *testing.T) {
	m, stub := newTestManager(t)
	m.Dispose()
	m.Dispose()

	assert.ErrorIs(t, m.Load(context.Background()), ErrDisposed)
	assert.Zero(t, m.Refresh())
	h, err := m.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrDisposed)
	assert.Nil(t, h)
	assert.Zero(t, stub.Subscribes())

	ch, stop := m.Watch()
	snap, ok := <-ch
	assert.True(t, ok)
	assert.Equal(t, StateDisposed, snap.State)
	_, ok = <-ch
	assert.False(t, ok)
	stop()
}

func TestManager_DisposeFailsPendingLoad(t *testing.T) {
	m, stub := newTestManager(t)

	errCh := loadAsync(m)
	nextQuery(t, stub)
	m.Dispose()

	assert.ErrorIs(t, <-errCh, ErrDisposed)
}

func TestManager_SubscribeRefreshesOnOwnerEvents(t *testing.T) {
	m, stub := newTestManager(t)

	h, err := m.Subscribe(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, m.Snapshot().Live)

	stub.Emit(notifications.NewPostEvent(notifications.EventInsert, "someone-else", "p9"))
	assertNoQuery(t, stub)

	stub.Emit(notifications.NewPostEvent(notifications.EventDelete, owner, "p1"))
	nextQuery(t, stub).Respond(nil, nil)
	waitFor(t, m, func(s Snapshot) bool { return s.Version == 1 })
}

func TestManager_SubscribeIsSingle(t *testing.T) {
	m, stub := newTestManager(t)

	h1, err := m.Subscribe(context.Background())
	require.NoError(t, err)
	h2, err := m.Subscribe(context.Background())
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, 1, stub.Subscribes())
	assert.Equal(t, 1, stub.ActiveSubscriptions())

	h1.Cancel()
	h1.Cancel()
	assert.Equal(t, 0, stub.ActiveSubscriptions())
	assert.False(t, m.Snapshot().Live)

	// Events from a cancelled subscription are ignored.
	stub.Emit(notifications.NewPostEvent(notifications.EventInsert, owner, "p1"))
	assertNoQuery(t, stub)
}

func TestManager_SubscribeFailureDegrades(t *testing.T) {
	m, stub := newTestManager(t)
	stub.FailSubscribe(errors.New("realtime disabled"))

	h, err := m.Subscribe(context.Background())
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeSubscription))
	assert.Nil(t, h)
	h.Cancel()

	snap := m.Snapshot()
	assert.False(t, snap.Live)
	assert.Equal(t, err, snap.SubscriptionErr)

	// Manual refresh still works.
	errCh := loadAsync(m)
	nextQuery(t, stub).Respond([]models.Post{testutil.Post("a", owner, "x", 0)}, nil)
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, m.Snapshot().Count)
}

func TestManager_ChannelDropAndRestore(t *testing.T) {
	m, stub := newTestManager(t)

	_, err := m.Subscribe(context.Background())
	require.NoError(t, err)

	stub.SetStatus(errors.New("socket closed"))
	snap := m.Snapshot()
	assert.False(t, snap.Live)
	assert.True(t, models.HasCode(snap.SubscriptionErr, models.CodeSubscription))

	stub.SetStatus(nil)
	snap = m.Snapshot()
	assert.True(t, snap.Live)
	assert.NoError(t, snap.SubscriptionErr)

	// Restoring the channel catches up on missed events.
	nextQuery(t, stub).Respond(nil, nil)
	waitFor(t, m, func(s Snapshot) bool { return s.Version == 1 })
}

func TestManager_DisposeCancelsSubscription(t *testing.T) {
	m, stub := newTestManager(t)

	h, err := m.Subscribe(context.Background())
	require.NoError(t, err)

	m.Dispose()
	assert.Equal(t, 0, stub.ActiveSubscriptions())
	h.Cancel()
}

func TestManager_WatchKeepsOnlyLatest(t *testing.T) {
	m, stub := newTestManager(t)
	updates, stop := m.Watch()
	defer stop()

	for i := 1; i <= 3; i++ {
		m.Refresh()
		nextQuery(t, stub).Respond(nil, nil)
		waitFor(t, m, func(s Snapshot) bool { return s.Version == uint64(i) && !s.Loading })
	}

	snap := <-updates
	assert.Equal(t, uint64(3), snap.Version)
	select {
	case extra := <-updates:
		t.Fatalf("stale snapshot left in channel: version %d", extra.Version)
	default:
	}

	stop()
	stop()
	_, ok := <-updates
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       []models.Post
		expected []string
	}{
		{
			name:     "empty",
			expected: []string{},
		},
		{
			name: "newest first",
			in: []models.Post{
				testutil.Post("a", owner, "", 0),
				testutil.Post("c", owner, "", 2*time.Minute),
				testutil.Post("b", owner, "", time.Minute),
			},
			expected: []string{"c", "b", "a"},
		},
		{
			name: "ties broken by id",
			in: []models.Post{
				testutil.Post("a", owner, "", 0),
				testutil.Post("b", owner, "", 0),
			},
			expected: []string{"b", "a"},
		},
		{
			name: "duplicates dropped",
			in: []models.Post{
				testutil.Post("a", owner, "one", 0),
				testutil.Post("a", owner, "two", 0),
			},
			expected: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ids(normalize(tt.in)))
		})
	}
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	snap := Snapshot{
		State: StateFailed,
		Err:   models.NewStoreQueryError(errors.New("boom")),
		Live:  false,
	}

	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "failed", out["state"])
	assert.Equal(t, "Failed to load posts", out["error"])
	assert.Equal(t, []interface{}{}, out["posts"])
	assert.NotContains(t, out, "refreshed_at")
}
