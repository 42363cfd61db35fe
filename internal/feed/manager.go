// Package feed keeps one user's posts in sync with the remote store.
//
// A Manager owns the ordered post collection for one owner. Every refresh,
// whether manual, triggered by a change notification or by a successful
// submit, goes through a single queue that runs at most one query at a time
// and keeps at most one follow-up pending. Each settled query replaces the
// whole collection, so the visible feed always equals one store response.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"postsync/internal/models"
	"postsync/internal/notifications"
	"postsync/internal/observability"
)

// ErrDisposed is returned by operations on a disposed Manager.
var ErrDisposed = errors.New("feed disposed")

// DefaultQueryTimeout bounds a single store query.
const DefaultQueryTimeout = 10 * time.Second

// Source is the part of the remote store a Manager reads from.
type Source interface {
	Query(ctx context.Context, ownerID string) ([]models.Post, error)
	Subscribe(ctx context.Context, ownerID string, h notifications.Handlers) (notifications.Subscription, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithQueryTimeout bounds each store query. Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(m *Manager) { m.queryTimeout = d }
}

// WithClock overrides the time source used for RefreshedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the post lifecycle manager for one owner. It is safe for
// concurrent use.
type Manager struct {
	src          Source
	ownerID      string
	log          *slog.Logger
	queryTimeout time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	subscribeMu sync.Mutex

	mu          sync.Mutex
	state       State
	posts       []models.Post
	err         error
	live        bool
	subErr      error
	version     uint64
	refreshedAt time.Time

	// requested counts refresh requests; a query started when requested
	// was n settles every request up to n.
	requested uint64
	settled   uint64
	inFlight  bool
	pending   bool
	waiters   map[chan error]uint64

	handle     *Handle
	connecting *Handle
	watchers   map[chan Snapshot]struct{}
}

// NewManager creates an idle manager for ownerID. Nothing is fetched until
// Load or Refresh is called.
func NewManager(src Source, ownerID string, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		src:          src,
		ownerID:      ownerID,
		log:          observability.Logger,
		queryTimeout: DefaultQueryTimeout,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateIdle,
		posts:        []models.Post{},
		waiters:      make(map[chan error]uint64),
		watchers:     make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "feed", "owner_id", ownerID)
	return m
}

// OwnerID returns the user whose posts this manager tracks.
func (m *Manager) OwnerID() string { return m.ownerID }

// Load requests a refresh and waits until a query covering the request has
// settled. It returns that query's error, if any; the previous collection
// is kept on failure.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	ticket := m.requestLocked()
	done := make(chan error, 1)
	m.waiters[done] = ticket
	m.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.waiters, done)
		m.mu.Unlock()
		select {
		case err := <-done:
			return err
		default:
		}
		return ctx.Err()
	}
}

// Refresh asks for a re-query without waiting. Requests made while a query
// is in flight are merged into one follow-up query. The returned ticket is
// zero when the manager is disposed.
func (m *Manager) Refresh() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDisposed {
		return 0
	}
	return m.requestLocked()
}

func (m *Manager) requestLocked() uint64 {
	m.requested++
	if m.inFlight {
		if m.pending {
			observability.FeedRefreshesCoalesced.Inc()
		}
		m.pending = true
	} else {
		m.startQueryLocked()
	}
	return m.requested
}

func (m *Manager) startQueryLocked() {
	m.inFlight = true
	m.state = StateLoading
	m.notifyLocked()
	go m.runQuery(m.requested)
}

func (m *Manager) runQuery(ticket uint64) {
	ctx := m.ctx
	if m.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.queryTimeout)
		defer cancel()
	}
	posts, err := m.src.Query(ctx, m.ownerID)
	m.settle(ticket, posts, err)
}

func (m *Manager) settle(ticket uint64, posts []models.Post, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDisposed {
		observability.FeedRefreshes.WithLabelValues("discarded").Inc()
		m.log.Debug("discarding query result after dispose")
		return
	}

	m.inFlight = false
	m.settled = ticket
	m.version++

	if err != nil {
		if !models.HasCode(err, models.CodeStoreQuery) {
			err = models.NewStoreQueryError(err)
		}
		m.err = err
		m.state = StateFailed
		observability.FeedRefreshes.WithLabelValues("error").Inc()
		m.log.Warn("feed query failed", "error", err)
	} else {
		m.posts = normalize(posts)
		m.err = nil
		m.state = StateReady
		m.refreshedAt = m.now()
		observability.FeedRefreshes.WithLabelValues("ok").Inc()
	}
	result := m.err

	for ch, t := range m.waiters {
		if t <= ticket {
			ch <- result
			delete(m.waiters, ch)
		}
	}

	if m.pending {
		m.pending = false
		m.startQueryLocked()
		return
	}
	m.notifyLocked()
}

// normalize orders posts newest first, ties by id, and drops duplicate ids.
func normalize(posts []models.Post) []models.Post {
	out := make([]models.Post, 0, len(posts))
	seen := make(map[string]struct{}, len(posts))
	for _, p := range posts {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Handle is an open change subscription. Cancel is safe on a nil Handle.
type Handle struct {
	m    *Manager
	sub  notifications.Subscription
	once sync.Once
}

// Cancel closes the subscription. It may be called more than once.
func (h *Handle) Cancel() {
	if h == nil || h.m == nil {
		return
	}
	h.once.Do(func() {
		h.m.mu.Lock()
		if h.m.handle == h {
			h.m.handle = nil
			h.m.live = false
			h.m.notifyLocked()
		}
		h.m.mu.Unlock()
		if h.sub != nil {
			_ = h.sub.Unsubscribe()
		}
	})
}

// Subscribe opens the owner's live change channel; every change event for
// the owner triggers a refresh. While a subscription is open, Subscribe
// returns it instead of opening another. On failure the feed is marked not
// live and keeps working through explicit refreshes.
func (m *Manager) Subscribe(ctx context.Context) (*Handle, error) {
	m.subscribeMu.Lock()
	defer m.subscribeMu.Unlock()

	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	if m.handle != nil {
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}
	h := &Handle{m: m}
	m.connecting = h
	m.mu.Unlock()

	hctx, stop := context.WithCancel(ctx)
	defer stop()
	unlink := context.AfterFunc(m.ctx, stop)
	defer unlink()

	sub, err := m.src.Subscribe(hctx, m.ownerID, notifications.Handlers{
		OnEvent:  func(ev notifications.ChangeEvent) { m.onEvent(h, ev) },
		OnStatus: func(err error) { m.onStatus(h, err) },
	})

	m.mu.Lock()
	m.connecting = nil
	if m.state == StateDisposed {
		m.mu.Unlock()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		return nil, ErrDisposed
	}
	if err != nil {
		if !models.HasCode(err, models.CodeSubscription) {
			err = models.NewSubscriptionError(err)
		}
		m.live = false
		m.subErr = err
		m.notifyLocked()
		m.mu.Unlock()
		m.log.Warn("live updates unavailable, feed refreshes manually only", "error", err)
		return nil, err
	}
	h.sub = sub
	m.handle = h
	m.live = true
	m.subErr = nil
	m.notifyLocked()
	m.mu.Unlock()
	return h, nil
}

func (m *Manager) current(h *Handle) bool {
	return m.state != StateDisposed && (m.handle == h || m.connecting == h)
}

func (m *Manager) onEvent(h *Handle, ev notifications.ChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(h) {
		return
	}
	if ev.OwnerID != m.ownerID {
		observability.ChangeEvents.WithLabelValues("ignored").Inc()
		return
	}
	observability.ChangeEvents.WithLabelValues("refresh").Inc()
	m.requestLocked()
}

func (m *Manager) onStatus(h *Handle, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(h) {
		return
	}
	if err != nil {
		m.live = false
		m.subErr = models.NewSubscriptionError(err)
		m.notifyLocked()
		m.log.Warn("live channel dropped", "error", err)
		return
	}
	m.live = true
	m.subErr = nil
	m.log.Info("live channel restored, catching up")
	// Events may have been missed while the channel was down.
	m.requestLocked()
	m.notifyLocked()
}

// Dispose tears the manager down: the subscription is cancelled, the
// in-flight query is abandoned and its late result dropped, and every
// watcher channel is closed. It may be called more than once.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return
	}
	m.state = StateDisposed
	m.pending = false
	m.live = false
	h := m.handle
	m.handle = nil
	for ch := range m.waiters {
		ch <- ErrDisposed
		delete(m.waiters, ch)
	}
	m.notifyLocked()
	for ch := range m.watchers {
		close(ch)
		delete(m.watchers, ch)
	}
	m.mu.Unlock()

	m.cancel()
	if h != nil && h.sub != nil {
		h.once.Do(func() { _ = h.sub.Unsubscribe() })
	}
	m.log.Debug("feed disposed")
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	posts := make([]models.Post, len(m.posts))
	copy(posts, m.posts)
	return Snapshot{
		State:           m.state,
		Posts:           posts,
		Count:           len(posts),
		Loading:         m.inFlight && m.state != StateDisposed,
		Err:             m.err,
		Live:            m.live,
		SubscriptionErr: m.subErr,
		Version:         m.version,
		RefreshedAt:     m.refreshedAt,
	}
}

// Watch returns a channel that always holds the latest snapshot, starting
// with the current one. A slow reader skips intermediate snapshots. The
// channel is closed by stop or by Dispose.
func (m *Manager) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	ch <- m.snapshotLocked()
	if m.state == StateDisposed {
		close(ch)
		return ch, func() {}
	}
	m.watchers[ch] = struct{}{}

	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
	}
	return ch, stop
}

func (m *Manager) notifyLocked() {
	if len(m.watchers) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
