// Package session mounts one feed manager and one draft controller for a
// user, the way a profile screen does for as long as it is shown.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"postsync/internal/draft"
	"postsync/internal/feed"
	"postsync/internal/models"
	"postsync/internal/observability"
	"postsync/internal/picker"
)

// Store is what a session needs from the remote store.
type Store interface {
	feed.Source
	draft.Inserter
}

// Options tune the components of a session.
type Options struct {
	Logger        *slog.Logger
	Picker        picker.Picker
	QueryTimeout  time.Duration
	SubmitTimeout time.Duration
}

// Session is a mounted feed plus draft for one user.
type Session struct {
	ownerID string
	feed    *feed.Manager
	draft   *draft.Controller
	handle  *feed.Handle
	log     *slog.Logger

	cancel      context.CancelFunc
	initialDone chan struct{}
	initialErr  error
	closeOnce   sync.Once
}

// Open mounts a session: it subscribes to live changes and starts the
// initial load. A failed subscription leaves the session running without
// live updates.
func Open(ctx context.Context, src Store, ownerID string, opts Options) (*Session, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, models.NewValidationError("user id is required")
	}
	log := opts.Logger
	if log == nil {
		log = observability.Logger
	}

	feedOpts := []feed.Option{feed.WithLogger(log)}
	if opts.QueryTimeout > 0 {
		feedOpts = append(feedOpts, feed.WithQueryTimeout(opts.QueryTimeout))
	}
	m := feed.NewManager(src, ownerID, feedOpts...)

	draftOpts := []draft.Option{draft.WithRefresher(m), draft.WithLogger(log)}
	if opts.Picker != nil {
		draftOpts = append(draftOpts, draft.WithPicker(opts.Picker))
	}
	if opts.SubmitTimeout > 0 {
		draftOpts = append(draftOpts, draft.WithSubmitTimeout(opts.SubmitTimeout))
	}
	c := draft.NewController(src, ownerID, draftOpts...)

	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ownerID:     ownerID,
		feed:        m,
		draft:       c,
		log:         log.With("owner_id", ownerID),
		cancel:      cancel,
		initialDone: make(chan struct{}),
	}

	handle, err := m.Subscribe(ctx)
	if err != nil {
		s.log.WarnContext(ctx, "session opened without live updates", "error", err)
	}
	s.handle = handle

	go func() {
		defer close(s.initialDone)
		s.initialErr = m.Load(lifetime)
	}()

	observability.ActiveSessions.Inc()
	s.log.InfoContext(ctx, "session opened")
	return s, nil
}

// OwnerID returns the user the session belongs to.
func (s *Session) OwnerID() string { return s.ownerID }

// Feed returns the session's feed manager.
func (s *Session) Feed() *feed.Manager { return s.feed }

// Draft returns the session's draft controller.
func (s *Session) Draft() *draft.Controller { return s.draft }

// WaitReady blocks until the initial load settles and returns its error.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.initialDone:
		return s.initialErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unmounts the session. It may be called more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.handle.Cancel()
		s.feed.Dispose()
		s.draft.Close()
		s.cancel()
		observability.ActiveSessions.Dec()
		s.log.Info("session closed")
	})
}
