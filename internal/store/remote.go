// Package store is the client for the remote post store: rows through the
// post repository, change notifications through a ChangeFeed.
package store

import (
	"context"
	"errors"
	"log/slog"

	"postsync/internal/models"
	"postsync/internal/notifications"
	"postsync/internal/observability"
	"postsync/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

var errNoChangeFeed = errors.New("no change feed configured")

// Remote implements the store operations used by feeds and drafts.
type Remote struct {
	posts  repository.PostRepository
	feed   notifications.ChangeFeed
	log    *slog.Logger
	audits *observability.StoreLogger
}

// Option configures a Remote.
type Option func(*Remote)

// WithLogger sets the logger used for store operations.
func WithLogger(l *slog.Logger) Option {
	return func(r *Remote) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRemote creates a store client. feed may be nil, in which case writes
// publish nothing and Subscribe always fails.
func NewRemote(posts repository.PostRepository, feed notifications.ChangeFeed, opts ...Option) *Remote {
	r := &Remote{
		posts: posts,
		feed:  feed,
		log:   observability.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.audits = observability.NewStoreLogger(notifications.PostsTable, r.log)
	return r
}

// Transport names the change feed in use, or "none".
func (r *Remote) Transport() string {
	if r.feed == nil {
		return "none"
	}
	return r.feed.Name()
}

// Query returns every post owned by ownerID, newest first.
func (r *Remote) Query(ctx context.Context, ownerID string) ([]models.Post, error) {
	span, ctx := observability.NewSpan(ctx, "store.Query", attribute.String("owner_id", ownerID))
	defer span.End()
	defer observability.TrackStore("query")()

	posts, err := r.posts.ListByUser(ctx, ownerID)
	if err != nil {
		span.SetError(err)
		r.audits.LogError(ctx, err, "query")
		return nil, models.NewStoreQueryError(err)
	}
	r.audits.LogRead(ctx, ownerID, len(posts))
	return posts, nil
}

// Insert writes the post and then notifies the owner's subscribers. The
// write stands even if the notification cannot be published.
func (r *Remote) Insert(ctx context.Context, in models.NewPost) (*models.Post, error) {
	span, ctx := observability.NewSpan(ctx, "store.Insert", attribute.String("owner_id", in.UserID))
	defer span.End()
	defer observability.TrackStore("insert")()

	post := in.Row()
	if err := r.posts.Create(ctx, post); err != nil {
		span.SetError(err)
		r.audits.LogError(ctx, err, "insert")
		return nil, models.NewStoreWriteError(err)
	}
	r.audits.LogWrite(ctx, "insert", post.UserID, post.ID)
	r.publish(ctx, notifications.NewPostEvent(notifications.EventInsert, post.UserID, post.ID))
	return post, nil
}

// Delete removes a post and notifies its owner's subscribers.
func (r *Remote) Delete(ctx context.Context, postID string) (*models.Post, error) {
	span, ctx := observability.NewSpan(ctx, "store.Delete", attribute.String("post_id", postID))
	defer span.End()
	defer observability.TrackStore("delete")()

	post, err := r.posts.Delete(ctx, postID)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return nil, err
		}
		span.SetError(err)
		r.audits.LogError(ctx, err, "delete")
		return nil, models.NewStoreWriteError(err)
	}
	r.audits.LogWrite(ctx, "delete", post.UserID, post.ID)
	r.publish(ctx, notifications.NewPostEvent(notifications.EventDelete, post.UserID, post.ID))
	return post, nil
}

// Subscribe opens the owner's live change channel.
func (r *Remote) Subscribe(ctx context.Context, ownerID string, h notifications.Handlers) (notifications.Subscription, error) {
	if r.feed == nil {
		observability.SubscriptionErrors.WithLabelValues(r.Transport()).Inc()
		return nil, models.NewSubscriptionError(errNoChangeFeed)
	}
	sub, err := r.feed.Subscribe(ctx, ownerID, h)
	if err != nil {
		observability.SubscriptionErrors.WithLabelValues(r.Transport()).Inc()
		r.log.WarnContext(ctx, "live subscription failed",
			slog.String("transport", r.Transport()),
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, models.NewSubscriptionError(err)
	}
	return sub, nil
}

func (r *Remote) publish(ctx context.Context, ev notifications.ChangeEvent) {
	if r.feed == nil {
		return
	}
	if err := r.feed.Publish(ctx, ev); err != nil {
		r.log.WarnContext(ctx, "failed to publish change event",
			slog.String("transport", r.Transport()),
			slog.String("event", string(ev.Type)),
			slog.String("owner_id", ev.OwnerID),
			slog.String("error", err.Error()),
		)
	}
}
