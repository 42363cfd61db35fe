package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"postsync/internal/draft"
	"postsync/internal/feed"
	"postsync/internal/session"
)

type renderer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, now: time.Now}
}

// timeAgo formats the age of t the way the feed shows it: "just now" under a
// minute, then whole minutes, hours or days. Future times read as "just now".
func timeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	case d >= time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d >= time.Minute:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	default:
		return "just now"
	}
}

// follow redraws on every feed or draft change until ctx ends or the
// session closes.
func (r *renderer) follow(ctx context.Context, sess *session.Session) {
	feedCh, stopFeed := sess.Feed().Watch()
	defer stopFeed()
	draftCh, stopDraft := sess.Draft().Watch()
	defer stopDraft()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-feedCh:
			if !ok {
				return
			}
			r.feed(snap)
		case st, ok := <-draftCh:
			if !ok {
				return
			}
			r.draft(st)
		}
	}
}

func (r *renderer) feed(s feed.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "── %d posts", s.Count)
	switch {
	case s.Loading:
		b.WriteString(" · loading…")
	case !s.Live:
		b.WriteString(" · offline")
	}
	b.WriteString(" ──\n")
	if s.Err != nil {
		fmt.Fprintf(&b, "! could not load posts: %v\n", s.Err)
	}
	if s.State == feed.StateReady && s.Count == 0 {
		b.WriteString("  No posts yet\n")
	}
	now := r.now()
	for _, p := range s.Posts {
		author := p.UserID
		if p.Author != nil && p.Author.FullName != "" {
			author = p.Author.FullName
		}
		fmt.Fprintf(&b, "  %s · %s\n", author, timeAgo(p.CreatedAt, now))
		if p.Content != "" {
			fmt.Fprintf(&b, "    %s\n", p.Content)
		}
		if p.ImageURL != nil {
			fmt.Fprintf(&b, "    [image] %s\n", *p.ImageURL)
		}
	}
	_, _ = io.WriteString(r.out, b.String())
}

func (r *renderer) draft(s draft.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	b.WriteString("draft: ")
	if s.Text == "" && s.ImageRef == nil {
		b.WriteString("(empty)")
	} else {
		fmt.Fprintf(&b, "%q", s.Text)
	}
	if s.ImageRef != nil {
		fmt.Fprintf(&b, " + %s", *s.ImageRef)
	}
	if s.Submitting {
		b.WriteString(" · posting…")
	}
	b.WriteString("\n")
	if s.Error != "" {
		fmt.Fprintf(&b, "! %s\n", s.Error)
	}
	_, _ = io.WriteString(r.out, b.String())
}
