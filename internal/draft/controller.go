// Package draft holds the post being composed and submits it to the store.
package draft

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"postsync/internal/models"
	"postsync/internal/observability"
	"postsync/internal/picker"
)

// User-facing messages recorded in State.Error.
const (
	MsgEmptyDraft       = "Please add some content or an image"
	MsgImageUnavailable = "Image upload is not available on this platform"
	MsgPickFailed       = "Failed to pick image"
	msgSubmitting       = "A post is already being submitted"
)

// DefaultSubmitTimeout bounds a single insert.
const DefaultSubmitTimeout = 15 * time.Second

// ErrClosed is returned by operations on a closed Controller.
var ErrClosed = errors.New("draft closed")

// Inserter writes a new post to the store.
type Inserter interface {
	Insert(ctx context.Context, in models.NewPost) (*models.Post, error)
}

// Refresher is told when a post was created so the feed can re-query.
type Refresher interface {
	Refresh() uint64
}

// State is a copy of the draft.
type State struct {
	Text       string  `json:"text"`
	ImageRef   *string `json:"image_url"`
	Error      string  `json:"error,omitempty"`
	Submitting bool    `json:"submitting"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithRefresher sets the component refreshed after a successful submit.
func WithRefresher(r Refresher) Option {
	return func(c *Controller) { c.refresher = r }
}

// WithPicker sets the image picker. Without one, image selection is unavailable.
func WithPicker(p picker.Picker) Option {
	return func(c *Controller) { c.picker = p }
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSubmitTimeout bounds each insert. Zero disables the bound.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Controller) { c.submitTimeout = d }
}

// Controller is the draft controller for one author. At most one submit
// runs at a time; inputs are locked while it does.
type Controller struct {
	ins           Inserter
	ownerID       string
	refresher     Refresher
	picker        picker.Picker
	log           *slog.Logger
	submitTimeout time.Duration

	mu       sync.Mutex
	state    State
	closed   bool
	watchers map[chan State]struct{}
}

// NewController creates an empty draft for ownerID.
func NewController(ins Inserter, ownerID string, opts ...Option) *Controller {
	c := &Controller{
		ins:           ins,
		ownerID:       ownerID,
		log:           observability.Logger,
		submitTimeout: DefaultSubmitTimeout,
		watchers:      make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "draft", "owner_id", ownerID)
	return c
}

// editLocked checks the draft can be changed right now.
func (c *Controller) editLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.state.Submitting {
		return models.NewConflictError(msgSubmitting)
	}
	return nil
}

func (c *Controller) update(fn func(s *State)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editLocked(); err != nil {
		return err
	}
	fn(&c.state)
	c.state.Error = ""
	c.notifyLocked()
	return nil
}

// SetText replaces the draft text.
func (c *Controller) SetText(text string) error {
	return c.update(func(s *State) { s.Text = text })
}

// SetImage attaches an image reference. An empty reference clears the image.
func (c *Controller) SetImage(ref string) error {
	if ref == "" {
		return c.ClearImage()
	}
	return c.update(func(s *State) { s.ImageRef = &ref })
}

// ClearImage removes the attached image.
func (c *Controller) ClearImage() error {
	return c.update(func(s *State) { s.ImageRef = nil })
}

// Cancel discards the draft.
func (c *Controller) Cancel() error {
	return c.update(func(s *State) { *s = State{} })
}

// PickImage asks the picker for an image and attaches it. Dismissing the
// picker leaves the draft unchanged.
func (c *Controller) PickImage(ctx context.Context) error {
	c.mu.Lock()
	if err := c.editLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	p := c.picker
	c.mu.Unlock()

	if p == nil {
		p = picker.Unavailable
	}
	ref, err := p.Pick(ctx)
	switch {
	case err == nil:
		return c.SetImage(ref)
	case errors.Is(err, picker.ErrNoSelection):
		return nil
	case errors.Is(err, picker.ErrUnavailable):
		c.fail(MsgImageUnavailable)
		return models.NewValidationError(MsgImageUnavailable)
	default:
		c.log.Warn("image picker failed", "error", err)
		c.fail(MsgPickFailed)
		return err
	}
}

func (c *Controller) fail(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state.Error = msg
	c.notifyLocked()
}

// Submit validates the draft and inserts it. A submit while another is in
// flight is rejected, never queued. On success the draft is cleared and the
// refresher is notified; on failure text and image are kept for a retry.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Submitting {
		c.mu.Unlock()
		observability.DraftSubmits.WithLabelValues("conflict").Inc()
		return models.NewConflictError(msgSubmitting)
	}
	text := strings.TrimSpace(c.state.Text)
	image := c.state.ImageRef
	if text == "" && image == nil {
		c.state.Error = MsgEmptyDraft
		c.notifyLocked()
		c.mu.Unlock()
		observability.DraftSubmits.WithLabelValues("invalid").Inc()
		return models.NewValidationError(MsgEmptyDraft)
	}
	c.state.Submitting = true
	c.state.Error = ""
	c.notifyLocked()
	c.mu.Unlock()

	if c.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()
	}

	var imageCopy *string
	if image != nil {
		ref := *image
		imageCopy = &ref
	}
	post, err := c.ins.Insert(ctx, models.NewPost{
		UserID:   c.ownerID,
		Content:  text,
		ImageURL: imageCopy,
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		observability.DraftSubmits.WithLabelValues("discarded").Inc()
		c.log.Debug("discarding submit result after close")
		return ErrClosed
	}
	c.state.Submitting = false
	if err != nil {
		var appErr *models.AppError
		if !errors.As(err, &appErr) || appErr.Code != models.CodeStoreWrite {
			appErr = models.NewStoreWriteError(err)
		}
		c.state.Error = appErr.Message
		c.notifyLocked()
		c.mu.Unlock()
		observability.DraftSubmits.WithLabelValues("error").Inc()
		c.log.Warn("submit failed", "error", err)
		return appErr
	}
	c.state = State{}
	c.notifyLocked()
	refresher := c.refresher
	c.mu.Unlock()

	observability.DraftSubmits.WithLabelValues("ok").Inc()
	if post != nil {
		c.log.Info("post created", "post_id", post.ID)
	}
	if refresher != nil {
		refresher.Refresh()
	}
	return nil
}

// Close tears the controller down. A submit still in flight completes at
// the store but its result no longer touches the draft or the feed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for ch := range c.watchers {
		close(ch)
		delete(c.watchers, ch)
	}
}

// State returns a copy of the draft.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	s := c.state
	if s.ImageRef != nil {
		ref := *s.ImageRef
		s.ImageRef = &ref
	}
	return s
}

// Watch returns a channel that always holds the latest draft state,
// starting with the current one. The channel is closed by stop or Close.
func (c *Controller) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	ch <- c.stateLocked()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.watchers[ch] = struct{}{}

	stop := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.watchers[ch]; ok {
			delete(c.watchers, ch)
			close(ch)
		}
	}
	return ch, stop
}

func (c *Controller) notifyLocked() {
	if len(c.watchers) == 0 {
		return
	}
	s := c.stateLocked()
	for ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
