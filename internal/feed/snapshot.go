package feed

import (
	"encoding/json"
	"errors"
	"time"

	"postsync/internal/models"
)

// State is the lifecycle state of a Manager.
type State string

// Manager states. Nothing leaves StateDisposed.
const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateFailed   State = "failed"
	StateDisposed State = "disposed"
)

// Snapshot is an immutable view of a feed. Posts is a copy owned by the receiver.
type Snapshot struct {
	State State
	Posts []models.Post
	Count int
	// Loading is true while a query is in flight, so "still loading" and
	// "loaded, no posts" can be told apart.
	Loading bool
	// Err is the last query failure, cleared by the next successful query.
	Err error
	// Live is false when the change subscription is missing or dropped;
	// the feed then only changes on explicit refreshes.
	Live            bool
	SubscriptionErr error
	// Version counts settled queries.
	Version     uint64
	RefreshedAt time.Time
}

type snapshotJSON struct {
	State             State         `json:"state"`
	Posts             []models.Post `json:"posts"`
	Count             int           `json:"count"`
	Loading           bool          `json:"loading"`
	Error             string        `json:"error,omitempty"`
	Live              bool          `json:"live"`
	SubscriptionError string        `json:"subscription_error,omitempty"`
	Version           uint64        `json:"version"`
	RefreshedAt       *time.Time    `json:"refreshed_at,omitempty"`
}

// MarshalJSON renders the snapshot for rendering surfaces.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		State:   s.State,
		Posts:   s.Posts,
		Count:   s.Count,
		Loading: s.Loading,
		Live:    s.Live,
		Version: s.Version,
	}
	if out.Posts == nil {
		out.Posts = []models.Post{}
	}
	if s.Err != nil {
		out.Error = errorMessage(s.Err)
	}
	if s.SubscriptionErr != nil {
		out.SubscriptionError = errorMessage(s.SubscriptionErr)
	}
	if !s.RefreshedAt.IsZero() {
		t := s.RefreshedAt
		out.RefreshedAt = &t
	}
	return json.Marshal(out)
}

func errorMessage(err error) string {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
