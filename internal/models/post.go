// Package models contains data structures for the feed's domain models.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Profile is the author record joined onto every post read.
type Profile struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	FullName  string    `gorm:"not null" json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a uuid when the caller did not provide one.
func (p *Profile) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Post is a user-authored feed item with optional text and an optional image.
type Post struct {
	ID       string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID   string  `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Content  string  `gorm:"type:text;not null;default:''" json:"content"`
	ImageURL *string `json:"image_url"`
	// Author is not written by the client; it is preloaded on reads.
	Author    *Profile  `gorm:"foreignKey:UserID;references:ID" json:"profiles,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the server-side id. It is never changed afterwards.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// HasBody reports whether the post carries non-blank text or an image.
func (p Post) HasBody() bool {
	return strings.TrimSpace(p.Content) != "" || p.ImageURL != nil
}

// NewPost is the insert payload for a post.
type NewPost struct {
	UserID   string
	Content  string
	ImageURL *string
}

// Row converts the payload into a persistable Post.
func (n NewPost) Row() *Post {
	return &Post{
		UserID:   n.UserID,
		Content:  n.Content,
		ImageURL: n.ImageURL,
	}
}

// PersistentModels returns the schema-managed models in migration order.
func PersistentModels() []interface{} {
	return []interface{}{
		&Profile{},
		&Post{},
	}
}
