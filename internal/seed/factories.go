// Package seed creates demo profiles and posts. Posts are written through the
// store so every open session sees them arrive.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"postsync/internal/models"
	"postsync/internal/observability"
	"postsync/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
)

// PostWriter inserts posts. store.Remote satisfies it.
type PostWriter interface {
	Insert(ctx context.Context, in models.NewPost) (*models.Post, error)
}

// Result summarises a seeding run.
type Result struct {
	Profiles []models.Profile
	Posts    int
}

// Seeder builds entities with gofakeit and persists them.
type Seeder struct {
	profiles repository.ProfileRepository
	posts    PostWriter
	faker    *gofakeit.Faker
	log      *slog.Logger
}

// NewSeeder creates a seeder. The same seed produces the same content.
func NewSeeder(profiles repository.ProfileRepository, posts PostWriter, seed int64) *Seeder {
	return &Seeder{
		profiles: profiles,
		posts:    posts,
		faker:    gofakeit.New(seed),
		log:      observability.Logger.With("component", "seed"),
	}
}

// BuildProfile constructs a profile from spec, generating blank fields.
func (s *Seeder) BuildProfile(spec ProfileSpec) *models.Profile {
	p := &models.Profile{
		ID:       spec.ID,
		FullName: spec.FullName,
		Email:    spec.Email,
	}
	if p.FullName == "" {
		p.FullName = s.faker.Name()
	}
	if p.Email == "" {
		p.Email = fmt.Sprintf("%s.%d@%s",
			strings.ToLower(s.faker.Username()), s.faker.Number(100, 999), s.faker.DomainName())
	}
	avatar := spec.AvatarURL
	if avatar == "" {
		avatar = fmt.Sprintf("https://i.pravatar.cc/150?u=%s", s.faker.UUID())
	}
	p.AvatarURL = &avatar
	return p
}

// BuildPost constructs the insert payload for one post. A non-empty content
// is used as is; otherwise a paragraph is generated.
func (s *Seeder) BuildPost(ownerID, content string, imageRatio float64) models.NewPost {
	in := models.NewPost{UserID: ownerID, Content: content}
	if in.Content == "" {
		in.Content = s.faker.Paragraph(1, s.faker.Number(1, 3), 8, " ")
	}
	if imageRatio > 0 && s.faker.Float64Range(0, 1) < imageRatio {
		url := fmt.Sprintf("https://picsum.photos/seed/%s/800/800", s.faker.UUID())
		in.ImageURL = &url
	}
	return in
}

// Apply creates every profile of the preset that does not exist yet, then
// inserts its posts.
func (s *Seeder) Apply(ctx context.Context, preset *Preset) (*Result, error) {
	if err := preset.Validate(); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, spec := range preset.Profiles {
		profile, err := s.ensureProfile(ctx, spec)
		if err != nil {
			return res, err
		}
		res.Profiles = append(res.Profiles, *profile)

		for i := 0; i < spec.Posts; i++ {
			content := ""
			if i < len(spec.Contents) {
				content = spec.Contents[i]
			}
			if _, err := s.posts.Insert(ctx, s.BuildPost(profile.ID, content, spec.ImageRatio)); err != nil {
				return res, fmt.Errorf("insert post for %s: %w", profile.ID, err)
			}
			res.Posts++
		}
		s.log.InfoContext(ctx, "profile seeded", "user_id", profile.ID, "posts", spec.Posts)
	}
	return res, nil
}

func (s *Seeder) ensureProfile(ctx context.Context, spec ProfileSpec) (*models.Profile, error) {
	if spec.ID != "" {
		existing, err := s.profiles.GetByID(ctx, spec.ID)
		if err == nil {
			return existing, nil
		}
		if !models.HasCode(err, models.CodeNotFound) {
			return nil, fmt.Errorf("look up profile %s: %w", spec.ID, err)
		}
	}

	profile := s.BuildProfile(spec)
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return profile, nil
}
