// Command seed writes demo profiles and posts through the store.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"postsync/internal/bootstrap"
	"postsync/internal/config"
	"postsync/internal/seed"
)

func main() {
	numProfiles := flag.Int("profiles", 5, "Number of profiles to create")
	numPosts := flag.Int("posts", 10, "Number of posts per profile")
	preset := flag.String("preset", "", "Built-in preset name or path to a preset YAML file ("+strings.Join(seed.BuiltinPresets(), ", ")+")")
	seedValue := flag.Int64("seed", time.Now().UnixNano(), "Random seed for generated content")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialise: %v", err)
	}
	defer func() { _ = app.Close(ctx) }()

	var p *seed.Preset
	if *preset != "" {
		log.Printf("Applying preset: %s (ignoring other flags)", *preset)
		if p, err = seed.LoadPreset(*preset); err != nil {
			log.Fatalf("Preset load failed: %v", err)
		}
	} else {
		log.Printf("Target: %d profiles, %d posts each", *numProfiles, *numPosts)
		p = seed.RandomPreset(*numProfiles, *numPosts)
	}

	s := seed.NewSeeder(app.Profiles, app.Store, *seedValue)
	res, err := s.Apply(ctx, p)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	for _, profile := range res.Profiles {
		log.Printf("  %s  %s", profile.ID, profile.FullName)
	}
	log.Printf("Seeded %d profiles and %d posts over %s", len(res.Profiles), res.Posts, app.Store.Transport())
}
