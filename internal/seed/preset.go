package seed

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed presets/*.yml
var builtin embed.FS

// Preset describes the profiles and posts one seeding run creates.
type Preset struct {
	Name     string        `yaml:"name"`
	Profiles []ProfileSpec `yaml:"profiles"`
}

// ProfileSpec describes one profile. Blank fields are generated.
type ProfileSpec struct {
	ID         string   `yaml:"id"`
	FullName   string   `yaml:"full_name"`
	Email      string   `yaml:"email"`
	AvatarURL  string   `yaml:"avatar_url"`
	Posts      int      `yaml:"posts"`
	ImageRatio float64  `yaml:"image_ratio"`
	Contents   []string `yaml:"contents"`
}

// Validate checks counts and ratios.
func (p *Preset) Validate() error {
	if len(p.Profiles) == 0 {
		return errors.New("preset has no profiles")
	}
	for i, spec := range p.Profiles {
		if spec.Posts < 0 {
			return fmt.Errorf("profile %d: posts must not be negative", i)
		}
		if spec.ImageRatio < 0 || spec.ImageRatio > 1 {
			return fmt.Errorf("profile %d: image_ratio must be between 0 and 1", i)
		}
		if len(spec.Contents) > spec.Posts {
			return fmt.Errorf("profile %d: %d contents for %d posts", i, len(spec.Contents), spec.Posts)
		}
	}
	return nil
}

// TotalPosts is the number of posts the preset creates.
func (p *Preset) TotalPosts() int {
	n := 0
	for _, spec := range p.Profiles {
		n += spec.Posts
	}
	return n
}

// ParsePreset decodes and validates a YAML preset.
func ParsePreset(raw []byte) (*Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode preset: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("preset %q: %w", p.Name, err)
	}
	return &p, nil
}

// LoadPreset resolves name as a built-in preset first, then as a file path.
func LoadPreset(name string) (*Preset, error) {
	if raw, err := builtin.ReadFile(path.Join("presets", name+".yml")); err == nil {
		return ParsePreset(raw)
	}
	raw, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("unknown preset %q (built-in: %s): %w", name, strings.Join(BuiltinPresets(), ", "), err)
	}
	return ParsePreset(raw)
}

// BuiltinPresets lists the embedded preset names.
func BuiltinPresets() []string {
	entries, _ := builtin.ReadDir("presets")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yml"))
	}
	sort.Strings(names)
	return names
}

// RandomPreset builds a preset of fully generated profiles.
func RandomPreset(profiles, postsPerProfile int) *Preset {
	p := &Preset{Name: "random", Profiles: make([]ProfileSpec, profiles)}
	for i := range p.Profiles {
		p.Profiles[i] = ProfileSpec{Posts: postsPerProfile, ImageRatio: 0.3}
	}
	return p
}
