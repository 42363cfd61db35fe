// Package picker selects images to attach to a draft.
package picker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoSelection means the user dismissed the picker without choosing.
	ErrNoSelection = errors.New("no image selected")
	// ErrUnavailable means image selection is not supported on this platform.
	ErrUnavailable = errors.New("image selection unavailable")
)

// Picker returns an opaque reference to a user-selected image.
type Picker interface {
	Pick(ctx context.Context) (string, error)
}

// Func adapts a function to Picker.
type Func func(ctx context.Context) (string, error)

// Pick implements Picker.
func (f Func) Pick(ctx context.Context) (string, error) { return f(ctx) }

type unavailable struct{}

func (unavailable) Pick(context.Context) (string, error) { return "", ErrUnavailable }

// Unavailable is the picker for surfaces that cannot select images.
var Unavailable Picker = unavailable{}

// FilePicker asks for a local file path and returns it as a file:// URI.
type FilePicker struct {
	// Ask returns the user's answer; an empty answer means no selection.
	Ask func(ctx context.Context) (string, error)
}

// Path returns a FilePicker that always answers path.
func Path(path string) FilePicker {
	return FilePicker{Ask: func(context.Context) (string, error) { return path, nil }}
}

// Pick implements Picker.
func (p FilePicker) Pick(ctx context.Context) (string, error) {
	if p.Ask == nil {
		return "", ErrUnavailable
	}
	answer, err := p.Ask(ctx)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ErrNoSelection
	}

	abs, err := filepath.Abs(answer)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", answer, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("open image: %s is a directory", abs)
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}
