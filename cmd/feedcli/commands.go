package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"postsync/internal/picker"
	"postsync/internal/session"
)

// pathPicker answers the next pick with the path given to /image.
type pathPicker struct {
	mu   sync.Mutex
	next string
}

func (p *pathPicker) set(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = path
}

func (p *pathPicker) Pick(ctx context.Context) (string, error) {
	p.mu.Lock()
	path := p.next
	p.next = ""
	p.mu.Unlock()

	return picker.FilePicker{Ask: func(context.Context) (string, error) { return path, nil }}.Pick(ctx)
}

type commands struct {
	sess   *session.Session
	images *pathPicker
	out    io.Writer
}

// run executes one input line and reports whether the user quit.
func (c *commands) run(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, c.sess.Draft().SetText(line)
	}

	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/post":
		// Outcome is rendered from the draft state.
		go func() { _ = c.sess.Draft().Submit(ctx) }()
		return false, nil
	case "/image":
		c.images.set(arg)
		return false, c.sess.Draft().PickImage(ctx)
	case "/noimage":
		return false, c.sess.Draft().ClearImage()
	case "/cancel":
		return false, c.sess.Draft().Cancel()
	case "/refresh":
		c.sess.Feed().Refresh()
		return false, nil
	case "/quit":
		c.sess.Close()
		return true, nil
	}
	fmt.Fprintf(c.out, "unknown command %s\n", cmd)
	return false, nil
}
