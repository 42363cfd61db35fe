// Command feedcli mounts one user's feed in the terminal.
//
// Lines typed become the draft text. Commands:
//
//	/post          submit the draft
//	/image [path]  attach an image file
//	/noimage       remove the attached image
//	/cancel        discard the draft
//	/refresh       re-query the feed
//	/quit          sign out and exit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"postsync/internal/bootstrap"
	"postsync/internal/config"
)

func main() {
	userFlag := flag.String("user", "", "User id whose feed to open (defaults to USER_ID)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	ownerID := cfg.UserID
	if *userFlag != "" {
		ownerID = *userFlag
	}
	if ownerID == "" {
		log.Fatal("USER_ID or -user is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialise: %v", err)
	}
	defer func() { _ = app.Close(context.Background()) }()

	images := &pathPicker{}
	sess, err := app.OpenSession(ctx, ownerID, images)
	if err != nil {
		log.Fatalf("Failed to open feed: %v", err)
	}
	defer sess.Close()

	r := newRenderer(os.Stdout)
	go r.follow(ctx, sess)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	c := &commands{sess: sess, images: images, out: os.Stdout}
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := c.run(ctx, line)
			if err != nil {
				fmt.Fprintf(os.Stdout, "! %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}
