package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// readyWait bounds how long GET /feed?wait=true blocks on the first load.
const readyWait = 10 * time.Second

// GetFeed returns the caller's current feed snapshot. With ?wait=true it
// blocks until the initial load has settled.
func (s *Server) GetFeed(c *fiber.Ctx) error {
	sess, err := s.acquire(c)
	if err != nil {
		return err
	}

	if c.QueryBool("wait") {
		ctx, cancel := context.WithTimeout(requestContext(c), readyWait)
		defer cancel()
		// A failed load is reported inside the snapshot.
		if err := sess.WaitReady(ctx); err != nil && ctx.Err() != nil {
			return err
		}
	}

	return c.JSON(sess.Feed().Snapshot())
}

// RefreshFeed re-queries the store. By default it waits for a query that
// covers this request and returns the resulting snapshot; ?async=true only
// schedules the refresh and answers 202 with its ticket.
func (s *Server) RefreshFeed(c *fiber.Ctx) error {
	sess, err := s.acquire(c)
	if err != nil {
		return err
	}

	if c.QueryBool("async") {
		ticket := sess.Feed().Refresh()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ticket": ticket})
	}

	if err := sess.Feed().Load(requestContext(c)); err != nil {
		return err
	}
	return c.JSON(sess.Feed().Snapshot())
}

// CloseSession unmounts the caller's feed and draft.
func (s *Server) CloseSession(c *fiber.Ctx) error {
	if !s.sessions.Release(userID(c)) {
		return fiber.NewError(fiber.StatusNotFound, "no active session")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
