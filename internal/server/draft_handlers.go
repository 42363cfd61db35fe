package server

import (
	"postsync/internal/models"

	"github.com/gofiber/fiber/v2"
)

// SetTextRequest is the body of PUT /api/draft/text.
type SetTextRequest struct {
	Text string `json:"text"`
}

// SetImageRequest is the body of PUT /api/draft/image. A null or empty
// image_url clears the attachment.
type SetImageRequest struct {
	ImageURL *string `json:"image_url"`
}

// GetDraft returns the caller's draft.
func (s *Server) GetDraft(c *fiber.Ctx) error {
	sess, err := s.acquire(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.Draft().State())
}

// SetDraftText replaces the draft text.
func (s *Server) SetDraftText(c *fiber.Ctx) error {
	var req SetTextRequest
	if err := c.BodyParser(&req); err != nil {
		return models.NewValidationError("Invalid request body")
	}

	sess, err := s.acquire(c)
	if err != nil {
		return err
	}
	if err := sess.Draft().SetText(req.Text); err != nil {
		return err
	}
	return c.JSON(sess.Draft().State())
}

// SetDraftImage attaches or clears the draft image reference.
func (s *Server) SetDraftImage(c *fiber.Ctx) error {
	var req SetImageRequest
	if err := c.BodyParser(&req); err != nil {
		return models.NewValidationError("Invalid request body")
	}

	sess, err := s.acquire(c)
	if err != nil {
		return err
	}

	d := sess.Draft()
	if req.ImageURL == nil {
		err = d.ClearImage()
	} else {
		err = d.SetImage(*req.ImageURL)
	}
	if err != nil {
		return err
	}
	return c.JSON(d.State())
}

// SubmitDraft inserts the draft as a new post.
func (s *Server) SubmitDraft(c *fiber.Ctx) error {
	sess, err := s.acquire(c)
	if err != nil {
		return err
	}
	if err := sess.Draft().Submit(requestContext(c)); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(sess.Draft().State())
}

// CancelDraft discards the draft.
func (s *Server) CancelDraft(c *fiber.Ctx) error {
	sess, err := s.acquire(c)
	if err != nil {
		return err
	}
	if err := sess.Draft().Cancel(); err != nil {
		return err
	}
	return c.JSON(sess.Draft().State())
}
