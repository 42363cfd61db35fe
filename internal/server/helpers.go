package server

import (
	"context"
	"errors"

	"postsync/internal/draft"
	"postsync/internal/feed"
	"postsync/internal/models"
	"postsync/internal/observability"
	"postsync/internal/session"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case models.CodeValidation:
			return fiber.StatusBadRequest
		case models.CodeSubmitInProgress:
			return fiber.StatusConflict
		case models.CodeStoreQuery, models.CodeStoreWrite:
			return fiber.StatusBadGateway
		case models.CodeSubscription:
			return fiber.StatusServiceUnavailable
		case models.CodeNotFound:
			return fiber.StatusNotFound
		}
		return fiber.StatusInternalServerError
	}

	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, session.ErrRegistryFull):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, feed.ErrDisposed), errors.Is(err, draft.ErrClosed):
		return fiber.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

// respondWithError writes the standard error payload.
func respondWithError(c *fiber.Ctx, status int, err error) error {
	var response models.ErrorResponse
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		response = appErr.Response()
	} else {
		response = models.ErrorResponse{Error: err.Error()}
	}
	return c.Status(status).JSON(response)
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		observability.Logger.ErrorContext(c.UserContext(), "request error",
			"path", c.Path(), "error", err.Error())
	}
	return respondWithError(c, status, err)
}

// acquire returns the caller's mounted session, mounting it on first use.
func (s *Server) acquire(c *fiber.Ctx) (*session.Session, error) {
	return s.sessions.Acquire(requestContext(c), userID(c))
}
