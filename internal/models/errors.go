package models

import (
	"errors"
	"fmt"
)

// Error codes carried by AppError.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeStoreQuery       = "STORE_QUERY_ERROR"
	CodeStoreWrite       = "STORE_WRITE_ERROR"
	CodeSubscription     = "SUBSCRIPTION_ERROR"
	CodeSubmitInProgress = "SUBMIT_IN_PROGRESS"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Response renders the error as an API payload.
func (e *AppError) Response() ErrorResponse {
	resp := ErrorResponse{Error: e.Message, Code: e.Code}
	if e.Err != nil {
		resp.Details = e.Err.Error()
	}
	return resp
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewStoreQueryError wraps a failed load or refresh.
func NewStoreQueryError(err error) *AppError {
	return &AppError{
		Code:    CodeStoreQuery,
		Message: "Failed to load posts",
		Err:     err,
	}
}

// NewStoreWriteError wraps a failed insert. The message is the store's own
// message so it can be shown to the user as-is.
func NewStoreWriteError(err error) *AppError {
	msg := "Failed to create post"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &AppError{
		Code:    CodeStoreWrite,
		Message: msg,
		Err:     err,
	}
}

// NewSubscriptionError wraps a live channel that failed or dropped.
func NewSubscriptionError(err error) *AppError {
	return &AppError{
		Code:    CodeSubscription,
		Message: "Live updates unavailable",
		Err:     err,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    CodeSubmitInProgress,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
