package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes returned to clients.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeState        = "STATE_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeRelationship = "RELATIONSHIP_ERROR"
	CodeStorage      = "STORAGE_UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
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

// NewNotFoundError reports a missing entity or counterpart.
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %v not found", resource, id),
	}
}

// NewValidationError reports malformed or out-of-range input.
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewUnauthorizedError reports a missing or unresolvable caller identity.
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

// NewAuthorizationError reports an actor that is not the required
// sender, receiver or owner of the record.
func NewAuthorizationError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

// NewStateError reports a transition attempted from a state that does not allow it.
func NewStateError(message string) *AppError {
	return &AppError{
		Code:    CodeState,
		Message: message,
	}
}

// NewRelationshipError reports a missing friendship or a conflicting request.
func NewRelationshipError(message string) *AppError {
	return &AppError{
		Code:    CodeRelationship,
		Message: message,
	}
}

// NewStorageError reports that neither backing store could serve the call.
func NewStorageError(err error) *AppError {
	return &AppError{
		Code:    CodeStorage,
		Message: "Storage unavailable",
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// ErrorCode returns the AppError code carried by err, or "" if there is none.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HTTPStatus maps an error to the status code used at the request boundary.
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeForbidden:
		return fiber.StatusForbidden
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeState, CodeRelationship:
		return fiber.StatusConflict
	case CodeStorage:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		// internal causes stay in the logs
		if appErr.Err != nil && appErr.Code != CodeInternal && appErr.Code != CodeStorage {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
