package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique, machine-checkable error kind
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
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

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrValidation
	ErrUnauthorized
	ErrForbidden
	ErrSlotConflict
	ErrIllegalTransition
	ErrFutureCompletion
	ErrInternal
)

// Error constructors
func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    ErrUnauthorized,
		Message: message,
	}
}

// Authorization reports a role or ownership mismatch on a protected resource.
func Authorization(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

// SlotConflict reports that a (practitioner, date, time) triple is already
// held by an active booking.
func SlotConflict(err error) *AppError {
	return &AppError{
		Code:    ErrSlotConflict,
		Message: "slot is already booked",
		Err:     err,
	}
}

// IllegalTransition reports a status change outside the transition table.
func IllegalTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrIllegalTransition,
		Message: fmt.Sprintf("illegal status transition from %s to %s", from, to),
	}
}

// FutureCompletionDenied reports an attempt to complete an appointment whose
// date is still in the future.
func FutureCompletionDenied() *AppError {
	return &AppError{
		Code:    ErrFutureCompletion,
		Message: "appointment cannot be completed before its scheduled date",
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// CodeOf returns the ErrorCode carried by err, or ErrInternal when err is not
// an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
