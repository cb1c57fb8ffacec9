package utils

import (
	"errors"
	"net/http"
)

// StatusError is a custom error type that includes a status code.
type StatusError struct {
	error
	status int
}

// Status returns the status code of the error.
func (se StatusError) Status() int {
	return se.status
}

// Unwrap returns the wrapped error.
func (se StatusError) Unwrap() error {
	return se.error
}

// NewStatusError creates a new StatusError.
func NewStatusError(err error, s int) error {
	return StatusError{error: err, status: s}
}

// StatusOf returns the status code carried by err, or 500.
func StatusOf(err error) int {
	var se StatusError
	if errors.As(err, &se) {
		return se.Status()
	}
	return http.StatusInternalServerError
}

// WriteError writes err as a plain text response. Errors without a status
// are reported as an internal server error without their message.
func WriteError(w http.ResponseWriter, err error) {
	var se StatusError
	if errors.As(err, &se) {
		http.Error(w, err.Error(), se.Status())
		return
	}
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
