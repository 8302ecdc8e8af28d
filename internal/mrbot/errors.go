package mrbot

import (
	"errors"
	"fmt"
)

// ErrUnknownService is returned when a service name has no catalog entry.
var ErrUnknownService = errors.New("unknown service")

// ErrorClass classifies outbound request failures for logging and metrics.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents connection and timeout failures.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError describes a failed call to the Mr. Bot API.
type APIError struct {
	Endpoint   string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mrbot %s error (status %d) on %s: %s: %v",
			e.Class, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("mrbot %s error (status %d) on %s: %s",
		e.Class, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status to an error class. Zero means the
// request never reached the server.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 0:
		return ErrorClassNetwork
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
