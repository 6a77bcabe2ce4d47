package vipps

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid provider configuration. It is only returned
// at setup time from New, never from the per-request pipeline.
type ConfigError struct {
	// Field is the configuration field that failed validation, when a single
	// field can be named.
	Field string

	// Reason is a human-readable description of the failure.
	Reason string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("vipps config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("vipps config: %s", e.Reason)
}

// newConfigError creates a new ConfigError for a named field
func newConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// APIError reports a failure talking to the Vipps API during the userinfo
// pipeline: a non-2xx response from the discovery or userinfo endpoint, or an
// unexpected transport-level failure wrapped for the caller.
//
// A schema-invalid 2xx payload is not an APIError; the pipeline reports it as
// a nil profile instead.
type APIError struct {
	// Description is a human-readable description of the failure.
	Description string

	// Status is the HTTP status code of the failing response, or zero when
	// no HTTP status applies (e.g. a transport failure).
	Status int

	// Details carries optional structured context such as the request URL
	// and response body.
	Details any

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("vipps api: %s (status %d)", e.Description, e.Status)
	}
	return fmt.Sprintf("vipps api: %s", e.Description)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains
func (e *APIError) Unwrap() error {
	return e.Err
}

// newAPIError creates a new APIError with an HTTP status and optional details
func newAPIError(description string, status int, details any) *APIError {
	return &APIError{
		Description: description,
		Status:      status,
		Details:     details,
	}
}

// wrapAPIError returns err unchanged when it already is an *APIError and
// wraps anything else so the pipeline only ever surfaces typed errors.
func wrapAPIError(err error, description string) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return &APIError{
		Description: fmt.Sprintf("%s: %s", description, err.Error()),
		Err:         err,
	}
}
