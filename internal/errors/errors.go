package errors

import "errors"

// This package defines a centralized set of sentinel errors for the application.
// Services return these (wrapped with fmt.Errorf("%w: ...")) and the API layer
// uses `errors.Is()` to map them onto HTTP responses.

var (
	// ErrNotFound signifies that a requested session, response or conversation
	// could not be located.
	// This is typically mapped to a 404 Not Found HTTP status.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation signifies missing or malformed arguments (empty prompt,
	// missing session id, unknown provider id). It is raised before any
	// network activity takes place.
	// This is typically mapped to a 400 Bad Request HTTP status.
	ErrValidation = errors.New("validation failed")

	// ErrConflict signifies that an operation conflicts with the current state
	// of a session, e.g. retrying a provider whose answer is still streaming.
	// This is typically mapped to a 409 Conflict HTTP status.
	ErrConflict = errors.New("resource conflict")

	// ErrConfiguration signifies that a provider cannot be called because its
	// configuration (usually a credential) is missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrAggregation signifies that the fan-out machinery itself failed, as
	// opposed to an individual provider, whose failures are contained in its
	// own terminal response.
	ErrAggregation = errors.New("fan-out aggregation failed")

	// ErrInternal signifies an unexpected error on the server.
	// This is typically mapped to a 500 Internal Server Error HTTP status.
	ErrInternal = errors.New("internal server error")
)
