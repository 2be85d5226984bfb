package errors

import "errors"

// Document errors.
var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrResolutionLocked   = errors.New("resolution locked by global override")
	ErrAlreadyRunning     = errors.New("synchronization already running")
	ErrUnsupportedAction  = errors.New("unsupported action")
	ErrInvalidFormToken   = errors.New("invalid or expired form token")
	ErrMissingDocumentArg = errors.New("missing document names")
)

// Server/transport errors.
var (
	ErrEndpointRequest  = errors.New("endpoint request failed")
	ErrEndpointResponse = errors.New("unexpected endpoint response")
	ErrSchemaMismatch   = errors.New("response does not match any known schema")
)
