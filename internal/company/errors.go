package company

import "errors"

// Error kinds returned by pipeline stages. Stages wrap these so callers classify with errors.Is.
var (
	// ErrInvalidURL rejects a website without an http or https scheme.
	ErrInvalidURL = errors.New("invalid website url")
	// ErrNavigation means the page could not be loaded in time.
	ErrNavigation = errors.New("navigation failed")
	// ErrRead means the page loaded but its content could not be read.
	ErrRead = errors.New("read page content failed")
	// ErrExtraction covers every structured extraction failure.
	ErrExtraction = errors.New("structured extraction failed")
	// ErrModelService means the language model call itself failed.
	ErrModelService = errors.New("model service failed")
	// ErrModelResponse means the model answered with something other than the expected JSON.
	ErrModelResponse = errors.New("model response malformed")
	// ErrNotFound is returned when an update matched no row.
	ErrNotFound = errors.New("record not found")
)
