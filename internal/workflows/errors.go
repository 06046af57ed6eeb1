package workflows

import "errors"

var (
	// ErrNoImage is returned when the request carries no readable image
	ErrNoImage = errors.New("no image provided")

	// ErrDetectionFailed is returned when the detection service call fails
	ErrDetectionFailed = errors.New("product detection failed")

	// ErrPersistFailed is returned when the product list cannot be written
	ErrPersistFailed = errors.New("failed to persist results")

	// ErrEncodeFailed is returned when the annotated image cannot be encoded
	ErrEncodeFailed = errors.New("failed to encode annotated image")
)
