package storage

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidKey is returned for keys that escape the storage root or are not job ids
var ErrInvalidKey = errors.New("invalid storage key")

// Reader provides read access to stored artifacts
type Reader interface {
	// GetReader returns a reader for the artifact at the given key
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an artifact exists at the given key
	Exists(ctx context.Context, key string) (bool, error)
}
