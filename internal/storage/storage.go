// Package storage holds original uploads and transformed results.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for keys that hold no object.
var ErrNotFound = errors.New("storage: object not found")

// ObjectStore is the key/value contract used by the engine and the
// retention sweeper. Delete of a missing key succeeds.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}
