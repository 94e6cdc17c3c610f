// Package storage provides access to the object store holding dataset files,
// metadata documents and history caches.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ObjectStore is the object-storage surface the service consumes.
type ObjectStore interface {
	// GetJSON fetches an object and decodes it as JSON into out.
	GetJSON(ctx context.Context, bucket, key string, out any) error
	// Put writes body to the given object key.
	Put(ctx context.Context, bucket, key string, body []byte) error
	// ListPrefixes lists the immediate child prefixes under prefix.
	ListPrefixes(ctx context.Context, bucket, prefix string) ([]string, error)
	// PresignGet builds a time-limited download URL for an object. When
	// forceDownload is set the response content type triggers a file download.
	PresignGet(ctx context.Context, bucket, key string, forceDownload bool) (string, error)
}
