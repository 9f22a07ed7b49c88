// Package media stores user attachments in a blob storage provider.
package media

import (
	"context"
	"io"
	"time"
)

// Asset is a stored attachment.
type Asset struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	ContentHash  string    `json:"content_hash"`
	Mime         string    `json:"mime"`
	SizeBytes    int64     `json:"size_bytes"`
	StorageKey   string    `json:"storage_key"`
	OriginalName string    `json:"original_name,omitempty"`
	URL          string    `json:"url"`
	CreatedAt    time.Time `json:"created_at"`
}

// IngestInput carries the data needed to store a new attachment.
type IngestInput struct {
	// OwnerID scopes the storage key, typically the user key.
	OwnerID      string
	Mime         string
	OriginalName string
	// Reader provides the raw bytes; caller is responsible for closing.
	Reader io.Reader
	// MaxBytes optionally overrides MaxAssetBytes.
	MaxBytes int64
}

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// AccessPath returns a consumer-accessible reference for a storage key.
	// The format depends on the backend (public URL, gs:// reference).
	AccessPath(key string) string
}
