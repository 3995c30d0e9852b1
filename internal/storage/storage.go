// Package storage provides the object storage abstraction export archives
// are written to.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidPath    = errors.New("invalid object path")
	ErrUploadFailed   = errors.New("upload failed")
)

// Body is an upload source. It must be readable at arbitrary offsets so
// large bodies can be split into parts and retried uploads can rewind.
// *os.File and *bytes.Reader satisfy it.
type Body interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put stores size bytes of body at objectPath and returns the ETag.
	// Bodies larger than the part size are uploaded in parts.
	Put(ctx context.Context, objectPath string, body Body, size int64) (string, error)

	// Get opens the object for reading. The caller closes the reader.
	Get(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// List returns the objects under prefix ordered by path.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 5MB).
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 5 * 1024 * 1024, // 5MB, the S3 minimum
	}
}
