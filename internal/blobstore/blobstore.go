// Package blobstore wraps the S3-compatible object store holding one
// container per client identifier.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7/pkg/s3utils"
)

// ErrContainerNotFound is returned when an operation targets a container
// that does not exist.
var ErrContainerNotFound = errors.New("container not found")

// Object describes one stored object.
type Object struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Backend is the object store surface used by the gallery.
type Backend interface {
	EnsureContainer(ctx context.Context, container string) error
	ContainerExists(ctx context.Context, container string) (bool, error)
	PutObject(ctx context.Context, container, object string, data []byte, contentType string) error
	ListObjects(ctx context.Context, container string) ([]Object, error)
	ObjectURL(container, object string) (*url.URL, error)
}

// ContainerName maps a client identifier to its container name. Identifiers
// the store would reject as a bucket name return an error.
func ContainerName(clientID string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(clientID))
	if err := s3utils.CheckValidBucketNameStrict(name); err != nil {
		return "", fmt.Errorf("container name %q: %w", name, err)
	}
	return name, nil
}
