// Package gallery stores annotated postcards in per-client containers and
// hands out time-limited links to them.
package gallery

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/google/uuid"

	"weather-postcard/internal/blobstore"
	"weather-postcard/internal/postcard"
)

const pngContentType = "image/png"

// Writer creates client containers and writes postcard images into them.
type Writer struct {
	backend blobstore.Backend
	logger  *log.Logger
	newName func() string
}

// NewWriter returns a Writer on backend. A nil logger discards output.
func NewWriter(backend blobstore.Backend, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Writer{
		backend: backend,
		logger:  logger,
		newName: func() string { return uuid.NewString() + ".png" },
	}
}

// EnsureContainer creates the container for clientID. Calling it again for
// the same client is a no-op.
func (w *Writer) EnsureContainer(ctx context.Context, clientID string) error {
	container, err := blobstore.ContainerName(clientID)
	if err != nil {
		return err
	}
	return w.backend.EnsureContainer(ctx, container)
}

// Store writes png under a fresh unique object name in the client's
// container and returns that name. The container must already exist.
func (w *Writer) Store(ctx context.Context, clientID string, png []byte) (string, error) {
	container, err := blobstore.ContainerName(clientID)
	if err != nil {
		return "", &postcard.StoreError{Kind: postcard.StoreContainerMissing, Container: clientID, Err: err}
	}

	exists, err := w.backend.ContainerExists(ctx, container)
	if err != nil {
		return "", &postcard.StoreError{Kind: postcard.StoreWriteFailed, Container: container, Err: err}
	}
	if !exists {
		return "", &postcard.StoreError{Kind: postcard.StoreContainerMissing, Container: container, Err: blobstore.ErrContainerNotFound}
	}

	name := w.newName()
	if err := w.backend.PutObject(ctx, container, name, png, pngContentType); err != nil {
		kind := postcard.StoreWriteFailed
		if errors.Is(err, blobstore.ErrContainerNotFound) {
			kind = postcard.StoreContainerMissing
		}
		return "", &postcard.StoreError{Kind: kind, Container: container, Object: name, Err: err}
	}

	w.logger.Printf("postcard stored container=%s object=%s bytes=%d", container, name, len(png))
	return name, nil
}
