package gallery

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"weather-postcard/internal/blobstore"
	"weather-postcard/internal/postcard"
)

// Retrieval lists a client's stored postcards as signed URLs.
type Retrieval struct {
	backend blobstore.Backend
	creds   blobstore.CredentialSource
	signer  *blobstore.Signer
	logger  *log.Logger
	now     func() time.Time
}

// NewRetrieval returns a Retrieval. A nil logger discards output.
func NewRetrieval(backend blobstore.Backend, creds blobstore.CredentialSource, signer *blobstore.Signer, logger *log.Logger) *Retrieval {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Retrieval{
		backend: backend,
		creds:   creds,
		signer:  signer,
		logger:  logger,
		now:     time.Now,
	}
}

// List returns one signed URL per stored object, in listing order. The
// result is empty when the container exists but holds nothing yet.
//
// Identifiers shorter than postcard.MinClientIDLength fail with
// postcard.ErrInvalidID before storage is touched. Identifiers without a
// container, including those that cannot name one, fail with
// postcard.ErrNotFound.
func (r *Retrieval) List(ctx context.Context, clientID string) ([]postcard.SignedURL, error) {
	if postcard.TooShort(clientID) {
		return nil, &postcard.RetrievalError{Kind: postcard.RetrievalInvalidID, ClientID: clientID}
	}

	container, err := blobstore.ContainerName(clientID)
	if err != nil {
		r.logger.Printf("retrieval rejected unusable id client_id=%s err=%v", clientID, err)
		return nil, &postcard.RetrievalError{Kind: postcard.RetrievalNotFound, ClientID: clientID}
	}

	exists, err := r.backend.ContainerExists(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("check container %s: %w", container, err)
	}
	if !exists {
		return nil, &postcard.RetrievalError{Kind: postcard.RetrievalNotFound, ClientID: clientID}
	}

	objects, err := r.backend.ListObjects(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("list container %s: %w", container, err)
	}

	// One credential signs the whole batch so a rotation mid-list cannot
	// produce a mix.
	cred, err := r.creds.CurrentCredential(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]postcard.SignedURL, 0, len(objects))
	expiresAt := r.now().UTC().Add(r.signer.TTL())

	for _, obj := range objects {
		target, err := r.backend.ObjectURL(container, obj.Name)
		if err != nil {
			return nil, fmt.Errorf("object url %s/%s: %w", container, obj.Name, err)
		}
		signed, err := r.signer.Sign(target, cred)
		if err != nil {
			return nil, fmt.Errorf("sign %s/%s: %w", container, obj.Name, err)
		}
		out = append(out, postcard.SignedURL{ObjectName: obj.Name, URL: signed, ExpiresAt: expiresAt})
	}

	r.logger.Printf("retrieval listed client_id=%s objects=%d", clientID, len(out))
	return out, nil
}
