package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	codeNoSuchBucket            = "NoSuchBucket"
	codeBucketAlreadyOwnedByYou = "BucketAlreadyOwnedByYou"
)

// MinioConfig configures a MinIO/S3 backend.
type MinioConfig struct {
	Endpoint string
	UseSSL   bool
	Region   string
}

// MinioBackend implements Backend on any S3-compatible endpoint.
type MinioBackend struct {
	client *minio.Client
	region string
	logger *log.Logger
}

// NewMinioBackend creates a client authenticated with creds. It does not
// contact the store.
func NewMinioBackend(cfg MinioConfig, creds *credentials.Credentials, logger *log.Logger) (*MinioBackend, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("storage endpoint is required")
	}
	if creds == nil {
		return nil, errors.New("storage credentials are required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioBackend{client: client, region: cfg.Region, logger: logger}, nil
}

// EnsureContainer creates the container unless it already exists.
func (m *MinioBackend) EnsureContainer(ctx context.Context, container string) error {
	exists, err := m.client.BucketExists(ctx, container)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", container, err)
	}
	if exists {
		return nil
	}
	err = m.client.MakeBucket(ctx, container, minio.MakeBucketOptions{Region: m.region})
	if err != nil {
		if minio.ToErrorResponse(err).Code == codeBucketAlreadyOwnedByYou {
			return nil
		}
		return fmt.Errorf("create bucket %q: %w", container, err)
	}
	m.logger.Printf("storage bucket created bucket=%s", container)
	return nil
}

// ContainerExists reports whether the container exists.
func (m *MinioBackend) ContainerExists(ctx context.Context, container string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, container)
	if err != nil {
		return false, fmt.Errorf("check bucket %q: %w", container, err)
	}
	return exists, nil
}

// PutObject writes data under container/object.
func (m *MinioBackend) PutObject(ctx context.Context, container, object string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, container, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		if minio.ToErrorResponse(err).Code == codeNoSuchBucket {
			return fmt.Errorf("put object %q: %w", object, ErrContainerNotFound)
		}
		return fmt.Errorf("put object %q: %w", object, err)
	}
	return nil
}

// ListObjects returns every object in the container in store listing order.
func (m *MinioBackend) ListObjects(ctx context.Context, container string) ([]Object, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []Object
	for info := range m.client.ListObjects(ctx, container, minio.ListObjectsOptions{Recursive: true}) {
		if info.Err != nil {
			if minio.ToErrorResponse(info.Err).Code == codeNoSuchBucket {
				return nil, fmt.Errorf("list bucket %q: %w", container, ErrContainerNotFound)
			}
			return nil, fmt.Errorf("list bucket %q: %w", container, info.Err)
		}
		objects = append(objects, Object{
			Name:         info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	return objects, nil
}

// ObjectURL returns the unsigned path-style URL of an object.
func (m *MinioBackend) ObjectURL(container, object string) (*url.URL, error) {
	endpoint := m.client.EndpointURL()
	if endpoint == nil {
		return nil, errors.New("storage endpoint url unavailable")
	}
	return &url.URL{
		Scheme: endpoint.Scheme,
		Host:   endpoint.Host,
		Path:   "/" + container + "/" + object,
	}, nil
}

// Ping checks that the store answers authenticated requests.
func (m *MinioBackend) Ping(ctx context.Context) error {
	_, err := m.client.ListBuckets(ctx)
	return err
}
