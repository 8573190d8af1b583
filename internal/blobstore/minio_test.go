package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// s3Stub answers the handful of path-style S3 calls MinioBackend makes.
type s3Stub struct {
	mu       sync.Mutex
	buckets  map[string][]string
	makeCode string
	makes    int
}

func newS3Stub() *s3Stub {
	return &s3Stub{buckets: map[string][]string{}}
}

func (s *s3Stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	bucket, object, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	objects, exists := s.buckets[bucket]

	switch {
	case r.Method == http.MethodHead && object == "":
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && object == "":
		s.makes++
		if s.makeCode != "" {
			writeS3Error(w, http.StatusConflict, s.makeCode, bucket)
			return
		}
		s.buckets[bucket] = nil
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		if !exists {
			writeS3Error(w, http.StatusNotFound, codeNoSuchBucket, bucket)
			return
		}
		s.buckets[bucket] = append(objects, object)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && object == "" && r.URL.Query().Get("list-type") == "2":
		if !exists {
			writeS3Error(w, http.StatusNotFound, codeNoSuchBucket, bucket)
			return
		}
		var b strings.Builder
		fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>%s</Name><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>`, bucket, len(objects))
		for _, key := range objects {
			fmt.Fprintf(&b, `<Contents><Key>%s</Key><LastModified>2024-03-01T12:00:00.000Z</LastModified><ETag>"d41d8cd98f00b204e9800998ecf8427e"</ETag><Size>4</Size><StorageClass>STANDARD</StorageClass></Contents>`, key)
		}
		b.WriteString(`</ListBucketResult>`)
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, b.String())
	default:
		writeS3Error(w, http.StatusNotImplemented, "NotImplemented", bucket)
	}
}

func (s *s3Stub) makeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.makes
}

func writeS3Error(w http.ResponseWriter, status int, code, bucket string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><BucketName>%s</BucketName><RequestId>stub</RequestId></Error>`, code, code, bucket)
}

func newStubBackend(t *testing.T, stub *s3Stub) *MinioBackend {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	backend, err := NewMinioBackend(MinioConfig{
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		Region:   "us-east-1",
	}, NewStaticCredentials("access", "secret").Credentials(), nil)
	require.NoError(t, err)
	return backend
}

func TestMinioBackendEnsureContainer(t *testing.T) {
	t.Parallel()

	stub := newS3Stub()
	backend := newStubBackend(t, stub)
	ctx := context.Background()

	require.NoError(t, backend.EnsureContainer(ctx, "c1-client"))
	require.NoError(t, backend.EnsureContainer(ctx, "c1-client"))
	assert.Equal(t, 1, stub.makeCalls())

	exists, err := backend.ContainerExists(ctx, "c1-client")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = backend.ContainerExists(ctx, "nobody-here")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMinioBackendEnsureContainerToleratesConcurrentCreate(t *testing.T) {
	t.Parallel()

	stub := newS3Stub()
	stub.makeCode = codeBucketAlreadyOwnedByYou
	backend := newStubBackend(t, stub)

	assert.NoError(t, backend.EnsureContainer(context.Background(), "c1-client"))
	assert.Equal(t, 1, stub.makeCalls())
}

func TestMinioBackendEnsureContainerReportsForeignBucket(t *testing.T) {
	t.Parallel()

	stub := newS3Stub()
	stub.makeCode = "BucketAlreadyExists"
	backend := newStubBackend(t, stub)

	err := backend.EnsureContainer(context.Background(), "c1-client")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrContainerNotFound)
}

func TestMinioBackendMissingBucketMapsToContainerNotFound(t *testing.T) {
	t.Parallel()

	backend := newStubBackend(t, newS3Stub())
	ctx := context.Background()

	err := backend.PutObject(ctx, "c1-client", "one.png", []byte("png!"), "image/png")
	assert.ErrorIs(t, err, ErrContainerNotFound)

	_, err = backend.ListObjects(ctx, "c1-client")
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestMinioBackendPutAndList(t *testing.T) {
	t.Parallel()

	stub := newS3Stub()
	backend := newStubBackend(t, stub)
	ctx := context.Background()

	require.NoError(t, backend.EnsureContainer(ctx, "c1-client"))
	require.NoError(t, backend.PutObject(ctx, "c1-client", "one.png", []byte("png!"), "image/png"))
	require.NoError(t, backend.PutObject(ctx, "c1-client", "two.png", []byte("png!"), "image/png"))

	objects, err := backend.ListObjects(ctx, "c1-client")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "one.png", objects[0].Name)
	assert.Equal(t, "two.png", objects[1].Name)
	assert.Equal(t, int64(4), objects[0].Size)
}
