package blobstore

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7/pkg/signer"
)

// Signer produces SigV4 query-signed GET URLs.
type Signer struct {
	region string
	ttl    time.Duration
}

// NewSigner returns a Signer whose URLs are valid for ttl.
func NewSigner(region string, ttl time.Duration) (*Signer, error) {
	if ttl < time.Second || ttl > 7*24*time.Hour {
		return nil, fmt.Errorf("signed url ttl %s out of range", ttl)
	}
	if region == "" {
		region = "us-east-1"
	}
	return &Signer{region: region, ttl: ttl}, nil
}

// TTL is the validity window of issued URLs.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Sign returns a time-limited read URL for target.
func (s *Signer) Sign(target *url.URL, cred Credential) (string, error) {
	if target == nil {
		return "", errors.New("sign: nil url")
	}
	if cred.AccessKeyID == "" || cred.SecretAccessKey == "" {
		return "", errors.New("sign: credential is incomplete")
	}
	req, err := http.NewRequest(http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	signed := signer.PreSignV4(*req, cred.AccessKeyID, cred.SecretAccessKey, cred.SessionToken, s.region, int64(s.ttl/time.Second))
	return signed.URL.String(), nil
}
