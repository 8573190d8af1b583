package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Credential is the key material used to sign one batch of URLs.
type Credential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// CredentialSource yields the credential currently in force. Implementations
// may rotate credentials between calls.
type CredentialSource interface {
	CurrentCredential(ctx context.Context) (Credential, error)
}

// ProviderCredentials adapts a minio credentials chain to CredentialSource.
type ProviderCredentials struct {
	creds *credentials.Credentials
}

// NewStaticCredentials returns fixed access keys.
func NewStaticCredentials(accessKeyID, secretAccessKey string) *ProviderCredentials {
	return &ProviderCredentials{creds: credentials.NewStaticV4(accessKeyID, secretAccessKey, "")}
}

// NewIAMCredentials fetches rotating credentials from the instance metadata
// endpoint. An empty endpoint uses the default.
func NewIAMCredentials(endpoint string) *ProviderCredentials {
	return &ProviderCredentials{creds: credentials.NewIAM(endpoint)}
}

// Credentials returns the underlying chain for use by the storage client.
func (p *ProviderCredentials) Credentials() *credentials.Credentials {
	return p.creds
}

// CurrentCredential returns the current value, refreshing it if expired.
func (p *ProviderCredentials) CurrentCredential(ctx context.Context) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	v, err := p.creds.Get()
	if err != nil {
		return Credential{}, fmt.Errorf("resolve storage credential: %w", err)
	}
	if v.AccessKeyID == "" || v.SecretAccessKey == "" {
		return Credential{}, errors.New("resolve storage credential: empty key material")
	}
	return Credential{
		AccessKeyID:     v.AccessKeyID,
		SecretAccessKey: v.SecretAccessKey,
		SessionToken:    v.SessionToken,
	}, nil
}

// NewCredentialSource picks the credential chain named by kind: "static"
// needs both keys, "iam" reads the metadata endpoint.
func NewCredentialSource(kind, accessKeyID, secretAccessKey, iamEndpoint string) (*ProviderCredentials, error) {
	switch kind {
	case "static":
		if accessKeyID == "" || secretAccessKey == "" {
			return nil, errors.New("STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required for static credentials")
		}
		return NewStaticCredentials(accessKeyID, secretAccessKey), nil
	case "iam":
		return NewIAMCredentials(iamEndpoint), nil
	default:
		return nil, fmt.Errorf("unsupported STORAGE_CREDENTIALS value: %s", kind)
	}
}
