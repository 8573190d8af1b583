// Package queue defines the envelopes carried on the fan-out and annotate
// topics and their Kafka framing.
package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"weather-postcard/internal/postcard"
)

// SchemaVersion is the only envelope version this build reads or writes.
const SchemaVersion = "1.0"

// Kind names the payload an envelope carries.
type Kind string

const (
	// KindClientIssued carries a freshly issued client identifier to the
	// fan-out stage.
	KindClientIssued Kind = "client.issued"
	// KindSubJob carries one SubJob to the annotate-and-store stage.
	KindSubJob Kind = "postcard.subjob"
)

// ErrInvalidEnvelope marks messages that can never be processed.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the JSON document written as the Kafka message value.
type Envelope struct {
	SchemaVersion string          `json:"schema_version"`
	MessageID     string          `json:"message_id"`
	Kind          Kind            `json:"kind"`
	ClientID      string          `json:"client_id"`
	SubmittedAt   string          `json:"submitted_at"`
	Payload       json.RawMessage `json:"payload"`
}

// ClientIssuedPayload is the payload of a KindClientIssued envelope.
type ClientIssuedPayload struct {
	ClientID string `json:"client_id"`
}

// NewClientIssued wraps a client identifier for the fan-out topic.
func NewClientIssued(clientID string, now time.Time) (Envelope, error) {
	return newEnvelope(KindClientIssued, clientID, ClientIssuedPayload{ClientID: clientID}, now)
}

// NewSubJob wraps a SubJob for the annotate topic.
func NewSubJob(job postcard.SubJob, now time.Time) (Envelope, error) {
	return newEnvelope(KindSubJob, job.ClientID, job, now)
}

func newEnvelope(kind Kind, clientID string, payload any, now time.Time) (Envelope, error) {
	if strings.TrimSpace(clientID) == "" {
		return Envelope{}, errors.New("client_id is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Envelope{
		SchemaVersion: SchemaVersion,
		MessageID:     uuid.NewString(),
		Kind:          kind,
		ClientID:      clientID,
		SubmittedAt:   now.UTC().Format(time.RFC3339),
		Payload:       raw,
	}, nil
}

// Decode validates and parses an envelope. Every failure wraps
// ErrInvalidEnvelope.
func Decode(raw []byte) (Envelope, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty message payload", ErrInvalidEnvelope)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: decode failed: %v", ErrInvalidEnvelope, err)
	}

	env.SchemaVersion = strings.TrimSpace(env.SchemaVersion)
	env.MessageID = strings.TrimSpace(env.MessageID)
	env.Kind = Kind(strings.ToLower(strings.TrimSpace(string(env.Kind))))
	env.ClientID = strings.TrimSpace(env.ClientID)
	env.SubmittedAt = strings.TrimSpace(env.SubmittedAt)

	switch {
	case env.SchemaVersion != SchemaVersion:
		return Envelope{}, fmt.Errorf("%w: unsupported schema_version %q", ErrInvalidEnvelope, env.SchemaVersion)
	case env.MessageID == "":
		return Envelope{}, fmt.Errorf("%w: message_id is required", ErrInvalidEnvelope)
	case env.Kind != KindClientIssued && env.Kind != KindSubJob:
		return Envelope{}, fmt.Errorf("%w: unsupported kind %q", ErrInvalidEnvelope, env.Kind)
	case env.ClientID == "":
		return Envelope{}, fmt.Errorf("%w: client_id is required", ErrInvalidEnvelope)
	case env.SubmittedAt == "":
		return Envelope{}, fmt.Errorf("%w: submitted_at is required", ErrInvalidEnvelope)
	case len(env.Payload) == 0:
		return Envelope{}, fmt.Errorf("%w: payload is required", ErrInvalidEnvelope)
	}
	if _, err := time.Parse(time.RFC3339, env.SubmittedAt); err != nil {
		return Envelope{}, fmt.Errorf("%w: submitted_at must be RFC3339: %v", ErrInvalidEnvelope, err)
	}
	return env, nil
}

// ClientIssued returns the payload of a KindClientIssued envelope.
func (e Envelope) ClientIssued() (ClientIssuedPayload, error) {
	if e.Kind != KindClientIssued {
		return ClientIssuedPayload{}, fmt.Errorf("%w: kind %q is not %q", ErrInvalidEnvelope, e.Kind, KindClientIssued)
	}
	var p ClientIssuedPayload
	if err := decodeStrict(e.Payload, &p); err != nil {
		return ClientIssuedPayload{}, fmt.Errorf("%w: client.issued payload: %v", ErrInvalidEnvelope, err)
	}
	if p.ClientID != e.ClientID {
		return ClientIssuedPayload{}, fmt.Errorf("%w: payload client_id %q does not match envelope %q", ErrInvalidEnvelope, p.ClientID, e.ClientID)
	}
	return p, nil
}

// SubJob returns the payload of a KindSubJob envelope.
func (e Envelope) SubJob() (postcard.SubJob, error) {
	if e.Kind != KindSubJob {
		return postcard.SubJob{}, fmt.Errorf("%w: kind %q is not %q", ErrInvalidEnvelope, e.Kind, KindSubJob)
	}
	var job postcard.SubJob
	if err := decodeStrict(e.Payload, &job); err != nil {
		return postcard.SubJob{}, fmt.Errorf("%w: subjob payload: %v", ErrInvalidEnvelope, err)
	}
	switch {
	case job.ClientID != e.ClientID:
		return postcard.SubJob{}, fmt.Errorf("%w: payload client_id %q does not match envelope %q", ErrInvalidEnvelope, job.ClientID, e.ClientID)
	case strings.TrimSpace(job.ImageURL) == "":
		return postcard.SubJob{}, fmt.Errorf("%w: image_url is required", ErrInvalidEnvelope)
	case strings.TrimSpace(job.WeatherText) == "":
		return postcard.SubJob{}, fmt.Errorf("%w: weather_text is required", ErrInvalidEnvelope)
	}
	return job, nil
}

// decodeStrict decodes one JSON value and rejects unknown fields and
// trailing tokens.
func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values are not allowed")
	}
	return nil
}
