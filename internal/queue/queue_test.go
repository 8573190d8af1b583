package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-postcard/internal/postcard"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSubJobRoundTripThroughKafkaMessage(t *testing.T) {
	t.Parallel()

	job := postcard.SubJob{ClientID: "c1-client", WeatherText: "North: 10.5", ImageURL: "https://art.example/iiif/img42/full/843,/0/default.jpg"}
	env, err := NewSubJob(job, testNow)
	require.NoError(t, err)

	msg, err := Message(env)
	require.NoError(t, err)
	assert.Equal(t, "c1-client", string(msg.Key))
	assert.Equal(t, "application/json", HeaderValue(msg, HeaderContentType))
	assert.Equal(t, "1.0", HeaderValue(msg, HeaderSchemaVersion))
	assert.Equal(t, string(KindSubJob), HeaderValue(msg, HeaderMessageKind))

	decoded, err := Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, decoded.MessageID)
	assert.Equal(t, "2024-03-01T12:00:00Z", decoded.SubmittedAt)

	got, err := decoded.SubJob()
	require.NoError(t, err)
	assert.Equal(t, job, got)

	_, err = decoded.ClientIssued()
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestClientIssued(t *testing.T) {
	t.Parallel()

	env, err := NewClientIssued("c1-client", testNow)
	require.NoError(t, err)
	assert.Equal(t, KindClientIssued, env.Kind)
	assert.NotEmpty(t, env.MessageID)

	payload, err := env.ClientIssued()
	require.NoError(t, err)
	assert.Equal(t, "c1-client", payload.ClientID)

	_, err = NewClientIssued("  ", testNow)
	assert.Error(t, err)
}

func TestMessageIDsAreUnique(t *testing.T) {
	t.Parallel()

	a, err := NewClientIssued("c1-client", testNow)
	require.NoError(t, err)
	b, err := NewClientIssued("c1-client", testNow)
	require.NoError(t, err)
	assert.NotEqual(t, a.MessageID, b.MessageID)
}

func TestDecodeRejectsPoisonMessages(t *testing.T) {
	t.Parallel()

	valid := func() map[string]any {
		return map[string]any{
			"schema_version": "1.0",
			"message_id":     "m-1",
			"kind":           "client.issued",
			"client_id":      "c1-client",
			"submitted_at":   "2024-03-01T12:00:00Z",
			"payload":        map[string]any{"client_id": "c1-client"},
		}
	}

	tests := []struct {
		name   string
		mutate func(m map[string]any)
		raw    []byte
	}{
		{name: "empty", raw: []byte("  ")},
		{name: "not json", raw: []byte("{nope")},
		{name: "schema version", mutate: func(m map[string]any) { m["schema_version"] = "2.0" }},
		{name: "missing message id", mutate: func(m map[string]any) { delete(m, "message_id") }},
		{name: "unknown kind", mutate: func(m map[string]any) { m["kind"] = "postcard.other" }},
		{name: "missing client", mutate: func(m map[string]any) { m["client_id"] = "" }},
		{name: "bad timestamp", mutate: func(m map[string]any) { m["submitted_at"] = "yesterday" }},
		{name: "missing payload", mutate: func(m map[string]any) { delete(m, "payload") }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw := tt.raw
			if raw == nil {
				m := valid()
				tt.mutate(m)
				var err error
				raw, err = json.Marshal(m)
				require.NoError(t, err)
			}
			_, err := Decode(raw)
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}

func TestPayloadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    Kind
		payload string
	}{
		{name: "issued client mismatch", kind: KindClientIssued, payload: `{"client_id":"other"}`},
		{name: "issued unknown field", kind: KindClientIssued, payload: `{"client_id":"c1-client","extra":1}`},
		{name: "subjob client mismatch", kind: KindSubJob, payload: `{"client_id":"other","weather_text":"a: 1.0","image_url":"http://x"}`},
		{name: "subjob missing url", kind: KindSubJob, payload: `{"client_id":"c1-client","weather_text":"a: 1.0"}`},
		{name: "subjob missing text", kind: KindSubJob, payload: `{"client_id":"c1-client","image_url":"http://x"}`},
		{name: "subjob trailing data", kind: KindSubJob, payload: `{"client_id":"c1-client","weather_text":"a","image_url":"http://x"} {}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := Envelope{SchemaVersion: "1.0", MessageID: "m", Kind: tt.kind, ClientID: "c1-client", SubmittedAt: "2024-03-01T12:00:00Z", Payload: json.RawMessage(tt.payload)}
			var err error
			if tt.kind == KindClientIssued {
				_, err = env.ClientIssued()
			} else {
				_, err = env.SubJob()
			}
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}

func TestDeadLetter(t *testing.T) {
	t.Parallel()

	src := kafka.Message{
		Topic:     "postcards.subjobs.v1",
		Partition: 2,
		Offset:    41,
		Key:       []byte("c1-client"),
		Value:     []byte(`{"x":1}`),
		Headers:   []kafka.Header{{Key: HeaderMessageKind, Value: []byte("postcard.subjob")}},
	}

	dlq := DeadLetter(src, 3, errors.New("decode failed"), testNow)
	assert.Equal(t, "postcards.subjobs.v1.dlq", dlq.Topic)
	assert.Equal(t, src.Key, dlq.Key)
	assert.Equal(t, src.Value, dlq.Value)
	assert.Equal(t, "postcard.subjob", HeaderValue(dlq, HeaderMessageKind))
	assert.Equal(t, "decode failed", HeaderValue(dlq, HeaderError))
	assert.Equal(t, "3", HeaderValue(dlq, HeaderAttempts))
	assert.Equal(t, "postcards.subjobs.v1", HeaderValue(dlq, HeaderSourceTopic))
	assert.Zero(t, dlq.Partition)
	assert.Len(t, src.Headers, 1, "source headers must not be mutated")
}
