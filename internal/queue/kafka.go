package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Header names set on every message.
const (
	HeaderContentType   = "content-type"
	HeaderSchemaVersion = "schema-version"
	HeaderMessageKind   = "message-kind"
	HeaderError         = "error"
	HeaderAttempts      = "attempts"
	HeaderSourceTopic   = "source-topic"
)

// Message frames an envelope for Kafka. The key is the client id so all of
// one client's messages land on the same partition.
func Message(env Envelope) (kafka.Message, error) {
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode envelope: %w", err)
	}
	return kafka.Message{
		Key:   []byte(env.ClientID),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderContentType, Value: []byte("application/json")},
			{Key: HeaderSchemaVersion, Value: []byte(env.SchemaVersion)},
			{Key: HeaderMessageKind, Value: []byte(env.Kind)},
		},
	}, nil
}

// DeadLetterTopic names the topic that receives messages from topic which
// exhausted their attempts.
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}

// DeadLetter copies msg for the dead-letter topic, recording why it was
// given up on.
func DeadLetter(msg kafka.Message, attempts int, cause error, at time.Time) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	headers = append(headers,
		kafka.Header{Key: HeaderError, Value: []byte(reason)},
		kafka.Header{Key: HeaderAttempts, Value: []byte(strconv.Itoa(attempts))},
		kafka.Header{Key: HeaderSourceTopic, Value: []byte(msg.Topic)},
	)
	return kafka.Message{
		Topic:   DeadLetterTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    at.UTC(),
	}
}

// HeaderValue returns the first header named key, or "".
func HeaderValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
