//go:build integration

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"

	"weather-postcard/internal/postcard"
)

func newBroker(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.1.7", redpanda.WithAutoCreateTopics())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)
	return broker
}

func TestSubJobBatchRoundTripsThroughKafka(t *testing.T) {
	broker := newBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	const topic = "postcards.subjobs.it"
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	t.Cleanup(func() { _ = writer.Close() })

	texts := []string{"North: 10.5", "South: 12.0", "East: 9.8"}
	msgs := make([]kafka.Message, 0, len(texts))
	for _, text := range texts {
		env, err := NewSubJob(postcard.SubJob{ClientID: "c1-client", WeatherText: text, ImageURL: "https://art.example/iiif/img/full/843,/0/default.jpg"}, time.Now())
		require.NoError(t, err)
		msg, err := Message(env)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}

	// Topic auto-creation can race the first write.
	require.Eventually(t, func() bool {
		return writer.WriteMessages(ctx, msgs...) == nil
	}, 30*time.Second, time.Second)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		GroupID:  "postcard-it",
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	t.Cleanup(func() { _ = reader.Close() })

	got := make([]string, 0, len(texts))
	partitions := map[int]bool{}
	for range texts {
		msg, err := reader.FetchMessage(ctx)
		require.NoError(t, err)
		env, err := Decode(msg.Value)
		require.NoError(t, err)
		job, err := env.SubJob()
		require.NoError(t, err)

		assert.Equal(t, "c1-client", string(msg.Key))
		assert.Equal(t, string(KindSubJob), HeaderValue(msg, HeaderMessageKind))
		got = append(got, job.WeatherText)
		partitions[msg.Partition] = true
		require.NoError(t, reader.CommitMessages(ctx, msg))
	}

	assert.Equal(t, texts, got)
	assert.Len(t, partitions, 1)
}
