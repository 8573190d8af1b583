package main

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"weather-postcard/internal/blobstore"
	"weather-postcard/internal/manifest"
	"weather-postcard/internal/queue"
)

// handleClientIssued is the fan-out stage: it turns one issued identifier
// into N SubJobs published in a single batch.
func (w *worker) handleClientIssued(ctx context.Context, env queue.Envelope) error {
	payload, err := env.ClientIssued()
	if err != nil {
		return err
	}

	jobs, err := w.dispatch.Dispatch(ctx, payload.ClientID)
	if err != nil {
		return err
	}

	now := w.now()
	msgs := make([]kafka.Message, 0, len(jobs))
	for _, job := range jobs {
		subEnv, err := queue.NewSubJob(job, now)
		if err != nil {
			return fmt.Errorf("build subjob envelope: %w", err)
		}
		msg, err := queue.Message(subEnv)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := w.subJobs.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d subjobs client_id=%s: %w", len(msgs), payload.ClientID, err)
	}
	w.metrics.subJobsPublished.Add(float64(len(msgs)))
	w.logger.Printf("fan-out published client_id=%s subjobs=%d topic=%s", payload.ClientID, len(msgs), w.cfg.subJobsTopic)

	w.recordStatus(ctx, payload.ClientID, func(ctx context.Context) error {
		return w.status.RecordDispatched(ctx, payload.ClientID, len(jobs))
	})
	return nil
}

// handleSubJob is the annotate-and-store stage for one SubJob.
func (w *worker) handleSubJob(ctx context.Context, env queue.Envelope) error {
	job, err := env.SubJob()
	if err != nil {
		return err
	}

	png, err := w.annotator.Annotate(ctx, job.ImageURL, job.WeatherText)
	if err != nil {
		return err
	}

	name, err := w.images.Store(ctx, job.ClientID, png)
	if err != nil {
		return err
	}
	w.metrics.imagesStored.Inc()
	w.logger.Printf("postcard completed client_id=%s object=%s message_id=%s", job.ClientID, name, env.MessageID)

	w.recordStatus(ctx, job.ClientID, func(ctx context.Context) error {
		return w.status.RecordStored(ctx, job.ClientID)
	})
	w.recordManifest(ctx, env, job.WeatherText, job.ImageURL, name)
	return nil
}

// recordManifest writes the best-effort manifest entry for a stored image.
func (w *worker) recordManifest(ctx context.Context, env queue.Envelope, weatherText, imageURL, objectName string) {
	if w.manifest == nil {
		return
	}
	container, err := blobstore.ContainerName(env.ClientID)
	if err != nil {
		container = env.ClientID
	}
	rec := manifest.NewRecord(env.ClientID, container, objectName, weatherText, imageURL, env.MessageID, w.now())

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.commitTimeout)
	defer cancel()

	inserted, err := w.manifest.Upsert(writeCtx, rec)
	switch {
	case err != nil:
		w.metrics.manifestWrites.WithLabelValues("failed").Inc()
		w.logger.Printf("manifest write failed client_id=%s object=%s err=%v", env.ClientID, objectName, err)
	case inserted:
		w.metrics.manifestWrites.WithLabelValues("inserted").Inc()
		w.logger.Printf("manifest inserted client_id=%s object=%s", env.ClientID, objectName)
	default:
		w.metrics.manifestWrites.WithLabelValues("replayed").Inc()
		w.logger.Printf("manifest already exists (idempotent replay) client_id=%s object=%s", env.ClientID, objectName)
	}
}
