package main

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"weather-postcard/internal/status"
)

// errDeliveriesClosed reports a broker-side end of the progress consumer.
var errDeliveriesClosed = errors.New("progress deliveries closed by broker")

// runProgressResponder answers progress checks from the api, opening a new
// channel whenever the broker drops the previous one.
func (w *worker) runProgressResponder(ctx context.Context) error {
	for ctx.Err() == nil {
		deliveries, err := w.openProgressConsumer()
		if err == nil {
			w.logger.Printf("progress responder consuming queue=%s tag=%s", w.cfg.progressRequestQueue, w.cfg.progressConsumerTag)
			err = w.serveProgress(ctx, deliveries)
		}
		if err == nil {
			return nil
		}

		w.logger.Printf("progress responder interrupted err=%v reconnect_in=%s", err, w.cfg.progressReconnectBackoff)
		if sleepWithContext(ctx, w.cfg.progressReconnectBackoff) != nil {
			break
		}
	}
	w.logger.Println("progress responder stopped")
	return nil
}

// openProgressConsumer replaces the worker's channel and starts a manual-ack
// consumer on the request queue.
func (w *worker) openProgressConsumer() (<-chan amqp.Delivery, error) {
	if w.rabbitConn == nil {
		return nil, errors.New("rabbitmq connection is not configured")
	}
	if w.rabbitChan != nil {
		if err := w.rabbitChan.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			w.logger.Printf("stale progress channel close failed: %v", err)
		}
	}

	ch, err := w.rabbitConn.Channel()
	if err != nil {
		return nil, fmt.Errorf("progress channel open: %w", err)
	}
	if err := status.DeclareRequestQueue(ch, w.cfg.progressRequestQueue, w.cfg.progressConsumerPrefetch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(w.cfg.progressRequestQueue, w.cfg.progressConsumerTag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("progress consume: %w", err)
	}
	w.rabbitChan = ch
	return deliveries, nil
}

// serveProgress settles deliveries until ctx ends (nil) or the broker closes
// the stream (errDeliveriesClosed).
func (w *worker) serveProgress(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			if err := w.rabbitChan.Cancel(w.cfg.progressConsumerTag, false); err != nil {
				w.logger.Printf("progress consumer cancel failed: %v", err)
			}
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errDeliveriesClosed
			}
			w.settleProgress(ctx, d)
		}
	}
}

// settleProgress replies to one request and acks or nacks it as the
// responder decides.
func (w *worker) settleProgress(ctx context.Context, d amqp.Delivery) {
	ack, requeue := w.responder.Handle(ctx, w.rabbitChan, d)
	w.metrics.recordProgressRequest(ack)

	var err error
	if ack {
		err = d.Ack(false)
	} else {
		err = d.Nack(false, requeue)
	}
	if err != nil {
		w.logger.Printf("progress request settle failed delivery_tag=%d ack=%t requeue=%t err=%v", d.DeliveryTag, ack, requeue, err)
	}
}
