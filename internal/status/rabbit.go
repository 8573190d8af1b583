package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrRequestTimeout means no reply arrived before the deadline.
	ErrRequestTimeout = errors.New("status request timed out")
	// ErrClientNotFound means the worker holds no status for the client.
	ErrClientNotFound = errors.New("client not found")
)

// DeclareRequestQueue declares the durable progress request queue.
func DeclareRequestQueue(ch *amqp.Channel, queue string, prefetch int) error {
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("rabbitmq qos setup failed: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq request queue declare failed: %w", err)
	}
	return nil
}

// Requester performs correlated request/reply progress checks.
type Requester struct {
	conn         *amqp.Connection
	requestQueue string
	timeout      time.Duration
	logger       *log.Logger
}

// NewRequester returns a Requester publishing to requestQueue. A nil logger
// discards output.
func NewRequester(conn *amqp.Connection, requestQueue string, timeout time.Duration, logger *log.Logger) *Requester {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Requester{conn: conn, requestQueue: requestQueue, timeout: timeout, logger: logger}
}

// Check publishes a request for clientID on a fresh channel and waits for
// the reply on an exclusive queue. Unknown clients return the reply
// together with ErrClientNotFound.
func (r *Requester) Check(parentCtx context.Context, clientID string) (ProgressCheckReply, error) {
	requestID := uuid.NewString()
	requestedAt := time.Now().UTC()

	body, err := json.Marshal(ProgressCheckRequest{
		ClientID:    clientID,
		RequestID:   requestID,
		RequestedAt: requestedAt.Format(time.RFC3339),
	})
	if err != nil {
		return ProgressCheckReply{}, fmt.Errorf("request payload encode failed: %w", err)
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return ProgressCheckReply{}, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}
	defer func() {
		if closeErr := ch.Close(); closeErr != nil {
			r.logger.Printf("status request channel close failed: %v", closeErr)
		}
	}()

	if err := DeclareRequestQueue(ch, r.requestQueue, 0); err != nil {
		return ProgressCheckReply{}, err
	}

	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return ProgressCheckReply{}, fmt.Errorf("reply queue declare failed: %w", err)
	}

	deliveries, err := ch.Consume(replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		return ProgressCheckReply{}, fmt.Errorf("reply consumer setup failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(parentCtx, r.timeout)
	defer cancel()

	if err := ch.PublishWithContext(ctx, "", r.requestQueue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: requestID,
		ReplyTo:       replyQueue.Name,
		Body:          body,
		Timestamp:     requestedAt,
	}); err != nil {
		return ProgressCheckReply{}, fmt.Errorf("status request publish failed: %w", err)
	}

	r.logger.Printf("status request published client_id=%s request_id=%s", clientID, requestID)
	return awaitReply(ctx, deliveries, requestID, r.logger)
}

// awaitReply returns the first delivery matching requestID.
func awaitReply(ctx context.Context, deliveries <-chan amqp.Delivery, requestID string, logger *log.Logger) (ProgressCheckReply, error) {
	for {
		select {
		case <-ctx.Done():
			return ProgressCheckReply{}, ErrRequestTimeout
		case d, ok := <-deliveries:
			if !ok {
				return ProgressCheckReply{}, errors.New("reply consumer closed")
			}
			if strings.TrimSpace(d.CorrelationId) != requestID {
				logger.Printf("ignoring mismatched correlation reply expected=%s got=%s", requestID, d.CorrelationId)
				continue
			}

			reply, err := DecodeReply(d.Body)
			if err != nil {
				return ProgressCheckReply{}, fmt.Errorf("invalid status reply payload: %w", err)
			}
			if strings.TrimSpace(reply.Timestamp) == "" {
				reply.Timestamp = time.Now().UTC().Format(time.RFC3339)
			}
			if reply.State == string(StateNotFound) {
				return reply, ErrClientNotFound
			}
			return reply, nil
		}
	}
}

// Reader reads client status snapshots.
type Reader interface {
	Get(ctx context.Context, clientID string) (Snapshot, bool, error)
}

// replyPublisher is the subset of *amqp.Channel used to send replies.
type replyPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Responder answers progress requests from a Reader.
type Responder struct {
	reader  Reader
	timeout time.Duration
	logger  *log.Logger
	now     func() time.Time
}

// NewResponder returns a Responder. A nil logger discards output.
func NewResponder(reader Reader, timeout time.Duration, logger *log.Logger) *Responder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Responder{reader: reader, timeout: timeout, logger: logger, now: time.Now}
}

// Handle validates one request delivery and publishes the correlated
// reply. It reports whether to ack and, if not, whether to requeue.
func (r *Responder) Handle(ctx context.Context, pub replyPublisher, d amqp.Delivery) (ack bool, requeue bool) {
	correlationID := strings.TrimSpace(d.CorrelationId)
	replyTo := strings.TrimSpace(d.ReplyTo)
	if correlationID == "" || replyTo == "" {
		r.logger.Printf(
			"dropping invalid progress request missing correlation_id/reply_to delivery_tag=%d correlation_id=%q reply_to=%q",
			d.DeliveryTag,
			correlationID,
			replyTo,
		)
		return true, false
	}

	req, err := DecodeRequest(d.Body)
	if err != nil {
		r.logger.Printf("dropping invalid progress request body correlation_id=%s err=%v", correlationID, err)
		return true, false
	}
	if req.RequestID != correlationID {
		r.logger.Printf("progress request correlation mismatch request_id=%s correlation_id=%s client_id=%s", req.RequestID, correlationID, req.ClientID)
	}

	requestCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snap, found, err := r.reader.Get(requestCtx, req.ClientID)
	if err != nil {
		r.logger.Printf("progress reply build failed correlation_id=%s client_id=%s err=%v", correlationID, req.ClientID, err)
		return false, true
	}
	reply := ReplyFromSnapshot(snap, found, r.now())

	body, err := json.Marshal(reply)
	if err != nil {
		r.logger.Printf("progress reply marshal failed correlation_id=%s client_id=%s err=%v", correlationID, req.ClientID, err)
		return true, false
	}

	if err := pub.PublishWithContext(requestCtx, "", replyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Body:          body,
		Timestamp:     r.now().UTC(),
	}); err != nil {
		r.logger.Printf("progress reply publish failed correlation_id=%s client_id=%s err=%v", correlationID, req.ClientID, err)
		return false, true
	}

	r.logger.Printf("progress reply published correlation_id=%s client_id=%s state=%s progress=%d", correlationID, reply.ClientID, reply.State, reply.ProgressPercent)
	return true, false
}
