package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/lms-catalog/internal/metrics"
)

// SQS polling constants
const (
	SQSMaxMessages       = 10
	SQSWaitTimeSeconds   = 20
	SQSVisibilityTimeout = 120
	RetryBackoffPeriod   = 5 * time.Second
	DefaultMaxConcurrent = 4
)

// ErrMalformedEvent marks a message that can never be handled.
var ErrMalformedEvent = errors.New("malformed event")

var tracer = otel.Tracer("lms-events")

// Handler processes a received event. A returned error leaves the message
// on the queue for redelivery.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// ConsumerAPI defines the SQS operations used by the consumer.
type ConsumerAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ConsumerConfig holds consumer dependencies.
type ConsumerConfig struct {
	Client        ConsumerAPI
	QueueURL      string
	Handler       Handler
	MaxConcurrent int
	Logger        *slog.Logger
}

// Consumer polls an SQS queue and hands each event to a Handler.
type Consumer struct {
	client        ConsumerAPI
	queueURL      string
	handler       Handler
	maxConcurrent int
	backoff       time.Duration
	log           *slog.Logger
}

// NewConsumer creates a Consumer.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		client:        cfg.Client,
		queueURL:      cfg.QueueURL,
		handler:       cfg.Handler,
		maxConcurrent: maxConcurrent,
		backoff:       RetryBackoffPeriod,
		log:           log,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight events.
func (c *Consumer) Run(ctx context.Context) {
	c.log.InfoContext(ctx, "Starting queue polling",
		"queueURL", c.queueURL,
		"maxConcurrent", c.maxConcurrent,
	)

	sem := make(chan struct{}, c.maxConcurrent)
	var wg sync.WaitGroup
	defer func() {
		c.log.InfoContext(ctx, "Waiting for in-progress events to complete...")
		wg.Wait()
		c.log.InfoContext(ctx, "All events handled, shutting down")
	}()

	for ctx.Err() == nil {
		result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.queueURL),
			MaxNumberOfMessages:   int32(min(c.maxConcurrent, SQSMaxMessages)),
			WaitTimeSeconds:       SQSWaitTimeSeconds,
			VisibilityTimeout:     SQSVisibilityTimeout,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.ErrorContext(ctx, "Failed to receive messages", "error", err)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
			}
			continue
		}

		for _, msg := range result.Messages {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(msg types.Message) {
				defer wg.Done()
				defer func() { <-sem }()

				metrics.ActiveEvents.Inc()
				defer metrics.ActiveEvents.Dec()

				// finish the event even when shutdown starts mid-way
				c.handleMessage(context.WithoutCancel(ctx), msg)
			}(msg)
		}
	}
}

// handleMessage decodes and handles msg, deleting it unless it should be
// redelivered.
func (c *Consumer) handleMessage(ctx context.Context, msg types.Message) {
	ctx, span := tracer.Start(ctx, "handle-event")
	defer span.End()

	event, err := decode(msg)
	if err == nil {
		span.SetAttributes(
			attribute.String("event.type", event.Type),
			attribute.String("course.id", event.CourseID),
		)
		err = c.handler.Handle(ctx, event)
	}
	metrics.RecordEvent(event.Type, err)

	switch {
	case errors.Is(err, ErrMalformedEvent):
		c.log.WarnContext(ctx, "Dropping malformed event",
			"messageId", aws.ToString(msg.MessageId),
			"error", err,
		)
	case err != nil:
		span.RecordError(err)
		c.log.ErrorContext(ctx, "Failed to handle event",
			"type", event.Type,
			"courseId", event.CourseID,
			"messageId", aws.ToString(msg.MessageId),
			"error", err,
		)
		return
	}

	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		c.log.ErrorContext(ctx, "Failed to delete message", "error", err)
	}
}

// decode parses the JSON body of msg into an Event.
func decode(msg types.Message) (Event, error) {
	var event Event
	if msg.Body == nil {
		return event, fmt.Errorf("%w: empty message body", ErrMalformedEvent)
	}
	if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
		return event, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.Type == "" || event.CourseID == "" {
		return event, fmt.Errorf("%w: type and courseId are required", ErrMalformedEvent)
	}
	return event, nil
}
