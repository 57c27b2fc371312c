package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel/trace"
)

// Event types
const (
	VideoCreated  = "video.created"
	VideoDeleted  = "video.deleted"
	CourseDeleted = "course.deleted"
)

// Event is a catalog change notification.
type Event struct {
	Type      string `json:"type"`
	CourseID  string `json:"courseId"`
	VideoID   string `json:"videoId,omitempty"`
	VideoKey  string `json:"videoKey,omitempty"`
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"traceId,omitempty"`
}

// Publisher delivers catalog events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// SQSAPI defines the SQS operations used by the publisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends events to an SQS queue.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
	log      *slog.Logger
}

// NewSQSPublisher creates an SQSPublisher.
func NewSQSPublisher(client SQSAPI, queueURL string, logger *slog.Logger) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		log:      logger,
	}
}

// Publish sends event as a JSON message with its type as a message attribute.
func (p *SQSPublisher) Publish(ctx context.Context, event Event) error {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Type),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send %s event: %w", event.Type, err)
	}

	p.log.DebugContext(ctx, "Event published", "type", event.Type, "courseId", event.CourseID)
	return nil
}

// NopPublisher drops every event. It is used when no queue is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
