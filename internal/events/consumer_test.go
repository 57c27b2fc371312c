package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// mockQueue returns one scripted response per ReceiveMessage call, then
// blocks until the context is cancelled.
type mockQueue struct {
	mu       sync.Mutex
	batches  [][]types.Message
	errs     []error
	deleted  []string
	receives int
	drained  chan struct{}
}

func newMockQueue(batches ...[]types.Message) *mockQueue {
	return &mockQueue{batches: batches, drained: make(chan struct{}, 1)}
}

func (m *mockQueue) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	m.receives++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mu.Unlock()
		return nil, err
	}
	if len(m.batches) > 0 {
		batch := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	m.mu.Unlock()

	select {
	case m.drained <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *mockQueue) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func message(handle, body string) types.Message {
	return types.Message{
		MessageId:     aws.String("id-" + handle),
		ReceiptHandle: aws.String(handle),
		Body:          aws.String(body),
	}
}

// runUntilDrained runs c until every scripted batch was received and handled.
func runUntilDrained(t *testing.T, c *Consumer, q *mockQueue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	select {
	case <-q.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer never drained the queue")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConsumer_DeletesHandledAndMalformedMessages(t *testing.T) {
	q := newMockQueue([]types.Message{
		message("ok", `{"type":"video.created","courseId":"c1","videoId":"v1"}`),
		message("fail", `{"type":"video.deleted","courseId":"c1","videoKey":"videos/a.mp4"}`),
		message("garbage", `not json`),
		message("incomplete", `{"type":"video.created"}`),
	})

	var mu sync.Mutex
	var handled []Event
	handler := HandlerFunc(func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, e)
		if e.Type == VideoDeleted {
			return errors.New("s3 unavailable")
		}
		return nil
	})

	c := NewConsumer(ConsumerConfig{Client: q, QueueURL: "https://sqs.test/q", Handler: handler, Logger: testLogger()})
	runUntilDrained(t, c, q)

	if len(handled) != 2 {
		t.Errorf("handled %d events, want 2", len(handled))
	}

	deleted := make(map[string]bool)
	for _, h := range q.deleted {
		deleted[h] = true
	}
	for handle, want := range map[string]bool{"ok": true, "fail": false, "garbage": true, "incomplete": true} {
		if deleted[handle] != want {
			t.Errorf("message %q deleted = %v, want %v", handle, deleted[handle], want)
		}
	}
}

func TestConsumer_BacksOffOnReceiveError(t *testing.T) {
	q := newMockQueue([]types.Message{message("ok", `{"type":"course.deleted","courseId":"c1"}`)})
	q.errs = []error{errors.New("throttled")}

	var calls int
	var mu sync.Mutex
	c := NewConsumer(ConsumerConfig{
		Client:   q,
		QueueURL: "https://sqs.test/q",
		Handler: HandlerFunc(func(ctx context.Context, e Event) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return nil
		}),
		Logger: testLogger(),
	})
	c.backoff = time.Millisecond

	runUntilDrained(t, c, q)

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if q.receives < 3 {
		t.Errorf("receives = %d, want at least 3", q.receives)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    *string
		wantErr bool
	}{
		{"valid", aws.String(`{"type":"video.created","courseId":"c1"}`), false},
		{"nil body", nil, true},
		{"missing course", aws.String(`{"type":"video.created"}`), true},
		{"invalid json", aws.String(`{`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(types.Message{Body: tt.body})
			if (err != nil) != tt.wantErr {
				t.Errorf("decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("decode() error = %v, want ErrMalformedEvent", err)
			}
		})
	}
}
