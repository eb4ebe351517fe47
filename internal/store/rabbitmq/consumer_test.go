package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
	"github.com/suPer8Hu/chat-orchestrator/internal/persist"
)

func TestAttemptOf(t *testing.T) {
	cases := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"missing", nil, 1},
		{"int32", amqp.Table{attemptHeader: int32(3)}, 3},
		{"int64", amqp.Table{attemptHeader: int64(4)}, 4},
		{"wrong type", amqp.Table{attemptHeader: "2"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := attemptOf(amqp.Delivery{Headers: tc.headers}); got != tc.want {
				t.Fatalf("attemptOf = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestQueueNames(t *testing.T) {
	if got := RetryQueue("chat_persist_jobs"); got != "chat_persist_jobs.retry" {
		t.Fatalf("retry queue = %s", got)
	}
	if got := DeadQueue("chat_persist_jobs"); got != "chat_persist_jobs.dlq" {
		t.Fatalf("dead queue = %s", got)
	}
}

type ackRecorder struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.acked++
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type retryRecorder struct {
	err      error
	attempts []int
	ids      []string
}

func (r *retryRecorder) publishRetry(ctx context.Context, body []byte, attempt int, msgID string) error {
	r.attempts = append(r.attempts, attempt)
	r.ids = append(r.ids, msgID)
	return r.err
}

func jobDelivery(t *testing.T, ack amqp.Acknowledger, attempt int32) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(persist.Job{
		Turn: memory.Turn{
			TurnID:      "01J9ZK3Y8Q5W6E7R8T9Y0U1I2O",
			CustomerKey: "60123456789",
			SessionID:   "11111111-2222-3333-4444-555555555555",
			UserText:    "hi",
			AnswerText:  "hello",
			CreatedAt:   time.Now().UTC(),
		},
		TurnIndex: 1,
	})
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	return amqp.Delivery{
		Acknowledger: ack,
		MessageId:    "01J9ZK3Y8Q5W6E7R8T9Y0U1I2O",
		Headers:      amqp.Table{attemptHeader: attempt},
		Body:         body,
	}
}

func TestConsumer_Routing(t *testing.T) {
	failing := func(ctx context.Context, job persist.Job) error { return errors.New("db down") }
	ok := func(ctx context.Context, job persist.Job) error { return nil }

	cases := []struct {
		name       string
		handler    JobHandler
		attempt    int32
		publishErr error
		body       []byte
		wantAck    int
		wantNack   int
		requeue    bool
		wantRetry  []int
	}{
		{name: "success acks", handler: ok, attempt: 1, wantAck: 1},
		{name: "failure parks a retry", handler: failing, attempt: 2, wantAck: 1, wantRetry: []int{3}},
		{name: "last attempt dead-letters", handler: failing, attempt: 5, wantNack: 1},
		{name: "retry publish failure requeues", handler: failing, attempt: 1, publishErr: errors.New("closed"), wantNack: 1, requeue: true, wantRetry: []int{2}},
		{name: "bad body dead-letters", handler: ok, attempt: 1, body: []byte("{not json"), wantNack: 1},
		{name: "invalid job dead-letters", handler: ok, attempt: 1, body: []byte(`{"turn":{"turn_id":"x"}}`), wantNack: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retry := &retryRecorder{err: tc.publishErr}
			c := newConsumer(ConsumerConfig{Queue: "jobs", MaxAttempts: 5, JobTimeout: time.Second}, tc.handler)
			c.retry = retry

			ack := &ackRecorder{}
			d := jobDelivery(t, ack, tc.attempt)
			if tc.body != nil {
				d.Body = tc.body
			}
			c.handle(0, d)

			if ack.acked != tc.wantAck || ack.nacked != tc.wantNack {
				t.Fatalf("acked=%d nacked=%d, want %d/%d", ack.acked, ack.nacked, tc.wantAck, tc.wantNack)
			}
			if ack.nacked > 0 && ack.requeue != tc.requeue {
				t.Fatalf("requeue = %v, want %v", ack.requeue, tc.requeue)
			}
			if len(retry.attempts) != len(tc.wantRetry) {
				t.Fatalf("retries = %v, want %v", retry.attempts, tc.wantRetry)
			}
			for i, a := range tc.wantRetry {
				if retry.attempts[i] != a || retry.ids[i] != d.MessageId {
					t.Fatalf("retry %d = attempt %d id %q", i, retry.attempts[i], retry.ids[i])
				}
			}
		})
	}
}

func TestConsumer_NoRetrierDeadLetters(t *testing.T) {
	c := newConsumer(ConsumerConfig{Queue: "jobs", MaxAttempts: 5}, func(ctx context.Context, job persist.Job) error {
		return errors.New("boom")
	})
	ack := &ackRecorder{}
	c.handle(0, jobDelivery(t, ack, 1))
	if ack.nacked != 1 || ack.requeue {
		t.Fatalf("expected a dead-letter nack, got acked=%d nacked=%d requeue=%v", ack.acked, ack.nacked, ack.requeue)
	}
}

func TestConsumer_HandlerGetsDeadline(t *testing.T) {
	var deadline bool
	c := newConsumer(ConsumerConfig{Queue: "jobs", MaxAttempts: 5, JobTimeout: time.Second}, func(ctx context.Context, job persist.Job) error {
		_, deadline = ctx.Deadline()
		return nil
	})
	c.handle(0, jobDelivery(t, &ackRecorder{}, 1))
	if !deadline {
		t.Fatalf("job context should carry the job timeout")
	}
}
