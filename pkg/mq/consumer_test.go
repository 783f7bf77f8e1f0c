package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type ackRecord struct {
	acked   bool
	nacked  bool
	requeue bool
}

type fakeAcknowledger struct {
	rec ackRecord
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.rec.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.rec.nacked = true
	f.rec.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.rec.nacked = true
	f.rec.requeue = requeue
	return nil
}

type memRetryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	fail   bool
}

func newMemRetryCounter() *memRetryCounter {
	return &memRetryCounter{counts: map[string]int64{}}
}

func (m *memRetryCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	if m.fail {
		return 0, errors.New("redis down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memRetryCounter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	return nil
}

func deliver(t *testing.T, c *Consumer, body string) (Outcome, ackRecord) {
	t.Helper()
	ack := &fakeAcknowledger{}
	d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body), RoutingKey: "user_followed"}
	out := c.process(context.Background(), d)
	return out, ack.rec
}

func testConsumer(t *testing.T, retries RetryCounter, h Handler) *Consumer {
	c := newConsumer(nil, ConsumerConfig{Queue: "notification.events.q", MaxRedeliveries: 2}, retries, zaptest.NewLogger(t))
	c.SetHandler(h)
	return c
}

func TestProcessAcksOnSuccess(t *testing.T) {
	c := testConsumer(t, newMemRetryCounter(), func(context.Context, amqp.Delivery) error { return nil })
	out, rec := deliver(t, c, `{}`)
	if out != OutcomeAck || !rec.acked || rec.nacked {
		t.Fatalf("outcome=%s rec=%+v", out, rec)
	}
}

func TestProcessNilHandlerAcks(t *testing.T) {
	c := testConsumer(t, nil, nil)
	if out, rec := deliver(t, c, `{}`); out != OutcomeAck || !rec.acked {
		t.Fatalf("outcome=%s rec=%+v", out, rec)
	}
}

func TestProcessPermanentDeadLetters(t *testing.T) {
	c := testConsumer(t, newMemRetryCounter(), func(context.Context, amqp.Delivery) error {
		return Permanent(errors.New("bad payload"))
	})
	out, rec := deliver(t, c, `{}`)
	if out != OutcomeDeadLetter || !rec.nacked || rec.requeue {
		t.Fatalf("outcome=%s rec=%+v", out, rec)
	}
}

func TestProcessRetriesThenDeadLetters(t *testing.T) {
	retries := newMemRetryCounter()
	c := testConsumer(t, retries, func(context.Context, amqp.Delivery) error {
		return errors.New("db unavailable")
	})

	for i := 0; i < 2; i++ {
		out, rec := deliver(t, c, `{"event":"user_followed"}`)
		if out != OutcomeRequeue || !rec.requeue {
			t.Fatalf("attempt %d: outcome=%s rec=%+v", i+1, out, rec)
		}
	}
	out, rec := deliver(t, c, `{"event":"user_followed"}`)
	if out != OutcomeDeadLetter || rec.requeue {
		t.Fatalf("final attempt: outcome=%s rec=%+v", out, rec)
	}
	if len(retries.counts) != 0 {
		t.Fatalf("counter must be reset after dead-lettering, got %v", retries.counts)
	}
}

func TestProcessCounterUnavailableRequeues(t *testing.T) {
	retries := newMemRetryCounter()
	retries.fail = true
	c := testConsumer(t, retries, func(context.Context, amqp.Delivery) error { return errors.New("timeout") })

	for i := 0; i < 5; i++ {
		if out, _ := deliver(t, c, `{}`); out != OutcomeRequeue {
			t.Fatalf("attempt %d: outcome=%s", i+1, out)
		}
	}
}

func TestProcessRecoversPanic(t *testing.T) {
	c := testConsumer(t, newMemRetryCounter(), func(context.Context, amqp.Delivery) error {
		panic("nil map")
	})
	out, rec := deliver(t, c, `{}`)
	if out != OutcomeRequeue || !rec.requeue {
		t.Fatalf("panic should requeue, outcome=%s rec=%+v", out, rec)
	}
}

func TestRouterDispatch(t *testing.T) {
	r := NewRouter(zap.NewNop())
	var got string
	r.Register("user_followed", func(_ context.Context, data json.RawMessage) error {
		got = string(data)
		return nil
	})
	r.Register("boom", func(context.Context, json.RawMessage) error { panic("boom") })

	if err := r.Handle(context.Background(), "user_followed", json.RawMessage(`{"a":1}`)); err != nil || got != `{"a":1}` {
		t.Fatalf("err=%v got=%s", err, got)
	}
	if err := r.Handle(context.Background(), "story_viewed", nil); err != nil {
		t.Fatalf("unknown events are ignored, got %v", err)
	}
	if err := r.Handle(context.Background(), "boom", nil); err == nil {
		t.Fatal("panic must surface as an error")
	}
	if len(r.Events()) != 2 {
		t.Fatalf("events = %v", r.Events())
	}
}

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("x")
	err := Permanent(base)
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Fatal("Permanent must wrap")
	}
	if Permanent(nil) != nil || IsPermanent(base) {
		t.Fatal("nil stays nil and plain errors are not permanent")
	}
}
