package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

func TestTickerRunsImmediatelyAndRepeats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs int32
	done := make(chan struct{})
	go func() {
		Ticker{
			Name:     "cycle",
			Interval: 10 * time.Millisecond,
			Logger:   zerolog.Nop(),
			Run: func(context.Context) error {
				if atomic.AddInt32(&runs, 1) == 3 {
					cancel()
				}
				return errors.New("store unavailable")
			},
		}.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop after cancel")
	}
	if n := atomic.LoadInt32(&runs); n != 3 {
		t.Fatalf("runs = %d, want 3", n)
	}
}

func TestTickerSkipsRunWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	Ticker{Interval: time.Hour, Logger: zerolog.Nop(), Run: func(context.Context) error {
		called = true
		return nil
	}}.Start(ctx)
	if called {
		t.Fatal("run called with cancelled context")
	}
}

type ackCall struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ackCall{tag: tag, ack: true})
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ackCall{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func TestHandleAcksAfterCycle(t *testing.T) {
	ack := &fakeAcknowledger{}
	ran := 0
	d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`{"job_id":"j1"}`)}
	handle(context.Background(), d, func(context.Context) error { ran++; return nil }, zerolog.Nop())

	if ran != 1 {
		t.Fatalf("cycles = %d", ran)
	}
	if len(ack.calls) != 1 || !ack.calls[0].ack || ack.calls[0].tag != 7 {
		t.Fatalf("calls = %+v", ack.calls)
	}
}

func TestHandleRequeuesFailedCycleOnce(t *testing.T) {
	failing := func(context.Context) error { return errors.New("claim images: connection refused") }

	ack := &fakeAcknowledger{}
	handle(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}, failing, zerolog.Nop())
	handle(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Redelivered: true}, failing, zerolog.Nop())

	want := []ackCall{{tag: 1, requeue: true}, {tag: 2, requeue: false}}
	if len(ack.calls) != len(want) {
		t.Fatalf("calls = %+v", ack.calls)
	}
	for i := range want {
		if ack.calls[i] != want[i] {
			t.Fatalf("call %d = %+v, want %+v", i, ack.calls[i], want[i])
		}
	}
}

func TestHandleAcceptsEmptyBody(t *testing.T) {
	ack := &fakeAcknowledger{}
	handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("not json")}, func(context.Context) error { return nil }, zerolog.Nop())
	if len(ack.calls) != 1 || !ack.calls[0].ack {
		t.Fatalf("calls = %+v", ack.calls)
	}
}

func TestConsumeStopsOnClosedChannel(t *testing.T) {
	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2}
	close(deliveries)

	runs := 0
	err := consume(context.Background(), deliveries, func(context.Context) error { runs++; return nil }, zerolog.Nop())
	if !errors.Is(err, errDeliveriesClosed) {
		t.Fatalf("err = %v", err)
	}
	if runs != 2 || len(ack.calls) != 2 {
		t.Fatalf("runs = %d, acks = %d", runs, len(ack.calls))
	}
}

func TestConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := consume(ctx, make(chan amqp.Delivery), func(context.Context) error { return nil }, zerolog.Nop()); err != nil {
		t.Fatalf("err = %v", err)
	}
}
