package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/benwashere/swimfeed/internal/config"
	"github.com/benwashere/swimfeed/internal/events"
)

// fakeSession delivers a fixed set of payloads once, then blocks until
// ctx ends, simulating a healthy long-lived session.
type fakeSession struct {
	deliveries []Delivery
	connectErr error
	connected  int

	mu      sync.Mutex
	acked   int
	nacked  int
}

func (f *fakeSession) Connect(ctx context.Context, cfg config.BrokerConfig) error {
	f.connected++
	return f.connectErr
}

func (f *fakeSession) Receive(ctx context.Context, handle func(Delivery)) error {
	for _, d := range f.deliveries {
		d := d
		d.Ack = func() { f.mu.Lock(); f.acked++; f.mu.Unlock() }
		d.Nack = func() { f.mu.Lock(); f.nacked++; f.mu.Unlock() }
		handle(d)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeSession) Close() error { return nil }

func TestConsumerPublishesAndAcks(t *testing.T) {
	sess := &fakeSession{
		deliveries: []Delivery{
			{Topic: "swim.tais.zny", Payload: []byte("<a/>")},
			{Topic: "swim.tdes.zny", Payload: []byte("<b/>")},
		},
	}

	var mu sync.Mutex
	var published []events.RawMessage

	c := &Consumer{
		Name:    "test",
		Cfg:     config.BrokerConfig{ReconnectDelay: 10 * time.Millisecond},
		Session: sess,
		Publish: func(rm events.RawMessage) {
			mu.Lock()
			published = append(published, rm)
			mu.Unlock()
		},
		Log: logrus.NewEntry(logrus.New()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 2 {
		t.Fatalf("published %d messages, want 2", len(published))
	}
	if published[0].Service != events.ServiceTAIS {
		t.Errorf("published[0].Service = %v, want TAIS", published[0].Service)
	}
	if published[1].Service != events.ServiceTDES {
		t.Errorf("published[1].Service = %v, want TDES", published[1].Service)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.acked != 2 {
		t.Errorf("acked = %d, want 2", sess.acked)
	}
}

func TestConsumerFatalAfterMaxAttempts(t *testing.T) {
	sess := &fakeSession{connectErr: errors.New("tls handshake failed")}

	c := &Consumer{
		Name:    "test",
		Cfg:     config.BrokerConfig{ReconnectDelay: time.Millisecond, MaxAttempts: 3},
		Session: sess,
		Publish: func(events.RawMessage) {},
		Log:     logrus.NewEntry(logrus.New()),
	}

	err := c.Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want BrokerFatal")
	}
	if sess.connected != 3 {
		t.Errorf("connected %d times, want 3", sess.connected)
	}
}

func TestConsumerStopsOnCancel(t *testing.T) {
	sess := &fakeSession{}
	c := &Consumer{
		Name:    "test",
		Cfg:     config.BrokerConfig{ReconnectDelay: time.Millisecond},
		Session: sess,
		Publish: func(events.RawMessage) {},
		Log:     logrus.NewEntry(logrus.New()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancellation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}
