package runtime

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"

	"github.com/drblury/shopmesh/transport"
)

func TestStartRestartsLostListener(t *testing.T) {
	sub := &scriptedSubscriber{streams: []chan *message.Message{closedStream(), closedStream()}}
	svc := newTestService(t, nil, ServiceDependencies{
		Transport:      &transport.Transport{Publisher: &testPublisher{}, Subscriber: sub},
		RestartBackOff: backoff.NewConstantBackOff(time.Millisecond),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for sub.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 subscriptions, got %d", sub.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v after cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}

	if got := svc.Metrics().Snapshot().ListenerRestarts; got != 2 {
		t.Fatalf("expected 2 restarts, got %d", got)
	}
}

func TestStartKeepsRetryingUnreachableBus(t *testing.T) {
	sub := &scriptedSubscriber{err: io.ErrUnexpectedEOF}
	svc := newTestService(t, nil, ServiceDependencies{
		Transport:      &transport.Transport{Publisher: &testPublisher{}, Subscriber: sub},
		RestartBackOff: backoff.NewConstantBackOff(time.Millisecond),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if sub.calls.Load() < 2 {
		t.Fatalf("expected repeated subscribe attempts, got %d", sub.calls.Load())
	}
}

func TestStartServesHealthUntilCancelled(t *testing.T) {
	conf := newTestConfig()
	conf.HTTPAddr = freeAddr(t)
	svc := newTestService(t, conf, ServiceDependencies{
		Transport: &transport.Transport{Publisher: &testPublisher{}, Subscriber: &scriptedSubscriber{}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	url := "http://" + conf.HTTPAddr + HealthPath
	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		var err error
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health endpoint never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if _, err := http.Get(url); err == nil {
		t.Fatal("server still accepting connections after shutdown")
	}
}

func TestStartFailsOnPortConflict(t *testing.T) {
	first := newTestConfig()
	first.HTTPAddr = freeAddr(t)
	a := newTestService(t, first, ServiceDependencies{
		Transport: &transport.Transport{Publisher: &testPublisher{}, Subscriber: &scriptedSubscriber{}},
	})
	servers, err := a.startHTTPServers()
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	defer a.shutdownHTTPServers(servers)

	second := newTestConfig()
	second.HTTPAddr = first.HTTPAddr
	b := newTestService(t, second, ServiceDependencies{
		Transport: &transport.Transport{Publisher: &testPublisher{}, Subscriber: &scriptedSubscriber{}},
	})
	if err := b.Start(context.Background()); err == nil {
		t.Fatal("expected listen error for a taken address")
	}
}

func TestServeNeverSubscribes(t *testing.T) {
	conf := newTestConfig()
	conf.HTTPAddr = freeAddr(t)
	sub := &scriptedSubscriber{}
	svc := newTestService(t, conf, ServiceDependencies{
		Transport: &transport.Transport{Publisher: &testPublisher{}, Subscriber: sub},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + conf.HTTPAddr + HealthPath)
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health endpoint never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	if got := sub.calls.Load(); got != 0 {
		t.Fatalf("expected no subscriptions, got %d", got)
	}
}
