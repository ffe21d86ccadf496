package runtime

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/shopmesh/internal/runtime/config"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
	"github.com/drblury/shopmesh/transport"
)

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type logRecorder struct {
	mu      sync.Mutex
	entries []logEntry
}

// recordingLogger keeps every entry so tests can assert on levels and fields.
type recordingLogger struct {
	rec  *logRecorder
	base loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{rec: &logRecorder{}}
}

func (l *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	return &recordingLogger{rec: l.rec, base: l.base.Add(fields)}
}

func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) { l.add("debug", msg, nil, fields) }
func (l *recordingLogger) Info(msg string, fields loggingpkg.LogFields)  { l.add("info", msg, nil, fields) }
func (l *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) { l.add("trace", msg, nil, fields) }

func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.add("error", msg, err, fields)
}

func (l *recordingLogger) add(level, msg string, err error, fields loggingpkg.LogFields) {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	l.rec.entries = append(l.rec.entries, logEntry{level: level, msg: msg, err: err, fields: l.base.Add(fields)})
}

func (l *recordingLogger) find(msg string) (logEntry, bool) {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	for _, e := range l.rec.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func (l *recordingLogger) count(level string) int {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	n := 0
	for _, e := range l.rec.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

type testPublisher struct {
	mu       sync.Mutex
	messages []*message.Message
	topics   []string
	err      error
	block    chan struct{}
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Messages() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages...)
}

// scriptedSubscriber hands out one prepared stream per Subscribe call. Once
// the script runs out, streams stay open until the subscriber's ctx ends.
type scriptedSubscriber struct {
	mu      sync.Mutex
	streams []chan *message.Message
	err     error
	calls   atomic.Int32
	closed  atomic.Bool
}

func (s *scriptedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) > 0 {
		next := s.streams[0]
		s.streams = s.streams[1:]
		return next, nil
	}
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *scriptedSubscriber) Close() error {
	s.closed.Store(true)
	return nil
}

func closedStream() chan *message.Message {
	ch := make(chan *message.Message)
	close(ch)
	return ch
}

// signalingSubscriber reports each successful Subscribe, so tests publish
// only once the listener is attached.
type signalingSubscriber struct {
	message.Subscriber
	subscribed chan struct{}
}

func (s *signalingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := s.Subscriber.Subscribe(ctx, topic)
	if err == nil {
		s.subscribed <- struct{}{}
	}
	return ch, err
}

func newTestConfig() *configpkg.Config {
	cfg := configpkg.Default()
	cfg.ServiceName = "cart-service"
	cfg.PubSubSystem = "channel"
	cfg.PublishTimeout = 200 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	cfg.HTTPAddr = "127.0.0.1:0"
	return &cfg
}

// channelTransport is an in-process medium plus a signal for every
// subscription the listener opens.
type channelTransport struct {
	pubSub     *gochannel.GoChannel
	subscribed chan struct{}
	transport  *transport.Transport
}

func newChannelTransport() *channelTransport {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	subscribed := make(chan struct{}, 8)
	return &channelTransport{
		pubSub:     pubSub,
		subscribed: subscribed,
		transport: &transport.Transport{
			Publisher:  pubSub,
			Subscriber: &signalingSubscriber{Subscriber: pubSub, subscribed: subscribed},
		},
	}
}

func (c *channelTransport) waitSubscribed(t *testing.T) {
	t.Helper()
	select {
	case <-c.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never subscribed")
	}
}

func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if conf == nil {
		conf = newTestConfig()
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	if deps.Transport == nil && deps.TransportFactory == nil {
		deps.Transport = newChannelTransport().transport
	}
	svc, err := NewService(context.Background(), conf, loggingpkg.Nop(), deps)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// runListener starts Listen in the background and returns a stop function
// that cancels it and returns Listen's result.
func runListener(t *testing.T, svc *Service) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Listen(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("listener did not stop")
			return nil
		}
	}
}

// deliveries collects hook callbacks on a channel.
func deliveries() (DeliveryHooks, chan DeliveryInfo) {
	ch := make(chan DeliveryInfo, 32)
	return DeliveryHooks{
		OnHandled: func(info DeliveryInfo) { ch <- info },
		OnDropped: func(info DeliveryInfo, _ error) { ch <- info },
	}, ch
}

func waitDelivery(t *testing.T, ch <-chan DeliveryInfo) DeliveryInfo {
	t.Helper()
	select {
	case info := <-ch:
		return info
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return DeliveryInfo{}
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.Fatalf("close: %v", err)
	}
	return addr
}
