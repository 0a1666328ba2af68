package kafka

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// enqueueWait bounds how long Publish waits for buffer space.
const enqueueWait = 100 * time.Millisecond

// Producer buffers messages in memory and writes them from one goroutine,
// so publishing never blocks a request on the broker. When the buffer stays
// full the message is dropped and logged.
type Producer struct {
	w       MessageWriter
	log     *slog.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}
	wait    time.Duration

	mu      sync.RWMutex // guards closed and the inbox close
	closed  bool
	dropped atomic.Int64
}

func NewProducer(brokers []string, topic string, buf int, l *slog.Logger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}, buf, l)
}

func NewProducerWithWriter(w MessageWriter, buf int, l *slog.Logger) *Producer {
	if l == nil {
		l = slog.Default()
	}
	return &Producer{
		w:       w,
		log:     l,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		wait:    enqueueWait,
	}
}

// Start runs the write loop until Close is called. Messages still buffered
// at that point are flushed before the writer is closed.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			p.write(ctx, m)
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close failed", slog.Any("error", err))
		}
	}()
}

func (p *Producer) write(ctx context.Context, m kafka.Message) {
	// Detach from ctx so a shutdown still flushes, but bound each write.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(wctx, m); err != nil {
		p.log.Error("kafka publish failed",
			slog.String("key", string(m.Key)),
			slog.Any("error", err))
	}
}

// Publish enqueues a message. It gives up when ctx is done, when the buffer
// stays full for the enqueue wait, or after Close.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) {
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(m, "producer closed")
		return
	}
	select {
	case p.inbox <- m:
		return
	default:
	}

	t := time.NewTimer(p.wait)
	defer t.Stop()
	select {
	case p.inbox <- m:
	case <-ctx.Done():
		p.drop(m, "context done")
	case <-t.C:
		p.drop(m, "buffer full")
	}
}

func (p *Producer) drop(m kafka.Message, reason string) {
	p.dropped.Add(1)
	p.log.Error("kafka message dropped",
		slog.String("reason", reason),
		slog.String("key", string(m.Key)))
}

// Dropped counts messages Publish gave up on.
func (p *Producer) Dropped() int64 { return p.dropped.Load() }

// Close stops accepting messages; the loop flushes what is left and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// Wait until the loop has flushed and closed the writer.
func (p *Producer) WaitClosed() { <-p.closeCh }
