package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     *slog.Logger
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewProducer is fire-and-forget: Publish only queues, write errors are
// logged. Use it for notifications whose loss nobody has to recover from.
func NewProducer(brokers []string, topic string, buf int, log *slog.Logger) *Producer {
	log = log.With("topic", topic)
	w := newWriter(brokers, topic)
	w.Async = true // error dilaporkan lewat Completion
	w.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			log.Error("kafka write", "messages", len(msgs), "err", err)
		}
	}
	return &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log,
	}
}

// Start runs the loop that hands queued messages to the writer. When ctx is
// done it flushes what is left and closes the writer.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					p.closeWriter()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka enqueue", "key", string(m.Key), "err", err)
	}
}

func (p *Producer) drain() {
	for {
		select {
		case m, ok := <-p.inbox:
			if !ok {
				p.closeWriter()
				return
			}
			p.write(m)
		default:
			p.closeWriter()
			return
		}
	}
}

func (p *Producer) closeWriter() {
	if err := p.w.Close(); err != nil {
		p.log.Error("kafka writer close", "err", err)
	}
}

// Publish queues the message; it only fails when ctx ends first.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	select {
	case p.inbox <- message(key, value, headers):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tutup channel supaya goroutine nge-flush sisa pesan lalu exit rapi.
func (p *Producer) Close() { close(p.inbox) }

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }

// SyncProducer returns from Publish only once the brokers acknowledged the
// message, so the caller can refuse its own input when Kafka is down.
type SyncProducer struct {
	w *kafka.Writer
}

func NewSyncProducer(brokers []string, topic string) *SyncProducer {
	w := newWriter(brokers, topic)
	w.BatchTimeout = 10 * time.Millisecond // satu pesan per request; jangan tunggu batch 1s
	return &SyncProducer{w: w}
}

func (p *SyncProducer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	if err := p.w.WriteMessages(ctx, message(key, value, headers)); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.w.Topic, err)
	}
	return nil
}

func (p *SyncProducer) Close() error { return p.w.Close() }

func message(key, value []byte, headers []kafka.Header) kafka.Message {
	return kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}
