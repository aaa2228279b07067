package kafka

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	log     *slog.Logger
	// backoff for a failing message; the message is retried until it
	// succeeds or ctx is done
	newBackOff func() backoff.BackOff
}

func NewConsumer(brokers []string, group, topic string, workers int, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log.With("group", group, "topic", topic))
}

func newConsumer(r reader, workers int, log *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, newBackOff: retryBackOff}
}

func retryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // tidak pernah menyerah
	return b
}

// Start reads until ctx is done. Messages with the same key always go to the
// same worker, so outcomes for one payment are handled in partition order.
// A failing message is retried in place; the committed offset of a
// partition never moves past a message that has not succeeded.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	offs := newOffsets()
	var wg sync.WaitGroup

	// workers
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if ctx.Err() != nil {
					continue // shutdown: sisa pesan dibaca ulang setelah restart
				}
				if err := c.handle(ctx, h, m); err != nil {
					continue
				}
				if err := offs.complete(m, func(last kafka.Message) error {
					return c.r.CommitMessages(ctx, last)
				}); err != nil && ctx.Err() == nil {
					c.log.Error("commit", "partition", m.Partition, "offset", m.Offset, "err", err)
				}
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	// dispatcher loop
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			// kecilkan noise saat shutdown
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		offs.track(m)
		select {
		case jobs[workerFor(m.Key, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle runs h until it succeeds. It only gives up when ctx is done.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return h(ctx, m)
	}, backoff.WithContext(c.newBackOff(), ctx), func(err error, wait time.Duration) {
		c.log.Warn("handler failed, retrying",
			"partition", m.Partition, "offset", m.Offset, "attempt", attempt, "wait", wait, "err", err)
	})
}

// offsets tracks fetched messages per partition in fetch order. A message
// is committed only once it and every message fetched before it on its
// partition have been handled.
type offsets struct {
	mu    sync.Mutex
	parts map[int]*partition
}

type partition struct {
	pending []kafka.Message
	done    map[int64]bool
}

func newOffsets() *offsets {
	return &offsets{parts: map[int]*partition{}}
}

func (o *offsets) track(m kafka.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.parts[m.Partition]
	if p == nil {
		p = &partition{done: map[int64]bool{}}
		o.parts[m.Partition] = p
	}
	p.pending = append(p.pending, m)
}

// complete marks m handled and calls commit with the highest message of
// the partition that can now be committed, if any. commit runs under the
// lock so commits of one partition never go backwards.
func (o *offsets) complete(m kafka.Message, commit func(kafka.Message) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.parts[m.Partition]
	if p == nil {
		return nil
	}
	p.done[m.Offset] = true

	n := 0
	for n < len(p.pending) && p.done[p.pending[n].Offset] {
		delete(p.done, p.pending[n].Offset)
		n++
	}
	if n == 0 {
		return nil
	}
	last := p.pending[n-1]
	p.pending = p.pending[n:]
	return commit(last)
}

func workerFor(key []byte, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
