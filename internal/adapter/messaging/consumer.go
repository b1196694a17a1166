package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/order-fulfillment/internal/metrics"
)

// ErrDeadLetterFailed stops a consumer: a message that could neither be
// handled nor parked would otherwise be lost.
var ErrDeadLetterFailed = errors.New("dead-letter publish failed")

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ReaderFactory func(topic string, cfg ConsumerConfig) Reader

// DeadLetterPublisher is satisfied by *Producer.
type DeadLetterPublisher interface {
	Produce(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// Handler processes one message. A returned error routes the message to the
// dead-letter topic.
type Handler func(ctx context.Context, msg kafka.Message) error

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	// PartitionWorkers > 1 handles partitions concurrently, each partition
	// still strictly in order.
	PartitionWorkers int
	MinBytes         int
	MaxBytes         int
}

// NewKafkaReaderFactory builds group readers that start at the latest offset
// when the group has no committed position. Offsets are committed
// synchronously by the consumer.
func NewKafkaReaderFactory() ReaderFactory {
	return func(topic string, cfg ConsumerConfig) Reader {
		minBytes, maxBytes := cfg.MinBytes, cfg.MaxBytes
		if minBytes <= 0 {
			minBytes = 1
		}
		if maxBytes <= 0 {
			maxBytes = 10e6
		}
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.GroupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    minBytes,
			MaxBytes:    maxBytes,
			MaxWait:     500 * time.Millisecond,
		})
	}
}

type ConsumerState int

const (
	StateUnsubscribed ConsumerState = iota
	StateSubscribed
	StateRunning
)

func (s ConsumerState) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	default:
		return "unsubscribed"
	}
}

type subscription struct {
	topic  string
	reader Reader
	state  ConsumerState
}

// Consumer owns one reader per topic. Each topic runs its own loop; the first
// fatal loop error cancels the others and is returned from Wait.
type Consumer struct {
	mu         sync.Mutex
	subs       map[string]*subscription
	newReader  ReaderFactory
	dlq        DeadLetterPublisher
	group      *errgroup.Group
	groupCtx   context.Context
	cancel     context.CancelFunc
	retryDelay time.Duration
	log        *logrus.Logger
	metrics    *metrics.Metrics
}

func NewConsumer(newReader ReaderFactory, dlq DeadLetterPublisher, log *logrus.Logger, m *metrics.Metrics) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	return &Consumer{
		subs:       make(map[string]*subscription),
		newReader:  newReader,
		dlq:        dlq,
		group:      group,
		groupCtx:   groupCtx,
		cancel:     cancel,
		retryDelay: time.Second,
		log:        log,
		metrics:    m,
	}
}

// Consume subscribes to every topic that has no reader yet and starts its
// loop. Topics already consumed are left alone. Loops stop when ctx or the
// consumer is done.
func (c *Consumer) Consume(ctx context.Context, topics []string, cfg ConsumerConfig, handler Handler) error {
	if handler == nil {
		return errors.New("consume: handler is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		return errors.New("consume: consumer closed")
	}

	for _, topic := range topics {
		if _, ok := c.subs[topic]; ok {
			continue
		}
		sub := &subscription{topic: topic, reader: c.newReader(topic, cfg), state: StateSubscribed}
		c.subs[topic] = sub
		c.log.WithFields(logrus.Fields{"topic": topic, "group": cfg.GroupID}).Info("subscribed")

		runCtx, cancel := context.WithCancel(c.groupCtx)
		stop := context.AfterFunc(ctx, cancel)
		workers := cfg.PartitionWorkers
		c.group.Go(func() error {
			defer stop()
			defer cancel()
			c.setState(sub, StateRunning)
			defer c.setState(sub, StateUnsubscribed)
			if workers > 1 {
				return c.runPartitioned(runCtx, sub, handler, workers)
			}
			return c.run(runCtx, sub, handler)
		})
	}
	return nil
}

// Wait blocks until every loop has stopped and returns the first fatal error.
func (c *Consumer) Wait() error {
	return c.group.Wait()
}

func (c *Consumer) States() map[string]ConsumerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ConsumerState, len(c.subs))
	for topic, sub := range c.subs {
		out[topic] = sub.state
	}
	return out
}

// Close stops all loops and disconnects every reader. Messages in flight are
// not committed and will be delivered again.
func (c *Consumer) Close() error {
	c.cancel()
	waitErr := c.group.Wait()

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	var errs []error
	for topic, sub := range subs {
		if err := sub.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader for %s: %w", topic, err))
		}
	}
	if waitErr != nil {
		errs = append(errs, waitErr)
	}
	c.log.WithField("readers", len(subs)).Info("consumer closed")
	return errors.Join(errs...)
}

func (c *Consumer) setState(sub *subscription, state ConsumerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub.state = state
}

func (c *Consumer) run(ctx context.Context, sub *subscription, handler Handler) error {
	for {
		msg, ok := c.fetch(ctx, sub)
		if !ok {
			return nil
		}
		if err := c.process(ctx, sub, msg, handler); err != nil {
			return err
		}
	}
}

// runPartitioned fans messages out to workers by partition so one partition
// is never handled by two workers.
func (c *Consumer) runPartitioned(ctx context.Context, sub *subscription, handler Handler, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	queues := make([]chan kafka.Message, workers)
	for i := range queues {
		queue := make(chan kafka.Message, 64)
		queues[i] = queue
		g.Go(func() error {
			for msg := range queue {
				if gctx.Err() != nil {
					return nil
				}
				if err := c.process(gctx, sub, msg, handler); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			msg, ok := c.fetch(gctx, sub)
			if !ok {
				return nil
			}
			select {
			case queues[msg.Partition%workers] <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}

// fetch returns false once the loop should stop. Transient read errors are
// logged and retried.
func (c *Consumer) fetch(ctx context.Context, sub *subscription) (kafka.Message, bool) {
	for {
		msg, err := sub.reader.FetchMessage(ctx)
		if err == nil {
			return msg, true
		}
		if ctx.Err() != nil || errors.Is(err, io.EOF) {
			return kafka.Message{}, false
		}
		c.log.WithFields(logrus.Fields{"topic": sub.topic, "error": err}).Warn("kafka read error")
		select {
		case <-ctx.Done():
			return kafka.Message{}, false
		case <-time.After(c.retryDelay):
		}
	}
}

// process runs the handler and commits the offset. A failed message is
// parked on the dead-letter topic before its offset is committed, so the
// partition keeps moving. A message interrupted by shutdown is neither
// parked nor committed and comes back on the next start.
func (c *Consumer) process(ctx context.Context, sub *subscription, msg kafka.Message, handler Handler) error {
	entry := c.log.WithFields(logrus.Fields{
		"topic":     sub.topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	herr := safeHandle(ctx, handler, msg)
	if herr != nil && ctx.Err() != nil {
		entry.WithField("error", herr).Info("handling interrupted by shutdown, message left for redelivery")
		return nil
	}
	c.metrics.ObserveConsumed(sub.topic, herr)
	if herr != nil {
		if msg.Topic == "" {
			msg.Topic = sub.topic
		}
		dlqTopic := DeadLetterTopic(sub.topic)
		if err := c.dlq.Produce(ctx, dlqTopic, deadLetter(msg, herr)); err != nil {
			entry.WithField("error", err).Error("dead-letter publish failed, stopping consumer")
			return fmt.Errorf("%w: %s[%d]@%d: %w", ErrDeadLetterFailed, sub.topic, msg.Partition, msg.Offset, err)
		}
		c.metrics.ObserveDeadLetter(sub.topic)
		entry.WithFields(logrus.Fields{"error": herr, "dlq": dlqTopic}).Warn("message dead-lettered")
	}

	if err := sub.reader.CommitMessages(ctx, msg); err != nil {
		entry.WithField("error", err).Warn("offset commit failed, message will be redelivered")
	}
	return nil
}

func safeHandle(ctx context.Context, handler Handler, msg kafka.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(ctx, msg)
}
