// Package messaging bridges domain events to Kafka topics.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
)

// ErrProducerNotReady is returned for sends attempted after Close. It is
// not retried internally.
var ErrProducerNotReady = errors.New("producer not ready")

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type WriterFactory func(topic string) Writer

type ProducerConfig struct {
	Brokers         []string
	TransactionalID string
	MaxRetries      int
	InitialBackoff  time.Duration
}

// NewKafkaWriterFactory builds writers that wait for every in-sync replica and
// retry a bounded number of times. A nil message key falls back to
// round-robin partitioning.
func NewKafkaWriterFactory(cfg ProducerConfig) WriterFactory {
	return func(topic string) Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            cfg.MaxRetries,
			WriteBackoffMin:        cfg.InitialBackoff,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		}
	}
}

// session is the cached connection for one topic. Its mutex serialises
// transactions so their sequence numbers follow write order.
type session struct {
	mu     sync.Mutex
	topic  string
	writer Writer
	seq    uint64
	closed bool
}

// transaction buffers messages and writes them as one batch on commit.
// kafka-go has no broker-side transactions; the batch either fully goes
// through the writer or the caller sees the failure.
type transaction struct {
	s       *session
	id      string
	seq     uint64
	pending []kafka.Message
}

func (s *session) begin(transactionalID string) (*transaction, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrProducerNotReady
	}
	s.seq++
	return &transaction{s: s, id: transactionalID, seq: s.seq}, nil
}

func (tx *transaction) send(msg kafka.Message) {
	msg.Topic = ""
	msg.Headers = append(append([]kafka.Header(nil), msg.Headers...),
		kafka.Header{Key: HeaderTransactionalID, Value: []byte(tx.id)},
		kafka.Header{Key: HeaderTransactionSeq, Value: []byte(strconv.FormatUint(tx.seq, 10))},
	)
	tx.pending = append(tx.pending, msg)
}

func (tx *transaction) commit(ctx context.Context) error {
	defer tx.s.mu.Unlock()
	err := tx.s.writer.WriteMessages(ctx, tx.pending...)
	tx.pending = nil
	return err
}

// Producer owns one session per topic, created on first use and released
// on Close.
type Producer struct {
	mu              sync.Mutex
	sessions        map[string]*session
	newWriter       WriterFactory
	transactionalID string
	closed          bool
	log             *logrus.Logger
	metrics         *metrics.Metrics
}

func NewProducer(newWriter WriterFactory, transactionalID string, log *logrus.Logger, m *metrics.Metrics) *Producer {
	return &Producer{
		sessions:        make(map[string]*session),
		newWriter:       newWriter,
		transactionalID: transactionalID,
		log:             log,
		metrics:         m,
	}
}

// Produce delivers msgs to topic within one transactional scope. On failure
// nothing is retried here and the caller gets a delivery error.
func (p *Producer) Produce(ctx context.Context, topic string, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := p.begin(topic)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		tx.send(msg)
	}
	err = tx.commit(ctx)
	p.metrics.ObserveProduced(topic, err)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"topic":    topic,
			"messages": len(msgs),
			"txn_seq":  tx.seq,
			"error":    err,
		}).Error("transaction aborted")
		return domain.WrapDelivery(fmt.Sprintf("produce %d message(s) to %s", len(msgs), topic), err)
	}
	return nil
}

// Release closes the session of one topic. The next Produce to that topic
// opens a fresh one.
func (p *Producer) Release(topic string) error {
	p.mu.Lock()
	s, ok := p.sessions[topic]
	delete(p.sessions, topic)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return s.close()
}

// Close releases every session. In-flight transactions finish first.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sessions := p.sessions
	p.sessions = make(map[string]*session)
	p.mu.Unlock()

	var errs []error
	for topic, s := range sessions {
		if err := s.close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer for %s: %w", topic, err))
		}
	}
	p.log.WithField("sessions", len(sessions)).Info("producer closed")
	return errors.Join(errs...)
}

// begin opens a transaction on the topic's session. A session released
// between lookup and begin is dropped and replaced once.
func (p *Producer) begin(topic string) (*transaction, error) {
	s, err := p.acquire(topic)
	if err != nil {
		return nil, err
	}
	tx, err := s.begin(p.transactionalID)
	if !errors.Is(err, ErrProducerNotReady) {
		return tx, err
	}
	p.evict(topic, s)
	if s, err = p.acquire(topic); err != nil {
		return nil, err
	}
	return s.begin(p.transactionalID)
}

func (p *Producer) evict(topic string, s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions[topic] == s {
		delete(p.sessions, topic)
	}
}

func (p *Producer) acquire(topic string) (*session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProducerNotReady
	}
	if s, ok := p.sessions[topic]; ok {
		return s, nil
	}
	s := &session{topic: topic, writer: p.newWriter(topic)}
	p.sessions[topic] = s
	p.log.WithField("topic", topic).Debug("producer session opened")
	return s, nil
}

func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.writer.Close()
}
