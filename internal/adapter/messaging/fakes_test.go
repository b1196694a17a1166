package messaging

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeBroker stands in for a cluster: writers append to topics, readers are
// fed explicitly by the test.
type fakeBroker struct {
	mu       sync.Mutex
	topics   map[string][]kafka.Message
	writers  map[string]int
	writeErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{topics: make(map[string][]kafka.Message), writers: make(map[string]int)}
}

func (b *fakeBroker) WriterFactory() WriterFactory {
	return func(topic string) Writer {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.writers[topic]++
		return &fakeWriter{broker: b, topic: topic}
	}
}

func (b *fakeBroker) messages(topic string) []kafka.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]kafka.Message(nil), b.topics[topic]...)
}

type fakeWriter struct {
	broker *fakeBroker
	topic  string
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.broker.mu.Lock()
	defer w.broker.mu.Unlock()
	if w.closed {
		return io.ErrClosedPipe
	}
	if w.broker.writeErr != nil {
		return w.broker.writeErr
	}
	for _, m := range msgs {
		if m.Topic != "" {
			return errors.New("kafka.(*Writer): Topic must not be specified for both Writer and Message")
		}
		m.Topic = w.topic
		m.Offset = int64(len(w.broker.topics[w.topic]))
		w.broker.topics[w.topic] = append(w.broker.topics[w.topic], m)
	}
	return nil
}

func (w *fakeWriter) Close() error {
	w.broker.mu.Lock()
	defer w.broker.mu.Unlock()
	w.closed = true
	return nil
}

type fakeReader struct {
	mu        sync.Mutex
	topic     string
	msgs      chan kafka.Message
	committed []int64
	closed    bool
	commitErr error
}

func newFakeReader(topic string, msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{topic: topic, msgs: make(chan kafka.Message, 1024)}
	for _, m := range msgs {
		r.push(m)
	}
	return r
}

func (r *fakeReader) push(m kafka.Message) {
	m.Topic = r.topic
	r.msgs <- m
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

// CommitMessages records the next offset to read, as Kafka does.
func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset+1)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// readerSet hands out prepared readers by topic and counts how many were built.
type readerSet struct {
	mu      sync.Mutex
	readers map[string]*fakeReader
	built   map[string]int
}

func newReaderSet(readers ...*fakeReader) *readerSet {
	s := &readerSet{readers: make(map[string]*fakeReader), built: make(map[string]int)}
	for _, r := range readers {
		s.readers[r.topic] = r
	}
	return s
}

func (s *readerSet) Factory() ReaderFactory {
	return func(topic string, cfg ConsumerConfig) Reader {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.built[topic]++
		r, ok := s.readers[topic]
		if !ok {
			r = newFakeReader(topic)
			s.readers[topic] = r
		}
		return r
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type failingPublisher struct{}

func (failingPublisher) Produce(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return errors.New("broker unreachable")
}
