// Package notify moves rendered notification messages from the engine to
// the delivery gateway through Kafka. The API publishes to per-kind topics;
// the notifier binary consumes them and calls the gateway.
package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	"example.com/casework/internal/engine"
)

// Topic names for the two message kinds.
const (
	TopicEmail = "case_notifications_email"
	TopicSMS   = "case_notifications_sms"
)

// Producer publishes engine messages to the per-kind Kafka topics, lazily
// creating one writer per topic.
type Producer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewProducer creates a Producer for the given brokers.
func NewProducer(brokers []string) *Producer {
	return &Producer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// Publish writes every message to its kind's topic, keyed by case id so one
// case's notifications stay ordered within a partition.
func (p *Producer) Publish(ctx context.Context, msgs []engine.Message) error {
	byTopic := make(map[string][]kafka.Message)
	for _, m := range msgs {
		topic := TopicEmail
		if m.Kind == engine.MessageSMS {
			topic = TopicSMS
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return err
		}
		byTopic[topic] = append(byTopic[topic], kafka.Message{
			Key:   []byte(m.CaseID),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "template", Value: []byte(m.Template)},
			},
		})
	}

	for topic, batch := range byTopic {
		if err := p.writerForTopic(topic).WriteMessages(ctx, batch...); err != nil {
			publishFailures.WithLabelValues(topic).Inc()
			return err
		}
		published.WithLabelValues(topic).Add(float64(len(batch)))
	}
	return nil
}

func (p *Producer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
