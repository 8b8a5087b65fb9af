package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/segmentio/kafka-go"

	"example.com/casework/internal/engine"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Deliverer hands a decoded notification to its delivery channel.
type Deliverer interface {
	Deliver(context.Context, engine.Message) error
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls notification records from Kafka and dispatches them to
// the gateway. Delivery failures leave the offset uncommitted so the record
// is retried; undecodable records are committed to avoid poison-pill loops.
type Processor struct {
	reader    Reader
	deliverer Deliverer
	logger    *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and deliverer.
func NewProcessor(reader Reader, deliverer Deliverer, opts ...Option) *Processor {
	p := &Processor{
		reader:    reader,
		deliverer: deliverer,
		logger:    log.New(log.Writer(), "[notify] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes records until the context is
// cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		var notification engine.Message
		if decodeErr := json.Unmarshal(msg.Value, &notification); decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			decodeErrors.WithLabelValues(msg.Topic).Inc()
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if deliverErr := p.deliverer.Deliver(ctx, notification); deliverErr != nil {
			p.logger.Printf("delivery error (case=%s, template=%s): %v", notification.CaseID, notification.Template, deliverErr)
			deliveryFailures.WithLabelValues(msg.Topic).Inc()
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			delivered.WithLabelValues(msg.Topic).Inc()
		}
	}
}
