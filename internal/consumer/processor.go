// Package consumer reads published fittrack events from Kafka and projects them into read models.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Record headers written by the outbox dispatcher.
const (
	headerEventType     = "event_type"
	headerTenantID      = "tenant_id"
	headerSchemaSubject = "schema_subject"
	headerEventID       = "event_id"
)

// wireMagicByte prefixes every schema-registry framed value.
const wireMagicByte = 0

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// ErrPermanent marks handler failures that retrying cannot fix. Such messages
// are committed so they do not block the partition.
var ErrPermanent = errors.New("permanent handler failure")

// ErrRetriesExhausted stops Run when a transient failure outlasts the retry
// budget. Nothing past the failed offset has been committed, so a reader
// reopened in the same group receives the message again.
var ErrRetriesExhausted = errors.New("handler retries exhausted")

// Message is a decoded fittrack event.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Key           string
	Timestamp     time.Time
	EventID       int64
	EventType     string
	TenantID      string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetry sets how many times a transient handler failure is attempted
// before the message is left uncommitted, and the initial backoff between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Processor) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if backoff > 0 {
			p.backoff = backoff
		}
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader   Reader
	handler  Handler
	logger   *log.Logger
	attempts int
	backoff  time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		handler:  handler,
		logger:   log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		attempts: 3,
		backoff:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes messages until ctx is cancelled or a message exhausts its
// retries. Decoded messages are committed once handled or once the handler
// reports ErrPermanent.
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

		event, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			recordOutcome(Message{Topic: msg.Topic}, outcomeUndecodable)
			p.commit(ctx, msg, "decode failure")
			continue
		}

		handleErr := p.handle(ctx, event)
		switch {
		case handleErr == nil:
			if p.commit(ctx, msg, "") {
				recordOutcome(event, outcomeProcessed)
			}
		case errors.Is(handleErr, ErrPermanent):
			p.logger.Printf("skipping event %d (event_type=%s, offset=%d): %v", event.EventID, event.EventType, event.Offset, handleErr)
			recordOutcome(event, outcomeSkipped)
			p.commit(ctx, msg, "permanent failure")
		case errors.Is(handleErr, context.Canceled):
			return handleErr
		default:
			recordOutcome(event, outcomeHandlerError)
			return fmt.Errorf("%w (topic=%s, partition=%d, offset=%d, event_type=%s): %w",
				ErrRetriesExhausted, event.Topic, event.Partition, event.Offset, event.EventType, handleErr)
		}
	}
}

// handle retries transient failures with exponential backoff.
func (p *Processor) handle(ctx context.Context, event Message) error {
	delay := p.backoff
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		err = p.handler.Handle(ctx, event)
		if err == nil || errors.Is(err, ErrPermanent) || attempt == p.attempts {
			return err
		}
		handlerRetries.WithLabelValues(event.Topic).Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// RunSupervised runs a Processor over readers returned by open. After
// ErrRetriesExhausted the reader is closed and, once restartDelay has passed,
// reopened so the group resumes from its last committed offset. It returns
// when ctx is cancelled or open fails.
func RunSupervised(ctx context.Context, open func() (Reader, error), handler Handler, restartDelay time.Duration, opts ...Option) error {
	for {
		reader, err := open()
		if err != nil {
			return fmt.Errorf("open reader: %w", err)
		}
		proc := NewProcessor(reader, handler, opts...)
		runErr := proc.Run(ctx)
		if err := reader.Close(); err != nil {
			proc.logger.Printf("close reader: %v", err)
		}
		if !errors.Is(runErr, ErrRetriesExhausted) {
			return runErr
		}
		proc.logger.Printf("%v; reopening in %s", runErr, restartDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartDelay):
		}
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message, after string) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		if after != "" {
			p.logger.Printf("commit error after %s: %v", after, err)
		} else {
			p.logger.Printf("commit error: %v", err)
		}
		return false
	}
	return true
}

func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) < 5 {
		return Message{}, fmt.Errorf("invalid payload length: %d", len(msg.Value))
	}
	if msg.Value[0] != wireMagicByte {
		return Message{}, fmt.Errorf("unexpected magic byte %d", msg.Value[0])
	}

	eventType, ok := headerValue(msg, headerEventType)
	if !ok || len(eventType) == 0 {
		return Message{}, errors.New("missing event_type header")
	}
	tenantID, _ := headerValue(msg, headerTenantID)
	schemaSubject, _ := headerValue(msg, headerSchemaSubject)

	var eventID int64
	if raw, ok := headerValue(msg, headerEventID); ok {
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return Message{}, fmt.Errorf("invalid event_id header %q: %w", raw, err)
		}
		eventID = id
	}

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Key:           string(msg.Key),
		Timestamp:     msg.Time,
		EventID:       eventID,
		EventType:     string(eventType),
		TenantID:      string(tenantID),
		SchemaSubject: string(schemaSubject),
		SchemaID:      int(binary.BigEndian.Uint32(msg.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), msg.Value[5:]...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
