package outbox

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
)

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

// stubProducer records accepted batches. err fails every write; failTopics
// fails only the named topics.
type stubProducer struct {
	mu         sync.Mutex
	err        error
	failTopics map[string]error
	writes     []writtenBatch
}

func (p *stubProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failTopics[topic]; err != nil {
		return err
	}
	if p.err != nil {
		return p.err
	}
	p.writes = append(p.writes, writtenBatch{topic: topic, messages: append([]kafka.Message(nil), msgs...)})
	return nil
}

// stubRegistry hands out a fixed schema id and records the subjects it was asked for.
type stubRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []string
}

func (r *stubRegistry) EnsureSchema(_ context.Context, subject, _ string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, subject)
	if r.err != nil {
		return 0, r.err
	}
	return max(r.id, 1), nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
