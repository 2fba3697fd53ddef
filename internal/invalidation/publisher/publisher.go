// Package publisher sends invalidation events to Kafka.
package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/geotiff-overlay/internal/core/observability"
	"github.com/mohammed-shakir/geotiff-overlay/internal/invalidation"
)

// ErrQueueFull is returned when Publish would block.
var ErrQueueFull = errors.New("publisher: queue full")

type Publisher struct {
	topic  string
	logger *slog.Logger
	events chan invalidation.Event
	prod   sarama.AsyncProducer

	failed  atomic.Int64
	done    sync.WaitGroup
	stopped chan struct{}
}

func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	return cfg
}

func New(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	prod, err := sarama.NewAsyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("publisher: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, logger), nil
}

// NewWithProducer wraps an existing producer, which must return both
// successes and errors.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		logger:  logger,
		events:  make(chan invalidation.Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.fail("marshal", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(partitionKey(ev)),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	p.done.Add(2)
	go func() {
		defer p.done.Done()
		for err := range p.prod.Errors() {
			if err != nil {
				p.fail("produce", err)
			}
		}
	}()
	go func() {
		defer p.done.Done()
		for range p.prod.Successes() {
			obs.IncPublished("ok")
		}
	}()

	return p
}

// Publish validates ev and queues it without blocking.
func (p *Publisher) Publish(ev invalidation.Event) error {
	if err := ev.Validate(); err != nil {
		obs.IncPublished("invalid")
		return fmt.Errorf("publisher: %w", err)
	}
	select {
	case p.events <- ev:
		return nil
	default:
		obs.IncPublished("dropped")
		return ErrQueueFull
	}
}

// Close flushes queued events and reports whether any failed to send.
func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	p.done.Wait()
	if err != nil {
		return fmt.Errorf("publisher: close producer: %w", err)
	}
	if n := p.failed.Load(); n > 0 {
		return fmt.Errorf("publisher: %d event(s) not delivered", n)
	}
	return nil
}

func (p *Publisher) fail(kind string, err error) {
	p.failed.Add(1)
	obs.IncPublished("error")
	p.logger.Error("invalidation publish failed", "kind", kind, "err", err)
}

// partitionKey keeps events about the same target on one partition.
func partitionKey(ev invalidation.Event) string {
	switch {
	case ev.Source != "":
		return "source:" + ev.Source
	case ev.Layer != "":
		return "layer:" + ev.Layer
	default:
		return "area"
	}
}
