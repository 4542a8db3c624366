package events

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/Berto-e/spiderfy/internal/observability"
)

// Publisher ships layer events to Kafka off the request path. Publish
// never blocks: when the queue is full the event is dropped and
// counted, a replica that misses an event falls back to its memo TTL.
type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	log     zerolog.Logger
	stopped chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, log zerolog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newPublisherWith(prod, topic, queueSize, log), nil
}

func newPublisherWith(prod sarama.AsyncProducer, topic string, queueSize int, log zerolog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}

	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		log:     log,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncEventPublished("error")
				p.log.Error().Err(err).Str("layer", ev.Layer).Msg("marshal layer event")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Layer),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncEventPublished("ok")
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncEventPublished("error")
				p.log.Error().Err(err.Err).Msg("layer event producer error")
			}
		}
	}()

	return p
}

// Publish enqueues an event, dropping it when the queue is full.
func (p *Publisher) Publish(ev Event) {
	select {
	case p.events <- ev:
	default:
		observability.IncEventPublished("dropped")
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}

var global *Publisher

// InitGlobal installs a process-wide publisher. A nil global makes
// Publish a no-op, which is how single-replica deployments run.
func InitGlobal(p *Publisher) {
	global = p
}

func Publish(ev Event) {
	if global == nil {
		return
	}
	global.Publish(ev)
}

func CloseGlobal() error {
	if global == nil {
		return nil
	}
	return global.Close()
}
