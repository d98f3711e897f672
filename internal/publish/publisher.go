// Package publish emits fired signals and resolved outcomes to downstream
// consumers. The Kafka publisher is optional; the engine defaults to the
// no-op publisher.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/quantfold/confluence/internal/domain/forwardtest"
)

// Publisher is the narrow contract the engine calls after state changes.
type Publisher interface {
	PublishSignal(ctx context.Context, sig forwardtest.Signal) error
	PublishOutcome(ctx context.Context, out forwardtest.Outcome) error
	Close() error
}

// Nop discards all events.
type Nop struct{}

func (Nop) PublishSignal(context.Context, forwardtest.Signal) error   { return nil }
func (Nop) PublishOutcome(context.Context, forwardtest.Outcome) error { return nil }
func (Nop) Close() error                                              { return nil }

// KafkaConfig configures the event writer.
type KafkaConfig struct {
	Brokers      []string
	SignalTopic  string
	OutcomeTopic string
	WriteTimeout time.Duration
}

// KafkaPublisher writes JSON events keyed by instrument (signals) or
// signal ID (outcomes) so per-key ordering is preserved.
type KafkaPublisher struct {
	writer       *kafka.Writer
	signalTopic  string
	outcomeTopic string
}

// NewKafkaPublisher builds a publisher over the given brokers.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &KafkaPublisher{
		writer:       writer,
		signalTopic:  cfg.SignalTopic,
		outcomeTopic: cfg.OutcomeTopic,
	}, nil
}

func (p *KafkaPublisher) publish(ctx context.Context, topic string, key []byte, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) PublishSignal(ctx context.Context, sig forwardtest.Signal) error {
	return p.publish(ctx, p.signalTopic, []byte(sig.Instrument), sig)
}

func (p *KafkaPublisher) PublishOutcome(ctx context.Context, out forwardtest.Outcome) error {
	return p.publish(ctx, p.outcomeTopic, []byte(out.SignalID), out)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
