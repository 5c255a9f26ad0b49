// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package events publishes newly discovered similarity links to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// EventLinkCreated is the only event type emitted today.
const EventLinkCreated = "link_created"

// LinkEvent describes one directed link: Source now lists Target as similar.
type LinkEvent struct {
	EventType        string    `json:"event_type"`
	RunID            string    `json:"run_id"`
	SourceID         string    `json:"source_id"`
	SourceName       string    `json:"source_name"`
	SourceExternalID string    `json:"source_external_id"`
	TargetID         string    `json:"target_id"`
	TargetName       string    `json:"target_name"`
	TargetExternalID string    `json:"target_external_id"`
	Coefficient      float64   `json:"coefficient"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewLinkEvent builds the event for a link from src to dst.
func NewLinkEvent(runID string, src, dst *types.CatalogRecord, coefficient float64) LinkEvent {
	return LinkEvent{
		EventType:        EventLinkCreated,
		RunID:            runID,
		SourceID:         src.ID,
		SourceName:       src.SourceName,
		SourceExternalID: src.ExternalID,
		TargetID:         dst.ID,
		TargetName:       dst.SourceName,
		TargetExternalID: dst.ExternalID,
		Coefficient:      coefficient,
	}
}

// Publisher emits link events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, events ...LinkEvent) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, ...LinkEvent) error { return nil }
func (Nop) Close() error { return nil }

// KafkaPublisher writes events to a Kafka topic keyed by source record id.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher returns a publisher for cfg.Topic on cfg.Brokers.
func NewKafkaPublisher(cfg types.EventsConfig, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{topic: cfg.Topic, logger: logger.Named("events")}
	// Async keeps WriteMessages from blocking a comparison worker for a
	// whole BatchTimeout; delivery results arrive in completed.
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion:             p.completed,
	}
	if cfg.SASLUsername != "" {
		p.writer.Transport = &kafka.Transport{
			SASL: plain.Mechanism{Username: cfg.SASLUsername, Password: cfg.SASLPassword},
		}
	}
	return p
}

// New returns a KafkaPublisher when cfg.Enabled, otherwise Nop.
func New(cfg types.EventsConfig, logger *zap.Logger) Publisher {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewKafkaPublisher(cfg, logger)
}

// Publish queues events for delivery in one batch. It returns once the
// messages are handed to the writer; delivery failures are logged.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...LinkEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := messages(p.topic, time.Now().UTC(), events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("publishing link events", zap.Int("count", len(events)), zap.Error(err))
		return fmt.Errorf("publishing %d link events: %w", len(events), err)
	}
	return nil
}

// completed receives the delivery result of every batch the writer sends.
func (p *KafkaPublisher) completed(msgs []kafka.Message, err error) {
	if err != nil {
		p.logger.Error("delivering link events", zap.Int("count", len(msgs)), zap.Error(err))
		return
	}
	p.logger.Debug("delivered link events", zap.Int("count", len(msgs)))
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func messages(topic string, now time.Time, events []LinkEvent) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encoding link event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   []byte(ev.SourceID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.EventType)},
				{Key: "source_name", Value: []byte(ev.SourceName)},
			},
		})
	}
	return msgs, nil
}
