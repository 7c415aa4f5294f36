package repository

import (
	"context"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
)

type topicPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher writes decision events keyed by account so one account's
// events stay in order on a single partition.
type KafkaEventPublisher struct {
	producer topicPublisher
	topic    string
}

func NewKafkaEventPublisher(producer topicPublisher, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.DecisionEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Account), ev)
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}

// KafkaAlertPublisher adapts a producer to the log collector, which publishes
// by message type. The type becomes the record key.
type KafkaAlertPublisher struct {
	producer topicPublisher
	topic    string
}

func NewKafkaAlertPublisher(producer topicPublisher, topic string) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{producer: producer, topic: topic}
}

func (p *KafkaAlertPublisher) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return p.producer.Publish(ctx, p.topic, []byte(msgType), payload)
}

var _ repository.EventPublisher = (*KafkaEventPublisher)(nil)
