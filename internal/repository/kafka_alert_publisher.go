package repository

import (
	"context"
	"fmt"

	"FinRisk/internal/domain/models"
	pkgkafka "FinRisk/pkg/kafka"
)

// KafkaAlertPublisher writes alerts as JSON keyed by account id, so alerts of
// one account stay on one partition in emission order.
type KafkaAlertPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaAlertPublisher(p *pkgkafka.Producer, topic string) *KafkaAlertPublisher {
	if topic == "" {
		topic = "risk.alerts"
	}
	return &KafkaAlertPublisher{producer: p, topic: topic}
}

func (k *KafkaAlertPublisher) PublishAlert(ctx context.Context, alert models.RiskAlert) error {
	if err := k.producer.Publish(ctx, k.topic, []byte(alert.AccountID), alert); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.ID, err)
	}
	return nil
}
