package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"FinRisk/internal/domain/models"
	domrepo "FinRisk/internal/domain/repository"
	pkgkafka "FinRisk/pkg/kafka"
)

// PositionApplier stores position and account updates.
type PositionApplier interface {
	Apply(u models.PositionUpdate) error
}

// KafkaPositionsHandler applies position feed messages to the position view.
// Messages are keyed by account, so one account's updates arrive in order.
type KafkaPositionsHandler struct {
	topic   string
	store   PositionApplier
	metrics domrepo.Metrics
}

func NewKafkaPositionsHandler(topic string, store PositionApplier, metrics domrepo.Metrics) *KafkaPositionsHandler {
	return &KafkaPositionsHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaPositionsHandler) Topic() string { return h.topic }

// incoming message schema: models.PositionUpdate
func (h *KafkaPositionsHandler) Handle(_ context.Context, b []byte) error {
	var u models.PositionUpdate
	if err := json.Unmarshal(b, &u); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode position update: %v: %w", err, pkgkafka.ErrPermanent)
	}
	if !u.Timestamp.IsZero() {
		h.metrics.RecordLatency("position_feed_lag_seconds", time.Since(u.Timestamp).Seconds())
	}
	if err := h.store.Apply(u); err != nil {
		h.metrics.RecordError("consumer_apply")
		if errors.Is(err, models.ErrInvalidInput) {
			return fmt.Errorf("%w: %w", err, pkgkafka.ErrPermanent)
		}
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaPositionsHandler)(nil)
