package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinRisk/internal/domain/models"
	pkgkafka "FinRisk/pkg/kafka"
	"FinRisk/pkg/metrics"
)

type fakeApplier struct {
	updates []models.PositionUpdate
	err     error
}

func (f *fakeApplier) Apply(u models.PositionUpdate) error {
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, u)
	return nil
}

func TestKafkaPositionsHandler_AppliesUpdate(t *testing.T) {
	store := &fakeApplier{}
	h := NewKafkaPositionsHandler("risk.positions", store, metrics.Nop{})
	assert.Equal(t, "risk.positions", h.Topic())

	err := h.Handle(context.Background(), []byte(`{"account_id":"acct-1","position":{"symbol":"AAPL","quantity":100,"avg_entry_price":150}}`))
	require.NoError(t, err)
	require.Len(t, store.updates, 1)
	assert.Equal(t, "acct-1", store.updates[0].AccountID)
	assert.InDelta(t, 100, store.updates[0].Position.Quantity, 1e-12)
}

func TestKafkaPositionsHandler_Errors(t *testing.T) {
	t.Run("malformed json is permanent", func(t *testing.T) {
		h := NewKafkaPositionsHandler("risk.positions", &fakeApplier{}, metrics.Nop{})
		err := h.Handle(context.Background(), []byte(`{not json`))
		assert.ErrorIs(t, err, pkgkafka.ErrPermanent)
	})
	t.Run("invalid update is permanent", func(t *testing.T) {
		h := NewKafkaPositionsHandler("risk.positions", &fakeApplier{err: models.ErrInvalidInput}, metrics.Nop{})
		err := h.Handle(context.Background(), []byte(`{"account_id":""}`))
		assert.ErrorIs(t, err, pkgkafka.ErrPermanent)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
	t.Run("store failure is retryable", func(t *testing.T) {
		h := NewKafkaPositionsHandler("risk.positions", &fakeApplier{err: errors.New("disk full")}, metrics.Nop{})
		err := h.Handle(context.Background(), []byte(`{"account_id":"acct-1"}`))
		require.Error(t, err)
		assert.NotErrorIs(t, err, pkgkafka.ErrPermanent)
	})
}
